// Package swapchain owns the presentable images of a surface together with
// the per-image depth buffers, views, framebuffers and the render pass that
// targets them.
package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/logging"
)

var (
	ErrNoSurfaceFormats  = errors.New("surface reports no formats")
	ErrUnsupportedFormat = errors.New("no supported depth format")
	ErrAcquireFailed     = errors.New("failed to acquire swapchain image")
	ErrSubmitFailed      = errors.New("failed to submit frame")
	ErrPresentFailed     = errors.New("failed to present swapchain image")
	ErrFormatChanged     = errors.New("swapchain image or depth format has changed")

	// ErrZeroExtent is returned while the surface has no area, usually because
	// the window is minimized. Nothing is created; retry after window events.
	ErrZeroExtent = errors.New("surface extent is zero")
)

var depthCandidates = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

type Options struct {
	// PreferLowLatency selects mailbox presentation when the surface offers it.
	PreferLowLatency bool
	Logger           *slog.Logger
}

// ImageSlot is everything bound to one presentable image.
type ImageSlot struct {
	ColorImage  device.Image
	ColorView   device.ImageView
	DepthImage  device.Image
	DepthView   device.ImageView
	Framebuffer device.Framebuffer
}

type Chain struct {
	ctx    device.Context
	logger *slog.Logger

	swapchain      device.Swapchain
	images         []ImageSlot
	imagesInFlight []device.Fence
	renderPass     device.RenderPass

	colorFormat core1_0.Format
	colorSpace  khr_surface.ColorSpace
	depthFormat core1_0.Format
	presentMode khr_surface.PresentMode
	extent      core1_0.Extent2D
}

// New builds a chain for a window of the given drawable size. When previous
// is not nil its swapchain is handed to the presentation engine as the one
// being replaced; the caller still owns previous and must destroy it once the
// device is idle.
func New(ctx device.Context, windowExtent core1_0.Extent2D, previous *Chain, opts Options) (*Chain, error) {
	c := &Chain{
		ctx:    ctx,
		logger: logging.OrNop(opts.Logger),
	}

	err := c.init(windowExtent, previous, opts)
	if err != nil {
		c.Destroy()
		return nil, err
	}

	c.logger.Debug("created swapchain",
		slog.Int("Images", len(c.images)),
		slog.Int("Width", c.extent.Width),
		slog.Int("Height", c.extent.Height),
		slog.Any("PresentMode", c.presentMode))
	return c, nil
}

func (c *Chain) init(windowExtent core1_0.Extent2D, previous *Chain, opts Options) error {
	support, err := c.ctx.SurfaceSupport()
	if err != nil {
		return errors.Wrap(err, "query surface support")
	}
	if len(support.Formats) == 0 {
		return ErrNoSurfaceFormats
	}

	surfaceFormat := chooseSurfaceFormat(support.Formats)
	c.colorFormat = surfaceFormat.Format
	c.colorSpace = surfaceFormat.ColorSpace
	c.presentMode = choosePresentMode(support.PresentModes, opts.PreferLowLatency)
	c.extent = chooseExtent(support.Capabilities, windowExtent)
	if c.extent.Width == 0 || c.extent.Height == 0 {
		return errors.Wrapf(ErrZeroExtent, "surface extent %dx%d", c.extent.Width, c.extent.Height)
	}

	c.depthFormat, err = findDepthFormat(c.ctx)
	if err != nil {
		return err
	}

	info := device.SwapchainCreateInfo{
		MinImageCount: imageCount(support.Capabilities),
		Format:        c.colorFormat,
		ColorSpace:    c.colorSpace,
		Extent:        c.extent,
		PresentMode:   c.presentMode,
		PreTransform:  support.Capabilities.CurrentTransform,
	}
	if previous != nil {
		info.Old = previous.swapchain
	}

	c.swapchain, err = c.ctx.CreateSwapchain(info)
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}

	err = c.createImageViews()
	if err != nil {
		return err
	}

	err = c.createRenderPass()
	if err != nil {
		return err
	}

	err = c.createDepthResources()
	if err != nil {
		return err
	}

	err = c.createFramebuffers()
	if err != nil {
		return err
	}

	c.imagesInFlight = make([]device.Fence, len(c.images))
	return nil
}

func (c *Chain) createImageViews() error {
	for _, image := range c.swapchain.Images() {
		view, err := c.ctx.CreateImageView(image, c.colorFormat, core1_0.ImageAspectColor)
		if err != nil {
			return errors.Wrap(err, "create swapchain image view")
		}

		c.images = append(c.images, ImageSlot{ColorImage: image, ColorView: view})
	}

	return nil
}

func (c *Chain) createRenderPass() error {
	renderPass, err := c.ctx.CreateRenderPass(core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         c.colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         c.depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	c.renderPass = renderPass
	return nil
}

func (c *Chain) createDepthResources() error {
	for i := range c.images {
		image, err := c.ctx.CreateImage(device.ImageCreateInfo{
			Extent:           c.extent,
			Format:           c.depthFormat,
			Tiling:           core1_0.ImageTilingOptimal,
			Usage:            core1_0.ImageUsageDepthStencilAttachment,
			MemoryProperties: core1_0.MemoryPropertyDeviceLocal,
		})
		if err != nil {
			return errors.Wrap(err, "create depth image")
		}
		c.images[i].DepthImage = image

		view, err := c.ctx.CreateImageView(image, c.depthFormat, core1_0.ImageAspectDepth)
		if err != nil {
			return errors.Wrap(err, "create depth image view")
		}
		c.images[i].DepthView = view
	}

	return nil
}

func (c *Chain) createFramebuffers() error {
	for i := range c.images {
		framebuffer, err := c.ctx.CreateFramebuffer(c.renderPass, []device.ImageView{
			c.images[i].ColorView,
			c.images[i].DepthView,
		}, c.extent)
		if err != nil {
			return errors.Wrap(err, "create framebuffer")
		}

		c.images[i].Framebuffer = framebuffer
	}

	return nil
}

// AcquireNextImage waits for the slot's previous submission to finish and
// then requests the next image. On ResultStale no image was acquired.
func (c *Chain) AcquireNextImage(slot *FrameSlot) (int, device.Result, error) {
	err := slot.InFlight.Wait()
	if err != nil {
		return 0, device.ResultOK, errors.Wrap(err, "wait for frame fence")
	}

	imageIndex, result, err := c.swapchain.AcquireNextImage(slot.ImageAvailable)
	if err != nil {
		return 0, result, errors.Mark(errors.Wrap(err, "acquire next image"), ErrAcquireFailed)
	}
	if result == device.ResultStale {
		return 0, result, nil
	}
	if imageIndex < 0 || imageIndex >= len(c.images) {
		return 0, result, errors.Mark(errors.Newf("presentation engine returned image %d of %d", imageIndex, len(c.images)), ErrAcquireFailed)
	}

	return imageIndex, result, nil
}

// SubmitAndPresent submits the slot's command buffer against imageIndex and
// queues the image for presentation. Any earlier frame still rendering to the
// same image is waited on first.
func (c *Chain) SubmitAndPresent(slot *FrameSlot, imageIndex int) (device.Result, error) {
	if imageIndex < 0 || imageIndex >= len(c.images) {
		return device.ResultOK, errors.AssertionFailedf("submit to image %d of %d", imageIndex, len(c.images))
	}

	if owner := c.imagesInFlight[imageIndex]; owner != nil {
		err := owner.Wait()
		if err != nil {
			return device.ResultOK, errors.Wrap(err, "wait for image fence")
		}
	}
	c.imagesInFlight[imageIndex] = slot.InFlight

	err := slot.InFlight.Reset()
	if err != nil {
		return device.ResultOK, errors.Wrap(err, "reset frame fence")
	}

	err = c.ctx.Submit(device.SubmitInfo{
		CommandBuffer: slot.CommandBuffer,
		Wait:          slot.ImageAvailable,
		WaitStage:     core1_0.PipelineStageColorAttachmentOutput,
		Signal:        slot.RenderFinished,
		Fence:         slot.InFlight,
	})
	if err != nil {
		return device.ResultOK, errors.Mark(errors.Wrap(err, "submit draw command buffer"), ErrSubmitFailed)
	}

	result, err := c.swapchain.Present(imageIndex, slot.RenderFinished)
	if err != nil {
		return result, errors.Mark(errors.Wrap(err, "present"), ErrPresentFailed)
	}

	return result, nil
}

// CompareFormats reports whether other renders with the same color and depth formats.
func (c *Chain) CompareFormats(other *Chain) bool {
	return c.colorFormat == other.colorFormat && c.depthFormat == other.depthFormat
}

func (c *Chain) ImageCount() int                      { return len(c.images) }
func (c *Chain) Image(i int) ImageSlot                { return c.images[i] }
func (c *Chain) Framebuffer(i int) device.Framebuffer { return c.images[i].Framebuffer }
func (c *Chain) RenderPass() device.RenderPass        { return c.renderPass }
func (c *Chain) Extent() core1_0.Extent2D             { return c.extent }
func (c *Chain) ColorFormat() core1_0.Format          { return c.colorFormat }
func (c *Chain) ColorSpace() khr_surface.ColorSpace   { return c.colorSpace }
func (c *Chain) DepthFormat() core1_0.Format          { return c.depthFormat }
func (c *Chain) PresentMode() khr_surface.PresentMode { return c.presentMode }

func (c *Chain) AspectRatio() float32 {
	return float32(c.extent.Width) / float32(c.extent.Height)
}

// Destroy releases everything the chain created. The caller guarantees the
// device no longer uses any of it.
func (c *Chain) Destroy() {
	for _, image := range c.images {
		if image.Framebuffer != nil {
			image.Framebuffer.Destroy()
		}
		if image.DepthView != nil {
			image.DepthView.Destroy()
		}
		if image.DepthImage != nil {
			image.DepthImage.Destroy()
		}
		if image.ColorView != nil {
			image.ColorView.Destroy()
		}
	}
	c.images = nil
	c.imagesInFlight = nil

	if c.renderPass != nil {
		c.renderPass.Destroy()
		c.renderPass = nil
	}

	if c.swapchain != nil {
		c.swapchain.Destroy()
		c.swapchain = nil
	}
}

func chooseSurfaceFormat(availableFormats []khr_surface.Format) khr_surface.Format {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

func choosePresentMode(availablePresentModes []khr_surface.PresentMode, preferLowLatency bool) khr_surface.PresentMode {
	if preferLowLatency {
		for _, presentMode := range availablePresentModes {
			if presentMode == khr_surface.PresentModeMailbox {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

func chooseExtent(capabilities *khr_surface.Capabilities, windowExtent core1_0.Extent2D) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := windowExtent.Width
	height := windowExtent.Height

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

func imageCount(capabilities *khr_surface.Capabilities) int {
	count := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < count {
		count = capabilities.MaxImageCount
	}
	return count
}

func findDepthFormat(ctx device.Context) (core1_0.Format, error) {
	for _, format := range depthCandidates {
		if ctx.SupportsFormat(format, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment) {
			return format, nil
		}
	}

	return 0, errors.Wrapf(ErrUnsupportedFormat, "tried %v", depthCandidates)
}
