// Package renderer paces frames: it decides which frame slot and which
// swapchain image are active, brackets command recording and render passes,
// and rebuilds the swapchain when the surface changes.
package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/logging"
	"github.com/iliadengine/iliad/internal/swapchain"
)

// DefaultFramesInFlight is how many frames the CPU may record ahead of the GPU.
const DefaultFramesInFlight = 2

var DefaultClearColor = [4]float32{0.1, 0.1, 0.1, 1}

var (
	ErrFrameInProgress    = errors.New("frame already in progress")
	ErrNoFrameInProgress  = errors.New("no frame in progress")
	ErrWrongCommandBuffer = errors.New("command buffer does not belong to the current frame")

	// ErrFormatChanged is returned when a rebuilt swapchain no longer renders
	// with the formats pipelines were created against.
	ErrFormatChanged = swapchain.ErrFormatChanged
)

// Host is the window the renderer presents to.
type Host interface {
	// Extent is the current drawable size in pixels.
	Extent() core1_0.Extent2D
	WasResized() bool
	ResetResized()
	// WaitEvents blocks until the window receives at least one event.
	WaitEvents() error
}

type Options struct {
	FramesInFlight   int
	PreferLowLatency bool
	ClearColor       [4]float32
	Logger           *slog.Logger
}

type Renderer struct {
	ctx    device.Context
	host   Host
	logger *slog.Logger
	opts   Options

	chain *swapchain.Chain
	slots []*swapchain.FrameSlot

	currentFrame int
	imageIndex   int
	started      bool
}

func New(ctx device.Context, host Host, opts Options) (*Renderer, error) {
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = DefaultFramesInFlight
	}
	if opts.ClearColor == [4]float32{} {
		opts.ClearColor = DefaultClearColor
	}
	if opts.FramesInFlight < 0 {
		return nil, errors.Mark(errors.Newf("%d frames in flight", opts.FramesInFlight), device.ErrInvalidArgument)
	}

	r := &Renderer{
		ctx:    ctx,
		host:   host,
		logger: logging.OrNop(opts.Logger),
		opts:   opts,
	}

	var err error
	r.slots, err = swapchain.NewFrameSlots(ctx, opts.FramesInFlight)
	if err != nil {
		return nil, err
	}

	err = r.recreate()
	if err != nil {
		swapchain.DestroyFrameSlots(ctx, r.slots)
		return nil, err
	}

	return r, nil
}

// recreate builds a chain for the current window size, replacing the current
// one. It waits out minimization, whether the window or the surface reports
// it, and never destroys the old chain before the device is idle.
func (r *Renderer) recreate() error {
	var extent core1_0.Extent2D
	var chain *swapchain.Chain
	previous := r.chain

	for chain == nil {
		extent = r.host.Extent()
		for extent.Width == 0 || extent.Height == 0 {
			err := r.host.WaitEvents()
			if err != nil {
				return err
			}
			extent = r.host.Extent()
		}

		err := r.ctx.WaitIdle()
		if err != nil {
			return errors.Wrap(err, "wait for device idle")
		}

		chain, err = swapchain.New(r.ctx, extent, previous, swapchain.Options{
			PreferLowLatency: r.opts.PreferLowLatency,
			Logger:           r.logger,
		})
		if errors.Is(err, swapchain.ErrZeroExtent) {
			r.logger.Debug("surface has no area, waiting for window events")
			err = r.host.WaitEvents()
			if err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, "recreate swapchain")
		}
	}
	r.chain = chain

	if previous == nil {
		return nil
	}

	previous.Destroy()
	if !previous.CompareFormats(chain) {
		return errors.Mark(errors.Newf("swapchain formats changed from %s/%s to %s/%s",
			previous.ColorFormat(), previous.DepthFormat(), chain.ColorFormat(), chain.DepthFormat()), ErrFormatChanged)
	}

	r.logger.Info("recreated swapchain", slog.Int("Width", extent.Width), slog.Int("Height", extent.Height))
	return nil
}

// BeginFrame acquires the next image and starts recording the frame's command
// buffer. A nil buffer with a nil error means the swapchain was rebuilt and
// the caller should skip this frame.
func (r *Renderer) BeginFrame() (device.CommandBuffer, error) {
	if r.started {
		return nil, errors.Mark(errors.AssertionFailedf("can't begin a frame while one is already in progress"), ErrFrameInProgress)
	}

	slot := r.slots[r.currentFrame]
	imageIndex, result, err := r.chain.AcquireNextImage(slot)
	if err != nil {
		return nil, err
	}
	if result == device.ResultStale {
		return nil, r.recreate()
	}
	r.imageIndex = imageIndex

	err = slot.CommandBuffer.Reset()
	if err != nil {
		return nil, errors.Wrap(err, "reset command buffer")
	}

	err = slot.CommandBuffer.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "begin recording command buffer")
	}

	r.started = true
	return slot.CommandBuffer, nil
}

// EndFrame finishes recording, submits and presents the frame, and rebuilds
// the swapchain if presentation or the window asked for it. The renderer
// moves on to the next frame slot even when EndFrame fails.
func (r *Renderer) EndFrame() error {
	if !r.started {
		return errors.Mark(errors.AssertionFailedf("can't end a frame that was never begun"), ErrNoFrameInProgress)
	}

	slot := r.slots[r.currentFrame]
	defer func() {
		r.started = false
		r.currentFrame = (r.currentFrame + 1) % len(r.slots)
	}()

	err := slot.CommandBuffer.End()
	if err != nil {
		return errors.Wrap(err, "record command buffer")
	}

	result, err := r.chain.SubmitAndPresent(slot, r.imageIndex)
	if err != nil {
		return err
	}

	if result == device.ResultStale || result == device.ResultSuboptimal || r.host.WasResized() {
		r.host.ResetResized()
		return r.recreate()
	}

	return nil
}

func (r *Renderer) checkCommandBuffer(commandBuffer device.CommandBuffer) error {
	if !r.started {
		return errors.Mark(errors.AssertionFailedf("render pass outside of a frame"), ErrNoFrameInProgress)
	}
	if commandBuffer != r.slots[r.currentFrame].CommandBuffer {
		return errors.Mark(errors.AssertionFailedf("render pass on a command buffer from a different frame"), ErrWrongCommandBuffer)
	}
	return nil
}

// BeginRenderPass starts the swapchain render pass on the current image and
// sets the viewport and scissor to cover it.
func (r *Renderer) BeginRenderPass(commandBuffer device.CommandBuffer) error {
	err := r.checkCommandBuffer(commandBuffer)
	if err != nil {
		return err
	}

	extent := r.chain.Extent()
	area := core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}
	color := r.opts.ClearColor

	err = commandBuffer.BeginRenderPass(r.chain.RenderPass(), r.chain.Framebuffer(r.imageIndex), area, []core1_0.ClearValue{
		core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
		core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	commandBuffer.SetViewport(core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	commandBuffer.SetScissor(area)
	return nil
}

func (r *Renderer) EndRenderPass(commandBuffer device.CommandBuffer) error {
	err := r.checkCommandBuffer(commandBuffer)
	if err != nil {
		return err
	}

	commandBuffer.EndRenderPass()
	return nil
}

func (r *Renderer) IsFrameInProgress() bool { return r.started }

// FrameIndex is the frame slot of the frame in progress.
func (r *Renderer) FrameIndex() (int, error) {
	if !r.started {
		return 0, errors.Mark(errors.AssertionFailedf("frame index requested outside of a frame"), ErrNoFrameInProgress)
	}
	return r.currentFrame, nil
}

// ImageIndex is the swapchain image of the frame in progress.
func (r *Renderer) ImageIndex() (int, error) {
	if !r.started {
		return 0, errors.Mark(errors.AssertionFailedf("image index requested outside of a frame"), ErrNoFrameInProgress)
	}
	return r.imageIndex, nil
}

func (r *Renderer) CurrentCommandBuffer() (device.CommandBuffer, error) {
	if !r.started {
		return nil, errors.Mark(errors.AssertionFailedf("command buffer requested outside of a frame"), ErrNoFrameInProgress)
	}
	return r.slots[r.currentFrame].CommandBuffer, nil
}

func (r *Renderer) FramesInFlight() int           { return len(r.slots) }
func (r *Renderer) Chain() *swapchain.Chain       { return r.chain }
func (r *Renderer) RenderPass() device.RenderPass { return r.chain.RenderPass() }
func (r *Renderer) Extent() core1_0.Extent2D      { return r.chain.Extent() }
func (r *Renderer) AspectRatio() float32          { return r.chain.AspectRatio() }

// Destroy waits for the device to finish and releases the chain and frame slots.
func (r *Renderer) Destroy() error {
	err := r.ctx.WaitIdle()

	if r.chain != nil {
		r.chain.Destroy()
		r.chain = nil
	}

	swapchain.DestroyFrameSlots(r.ctx, r.slots)
	r.slots = nil

	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	return nil
}
