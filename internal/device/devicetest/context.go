// Package devicetest provides an in-memory device.Context. Fences can be left
// pending to simulate a GPU that has not caught up, and every call is written
// to an event journal so tests can assert on ordering.
package devicetest

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"

	"github.com/iliadengine/iliad/internal/device"
)

type Context struct {
	Surface      device.SurfaceSupport
	DeviceLimits device.Limits
	// Unsupported lists formats SupportsFormat reports as unusable.
	Unsupported map[core1_0.Format]bool
	// ManualFences leaves submitted fences unsignaled until Complete or
	// CompleteNext is called. Otherwise submissions complete immediately.
	ManualFences bool
	// SubmitErr, when set, is returned by the next Submit.
	SubmitErr error
	// UpdateErr, when set, is returned by the next UpdateDescriptorSets.
	UpdateErr error

	mu             sync.Mutex
	nextID         int
	events         []string
	live           map[string]int
	pending        []*Fence
	acquireResults []device.Result
	acquireIndices []int
	presentResults []device.Result
	swapchains     []*Swapchain
	writes         []device.DescriptorWrite
	submits        []device.SubmitInfo
}

var _ device.Context = (*Context)(nil)

// NewContext returns a context reporting a surface with 2 to 3 images, an
// undefined current extent, one sRGB format and both FIFO and mailbox modes.
func NewContext() *Context {
	return &Context{
		Surface: device.SurfaceSupport{
			Capabilities: &khr_surface.Capabilities{
				MinImageCount:  2,
				MaxImageCount:  3,
				CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
				MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
			},
			Formats: []khr_surface.Format{
				{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
			},
			PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox},
		},
		DeviceLimits: device.Limits{
			MinUniformBufferOffsetAlignment: 256,
			NonCoherentAtomSize:             64,
		},
		live: map[string]int{},
	}
}

func (c *Context) record(format string, args ...any) {
	c.events = append(c.events, fmt.Sprintf(format, args...))
}

func (c *Context) created(kind string) int {
	c.nextID++
	c.live[kind]++
	c.record("create %s %d", kind, c.nextID)
	return c.nextID
}

func (c *Context) destroyed(kind string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.live[kind]--
	c.record("destroy %s %d", kind, id)
}

// Events returns a copy of the event journal.
func (c *Context) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.events...)
}

// IndexOf returns the position of the first journal event equal to event, or -1.
func (c *Context) IndexOf(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.events {
		if e == event {
			return i
		}
	}
	return -1
}

// Live returns how many objects of a kind have been created and not destroyed.
func (c *Context) Live(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.live[kind]
}

// Swapchains returns every swapchain created so far, oldest first.
func (c *Context) Swapchains() []*Swapchain {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*Swapchain(nil), c.swapchains...)
}

func (c *Context) Writes() []device.DescriptorWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]device.DescriptorWrite(nil), c.writes...)
}

func (c *Context) Submits() []device.SubmitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]device.SubmitInfo(nil), c.submits...)
}

// QueueAcquire scripts the results of upcoming AcquireNextImage calls.
func (c *Context) QueueAcquire(results ...device.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquireResults = append(c.acquireResults, results...)
}

// QueueAcquireIndex scripts the image indices of upcoming successful acquires.
// Unscripted acquires hand out images round robin.
func (c *Context) QueueAcquireIndex(indices ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquireIndices = append(c.acquireIndices, indices...)
}

// QueuePresent scripts the results of upcoming Present calls.
func (c *Context) QueuePresent(results ...device.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presentResults = append(c.presentResults, results...)
}

// Pending returns the number of submitted fences the simulated GPU has not finished.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// CompleteNext finishes the oldest pending submission.
func (c *Context) CompleteNext() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	fence := c.pending[0]
	c.pending = c.pending[1:]
	c.record("complete fence %d", fence.id)
	c.mu.Unlock()

	fence.Signal()
}

// Complete finishes every pending submission.
func (c *Context) Complete() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	for _, fence := range pending {
		c.record("complete fence %d", fence.id)
	}
	c.mu.Unlock()

	for _, fence := range pending {
		fence.Signal()
	}
}

func (c *Context) SurfaceSupport() (device.SurfaceSupport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	support := c.Surface
	caps := *c.Surface.Capabilities
	support.Capabilities = &caps
	support.Formats = append([]khr_surface.Format(nil), c.Surface.Formats...)
	support.PresentModes = append([]khr_surface.PresentMode(nil), c.Surface.PresentModes...)
	return support, nil
}

func (c *Context) Limits() device.Limits {
	return c.DeviceLimits
}

func (c *Context) SupportsFormat(format core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) bool {
	return !c.Unsupported[format]
}

func (c *Context) CreateSwapchain(info device.SwapchainCreateInfo) (device.Swapchain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if info.MinImageCount < 1 {
		return nil, errors.Mark(errors.Newf("swapchain image count %d", info.MinImageCount), device.ErrInvalidArgument)
	}

	swapchain := &Swapchain{ctx: c, Info: info}
	swapchain.id = c.created("swapchain")
	for i := 0; i < info.MinImageCount; i++ {
		c.nextID++
		swapchain.images = append(swapchain.images, &Image{id: c.nextID, Info: device.ImageCreateInfo{
			Extent: info.Extent,
			Format: info.Format,
			Usage:  core1_0.ImageUsageColorAttachment,
		}})
	}
	c.swapchains = append(c.swapchains, swapchain)
	return swapchain, nil
}

func (c *Context) CreateImage(info device.ImageCreateInfo) (device.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	image := &Image{ctx: c, Info: info}
	image.id = c.created("image")
	return image, nil
}

func (c *Context) CreateImageView(image device.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (device.ImageView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := &ImageView{ctx: c, Image: image, Format: format, Aspect: aspect}
	view.id = c.created("image-view")
	return view, nil
}

func (c *Context) CreateRenderPass(info core1_0.RenderPassCreateInfo) (device.RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pass := &RenderPass{ctx: c, Info: info}
	pass.id = c.created("render-pass")
	return pass, nil
}

func (c *Context) CreateFramebuffer(pass device.RenderPass, attachments []device.ImageView, extent core1_0.Extent2D) (device.Framebuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	framebuffer := &Framebuffer{ctx: c, RenderPass: pass, Attachments: attachments, Extent: extent}
	framebuffer.id = c.created("framebuffer")
	return framebuffer, nil
}

func (c *Context) CreateSampler() (device.Sampler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampler := &Sampler{ctx: c}
	sampler.id = c.created("sampler")
	return sampler, nil
}

func (c *Context) CreateSemaphore() (device.Semaphore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	semaphore := &Semaphore{ctx: c}
	semaphore.id = c.created("semaphore")
	return semaphore, nil
}

func (c *Context) CreateFence(signaled bool) (device.Fence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fence := &Fence{ctx: c, done: make(chan struct{})}
	fence.id = c.created("fence")
	if signaled {
		close(fence.done)
	}
	return fence, nil
}

func (c *Context) AllocateCommandBuffers(count int) ([]device.CommandBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buffers []device.CommandBuffer
	for i := 0; i < count; i++ {
		buffer := &CommandBuffer{}
		buffer.id = c.created("command-buffer")
		buffers = append(buffers, buffer)
	}
	return buffers, nil
}

func (c *Context) FreeCommandBuffers(buffers []device.CommandBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, buffer := range buffers {
		c.live["command-buffer"]--
		c.record("destroy command-buffer %d", buffer.(*CommandBuffer).id)
	}
}

func (c *Context) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (device.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size <= 0 {
		return nil, errors.Mark(errors.Newf("buffer size %d", size), device.ErrInvalidArgument)
	}

	buffer := &Buffer{ctx: c, Usage: usage, Properties: properties, data: make([]byte, size)}
	buffer.id = c.created("buffer")
	return buffer, nil
}

func (c *Context) CopyBuffer(src, dst device.Buffer, size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := src.(*Buffer)
	to := dst.(*Buffer)
	if size > len(from.data) || size > len(to.data) {
		return errors.Mark(errors.Newf("copy of %d bytes overruns buffers", size), device.ErrInvalidArgument)
	}

	copy(to.data[:size], from.data[:size])
	c.record("copy buffer %d to buffer %d", from.id, to.id)
	return nil
}

func (c *Context) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (device.DescriptorSetLayout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	layout := &DescriptorSetLayout{ctx: c, Bindings: bindings}
	layout.id = c.created("descriptor-set-layout")
	return layout, nil
}

func (c *Context) CreateDescriptorPool(maxSets int, sizes []core1_0.DescriptorPoolSize, flags core1_0.DescriptorPoolCreateFlags) (device.DescriptorPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := &DescriptorPool{ctx: c, MaxSets: maxSets, Sizes: sizes, Flags: flags}
	pool.id = c.created("descriptor-pool")
	return pool, nil
}

func (c *Context) UpdateDescriptorSets(writes []device.DescriptorWrite) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.UpdateErr != nil {
		err := c.UpdateErr
		c.UpdateErr = nil
		return err
	}

	for _, write := range writes {
		if (write.Buffer == nil) == (write.Image == nil) {
			return errors.Mark(errors.Newf("descriptor write for binding %d must carry exactly one of buffer or image", write.Binding), device.ErrInvalidArgument)
		}
	}

	c.writes = append(c.writes, writes...)
	return nil
}

func (c *Context) Submit(info device.SubmitInfo) error {
	c.mu.Lock()

	if c.SubmitErr != nil {
		err := c.SubmitErr
		c.SubmitErr = nil
		c.mu.Unlock()
		return err
	}

	c.submits = append(c.submits, info)
	buffer := info.CommandBuffer.(*CommandBuffer)
	c.record("submit command-buffer %d", buffer.id)

	var fence *Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence)
		if c.ManualFences {
			c.pending = append(c.pending, fence)
			fence = nil
		}
	}
	c.mu.Unlock()

	if fence != nil {
		fence.Signal()
	}
	return nil
}

func (c *Context) WaitIdle() error {
	c.mu.Lock()
	c.record("wait-idle")
	c.mu.Unlock()

	c.Complete()
	return nil
}
