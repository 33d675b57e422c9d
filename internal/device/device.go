// Package device describes the GPU device context consumed by the presentation
// and frame-pacing core. The vulkan subpackage implements it on top of
// vkngwrapper; devicetest implements it in memory.
package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
)

// WholeSize addresses an entire buffer or memory range.
const WholeSize = -1

var (
	ErrDeviceLost      = errors.New("device lost")
	ErrPoolExhausted   = errors.New("descriptor pool exhausted")
	ErrOutOfMemory     = errors.New("out of device memory")
	ErrNoMemoryType    = errors.New("no suitable memory type")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Result is the outcome of a presentation engine call that did not fail outright.
type Result int

const (
	ResultOK Result = iota
	// ResultSuboptimal means the image is usable but the surface no longer
	// matches the swapchain exactly.
	ResultSuboptimal
	// ResultStale means the surface no longer matches the swapchain and the
	// swapchain must be recreated before anything else is presented.
	ResultStale
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "Ok"
	case ResultSuboptimal:
		return "Suboptimal"
	case ResultStale:
		return "Stale"
	}

	return "Unknown"
}

type Fence interface {
	// Wait blocks until the fence is signaled. It does not reset the fence.
	Wait() error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Image interface {
	Destroy()
}

type ImageView interface {
	Destroy()
}

type Framebuffer interface {
	Destroy()
}

type RenderPass interface {
	Destroy()
}

type Sampler interface {
	Destroy()
}

type DescriptorSetLayout interface {
	Destroy()
}

type DescriptorSet interface {
	Layout() DescriptorSetLayout
}

type DescriptorPool interface {
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	// Free releases individual sets. Only pools created with
	// core1_0.DescriptorPoolCreateFreeDescriptorSet support it.
	Free(sets []DescriptorSet) error
	// Reset returns every set allocated from the pool at once.
	Reset() error
	Destroy()
}

// Buffer is a device buffer bound to its own memory allocation.
type Buffer interface {
	Size() int
	Map() ([]byte, error)
	Unmap()
	Flush(offset, size int) error
	Invalidate(offset, size int) error
	Destroy()
}

type CommandBuffer interface {
	Reset() error
	Begin() error
	End() error
	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, area core1_0.Rect2D, clearValues []core1_0.ClearValue) error
	SetViewport(viewport core1_0.Viewport)
	SetScissor(scissor core1_0.Rect2D)
	BindVertexBuffers(buffers []Buffer, offsets []int)
	BindIndexBuffer(buffer Buffer, offset int, indexType core1_0.IndexType)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance int)
	DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int)
	EndRenderPass()
}

type Swapchain interface {
	Images() []Image
	// AcquireNextImage requests the next presentable image and arranges for
	// signal to be signaled once it is available.
	AcquireNextImage(signal Semaphore) (int, Result, error)
	Present(imageIndex int, wait Semaphore) (Result, error)
	Destroy()
}

// SurfaceSupport is what the presentation surface reports for the selected device.
type SurfaceSupport struct {
	Capabilities *khr_surface.Capabilities
	Formats      []khr_surface.Format
	PresentModes []khr_surface.PresentMode
}

type Limits struct {
	MinUniformBufferOffsetAlignment int
	NonCoherentAtomSize             int
}

type SwapchainCreateInfo struct {
	MinImageCount int
	Format        core1_0.Format
	ColorSpace    khr_surface.ColorSpace
	Extent        core1_0.Extent2D
	PresentMode   khr_surface.PresentMode
	PreTransform  khr_surface.SurfaceTransformFlags
	// Old is the swapchain being replaced, or nil.
	Old Swapchain
}

type ImageCreateInfo struct {
	Extent           core1_0.Extent2D
	Format           core1_0.Format
	Tiling           core1_0.ImageTiling
	Usage            core1_0.ImageUsageFlags
	MemoryProperties core1_0.MemoryPropertyFlags
}

type BufferInfo struct {
	Buffer Buffer
	Offset int
	Range  int
}

type ImageInfo struct {
	View    ImageView
	Sampler Sampler
	Layout  core1_0.ImageLayout
}

// DescriptorWrite updates a single binding of a descriptor set with exactly
// one of Buffer or Image.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding int
	Type    core1_0.DescriptorType
	Buffer  *BufferInfo
	Image   *ImageInfo
}

// SubmitInfo describes one graphics queue submission of a single command buffer.
type SubmitInfo struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     core1_0.PipelineStageFlags
	Signal        Semaphore
	Fence         Fence
}

// Context is the device-level surface the presentation core is built on.
type Context interface {
	SurfaceSupport() (SurfaceSupport, error)
	Limits() Limits
	SupportsFormat(format core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) bool

	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	CreateImage(info ImageCreateInfo) (Image, error)
	CreateImageView(image Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (ImageView, error)
	CreateRenderPass(info core1_0.RenderPassCreateInfo) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, attachments []ImageView, extent core1_0.Extent2D) (Framebuffer, error)
	// CreateSampler returns a linear, repeating sampler, anisotropic when the
	// device supports it.
	CreateSampler() (Sampler, error)

	CreateSemaphore() (Semaphore, error)
	CreateFence(signaled bool) (Fence, error)
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers []CommandBuffer)

	CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (Buffer, error)
	// CopyBuffer records, submits and waits for a one-off copy.
	CopyBuffer(src, dst Buffer, size int) error

	CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	CreateDescriptorPool(maxSets int, sizes []core1_0.DescriptorPoolSize, flags core1_0.DescriptorPoolCreateFlags) (DescriptorPool, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	Submit(info SubmitInfo) error
	// WaitIdle blocks until all queued GPU work has completed.
	WaitIdle() error
}
