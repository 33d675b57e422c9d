package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/iliadengine/iliad/internal/device"
)

type Fence struct {
	device core1_0.Device
	fence  core1_0.Fence
}

func (f *Fence) Wait() error {
	return check(f.fence.Wait(common.NoTimeout))
}

func (f *Fence) Reset() error {
	return check(f.device.ResetFences([]core1_0.Fence{f.fence}))
}

func (f *Fence) Destroy() { f.fence.Destroy(nil) }

type Semaphore struct {
	semaphore core1_0.Semaphore
}

func (s *Semaphore) Destroy() { s.semaphore.Destroy(nil) }

// Image is either an image the context allocated memory for or one owned by a
// swapchain, which is released with the swapchain.
type Image struct {
	image  core1_0.Image
	memory core1_0.DeviceMemory
}

func (i *Image) Destroy() {
	if i.memory == nil {
		return
	}

	i.image.Destroy(nil)
	i.memory.Free(nil)
}

type ImageView struct {
	view core1_0.ImageView
}

func (v *ImageView) Destroy() { v.view.Destroy(nil) }

type Framebuffer struct {
	framebuffer core1_0.Framebuffer
}

func (f *Framebuffer) Destroy() { f.framebuffer.Destroy(nil) }

type RenderPass struct {
	renderPass core1_0.RenderPass
}

func (p *RenderPass) Destroy() { p.renderPass.Destroy(nil) }

type Sampler struct {
	sampler core1_0.Sampler
}

func (s *Sampler) Destroy() { s.sampler.Destroy(nil) }

type Swapchain struct {
	dev       *Device
	swapchain khr_swapchain.Swapchain
	images    []device.Image
}

func (s *Swapchain) Images() []device.Image { return s.images }

func (s *Swapchain) AcquireNextImage(signal device.Semaphore) (int, device.Result, error) {
	imageIndex, res, err := s.swapchain.AcquireNextImage(common.NoTimeout, signal.(*Semaphore).semaphore, nil)
	result, err := presentationResult(res, err)
	return imageIndex, result, err
}

func (s *Swapchain) Present(imageIndex int, wait device.Semaphore) (device.Result, error) {
	return presentationResult(s.dev.swapchainExtension.QueuePresent(s.dev.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait.(*Semaphore).semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	}))
}

func (s *Swapchain) Destroy() { s.swapchain.Destroy(nil) }

type CommandBuffer struct {
	buffer core1_0.CommandBuffer
}

func (b *CommandBuffer) Reset() error {
	return check(b.buffer.Reset(0))
}

func (b *CommandBuffer) Begin() error {
	return check(b.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}))
}

func (b *CommandBuffer) End() error {
	return check(b.buffer.End())
}

func (b *CommandBuffer) BeginRenderPass(pass device.RenderPass, framebuffer device.Framebuffer, area core1_0.Rect2D, clearValues []core1_0.ClearValue) error {
	return b.buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.(*RenderPass).renderPass,
		Framebuffer: framebuffer.(*Framebuffer).framebuffer,
		RenderArea:  area,
		ClearValues: clearValues,
	})
}

func (b *CommandBuffer) SetViewport(viewport core1_0.Viewport) {
	b.buffer.CmdSetViewport([]core1_0.Viewport{viewport})
}

func (b *CommandBuffer) SetScissor(scissor core1_0.Rect2D) {
	b.buffer.CmdSetScissor([]core1_0.Rect2D{scissor})
}

func (b *CommandBuffer) BindVertexBuffers(buffers []device.Buffer, offsets []int) {
	handles := make([]core1_0.Buffer, 0, len(buffers))
	for _, buffer := range buffers {
		handles = append(handles, buffer.(*Buffer).buffer)
	}
	b.buffer.CmdBindVertexBuffers(handles, offsets)
}

func (b *CommandBuffer) BindIndexBuffer(buffer device.Buffer, offset int, indexType core1_0.IndexType) {
	b.buffer.CmdBindIndexBuffer(buffer.(*Buffer).buffer, offset, indexType)
}

func (b *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	b.buffer.CmdDraw(vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (b *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	b.buffer.CmdDrawIndexed(indexCount, instanceCount, uint32(firstIndex), vertexOffset, uint32(firstInstance))
}

func (b *CommandBuffer) EndRenderPass() { b.buffer.CmdEndRenderPass() }

// Buffer is a VkBuffer bound at offset 0 of its own allocation.
type Buffer struct {
	dev            *Device
	buffer         core1_0.Buffer
	memory         core1_0.DeviceMemory
	size           int
	allocationSize int
	properties     core1_0.MemoryPropertyFlags
	mapped         []byte
}

func (b *Buffer) Size() int { return b.size }

func (b *Buffer) Map() ([]byte, error) {
	if b.properties&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Mark(errors.New("map of memory that is not host visible"), device.ErrInvalidArgument)
	}
	if b.mapped != nil {
		return nil, errors.Mark(errors.New("memory is already mapped"), device.ErrInvalidArgument)
	}

	memoryPtr, res, err := b.memory.Map(0, b.size, 0)
	if err != nil {
		return nil, check(res, err)
	}

	b.mapped = unsafe.Slice((*byte)(memoryPtr), b.size)
	return b.mapped, nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}

	b.memory.Unmap()
	b.mapped = nil
}

// Flush makes host writes visible to the device. Host-coherent memory needs no flush.
func (b *Buffer) Flush(offset, size int) error {
	if b.properties&core1_0.MemoryPropertyHostCoherent != 0 {
		return nil
	}
	return check(b.dev.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{b.mappedRange(offset, size)}))
}

// Invalidate makes device writes visible to the host.
func (b *Buffer) Invalidate(offset, size int) error {
	if b.properties&core1_0.MemoryPropertyHostCoherent != 0 {
		return nil
	}
	return check(b.dev.device.InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{b.mappedRange(offset, size)}))
}

func (b *Buffer) mappedRange(offset, size int) core1_0.MappedMemoryRange {
	offset, size = atomRange(offset, size, b.allocationSize, b.dev.limits.NonCoherentAtomSize)
	return core1_0.MappedMemoryRange{
		Memory: b.memory,
		Offset: offset,
		Size:   size,
	}
}

func (b *Buffer) Destroy() {
	b.Unmap()
	b.buffer.Destroy(nil)
	b.memory.Free(nil)
}

type DescriptorSetLayout struct {
	layout core1_0.DescriptorSetLayout
}

func (l *DescriptorSetLayout) Destroy() { l.layout.Destroy(nil) }

type DescriptorSet struct {
	set    core1_0.DescriptorSet
	layout device.DescriptorSetLayout
}

func (s *DescriptorSet) Layout() device.DescriptorSetLayout { return s.layout }

type DescriptorPool struct {
	device   core1_0.Device
	pool     core1_0.DescriptorPool
	freeable bool
}

func (p *DescriptorPool) Allocate(layout device.DescriptorSetLayout) (device.DescriptorSet, error) {
	sets, res, err := p.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout.(*DescriptorSetLayout).layout},
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &DescriptorSet{set: sets[0], layout: layout}, nil
}

func (p *DescriptorPool) Free(sets []device.DescriptorSet) error {
	if !p.freeable {
		return errors.Mark(errors.New("pool was not created with the free descriptor set flag"), device.ErrInvalidArgument)
	}
	if len(sets) == 0 {
		return nil
	}

	handles := make([]core1_0.DescriptorSet, 0, len(sets))
	for _, set := range sets {
		handles = append(handles, set.(*DescriptorSet).set)
	}

	return check(p.device.FreeDescriptorSets(handles))
}

func (p *DescriptorPool) Reset() error {
	return check(p.pool.Reset(0))
}

func (p *DescriptorPool) Destroy() { p.pool.Destroy(nil) }
