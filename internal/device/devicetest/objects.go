package devicetest

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device"
)

type Fence struct {
	ctx  *Context
	id   int
	done chan struct{}
}

func (f *Fence) ID() int { return f.id }

func (f *Fence) Wait() error {
	f.ctx.mu.Lock()
	done := f.done
	f.ctx.mu.Unlock()

	<-done
	return nil
}

// Signaled reports whether the fence is currently signaled.
func (f *Fence) Signaled() bool {
	f.ctx.mu.Lock()
	done := f.done
	f.ctx.mu.Unlock()

	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (f *Fence) Signal() {
	f.ctx.mu.Lock()
	defer f.ctx.mu.Unlock()

	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *Fence) Reset() error {
	f.ctx.mu.Lock()
	defer f.ctx.mu.Unlock()

	select {
	case <-f.done:
		f.done = make(chan struct{})
	default:
	}
	f.ctx.record("reset fence %d", f.id)
	return nil
}

func (f *Fence) Destroy() { f.ctx.destroyed("fence", f.id) }

type Semaphore struct {
	ctx *Context
	id  int
}

func (s *Semaphore) Destroy() { s.ctx.destroyed("semaphore", s.id) }

type Image struct {
	ctx  *Context
	id   int
	Info device.ImageCreateInfo
}

// Destroy is a no-op for swapchain-owned images.
func (i *Image) Destroy() {
	if i.ctx != nil {
		i.ctx.destroyed("image", i.id)
	}
}

type ImageView struct {
	ctx    *Context
	id     int
	Image  device.Image
	Format core1_0.Format
	Aspect core1_0.ImageAspectFlags
}

func (v *ImageView) Destroy() { v.ctx.destroyed("image-view", v.id) }

type RenderPass struct {
	ctx  *Context
	id   int
	Info core1_0.RenderPassCreateInfo
}

func (p *RenderPass) Destroy() { p.ctx.destroyed("render-pass", p.id) }

type Framebuffer struct {
	ctx         *Context
	id          int
	RenderPass  device.RenderPass
	Attachments []device.ImageView
	Extent      core1_0.Extent2D
}

func (f *Framebuffer) Destroy() { f.ctx.destroyed("framebuffer", f.id) }

type Sampler struct {
	ctx *Context
	id  int
}

func (s *Sampler) Destroy() { s.ctx.destroyed("sampler", s.id) }

type Swapchain struct {
	ctx       *Context
	id        int
	Info      device.SwapchainCreateInfo
	images    []device.Image
	next      int
	Destroyed bool
}

func (s *Swapchain) ID() int { return s.id }

func (s *Swapchain) Images() []device.Image { return s.images }

func (s *Swapchain) AcquireNextImage(signal device.Semaphore) (int, device.Result, error) {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	result := device.ResultOK
	if len(c.acquireResults) > 0 {
		result = c.acquireResults[0]
		c.acquireResults = c.acquireResults[1:]
	}
	if result == device.ResultStale {
		c.record("acquire swapchain %d stale", s.id)
		return 0, result, nil
	}

	index := s.next
	if len(c.acquireIndices) > 0 {
		index = c.acquireIndices[0]
		c.acquireIndices = c.acquireIndices[1:]
	}
	s.next = (index + 1) % len(s.images)

	c.record("acquire swapchain %d image %d", s.id, index)
	return index, result, nil
}

func (s *Swapchain) Present(imageIndex int, wait device.Semaphore) (device.Result, error) {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	result := device.ResultOK
	if len(c.presentResults) > 0 {
		result = c.presentResults[0]
		c.presentResults = c.presentResults[1:]
	}

	c.record("present swapchain %d image %d", s.id, imageIndex)
	return result, nil
}

func (s *Swapchain) Destroy() {
	s.Destroyed = true
	s.ctx.destroyed("swapchain", s.id)
}

// CommandBuffer journals what is recorded into it since the last Reset.
type CommandBuffer struct {
	id        int
	Commands  []string
	Recording bool
	Viewport  core1_0.Viewport
	Scissor   core1_0.Rect2D
	Area      core1_0.Rect2D
	Clear     []core1_0.ClearValue
	Target    device.Framebuffer
}

func (b *CommandBuffer) ID() int { return b.id }

func (b *CommandBuffer) Reset() error {
	if b.Recording {
		return errors.New("reset of a command buffer that is recording")
	}
	b.Commands = nil
	return nil
}

func (b *CommandBuffer) Begin() error {
	if b.Recording {
		return errors.New("command buffer is already recording")
	}
	b.Recording = true
	b.Commands = append(b.Commands, "begin")
	return nil
}

func (b *CommandBuffer) End() error {
	if !b.Recording {
		return errors.New("command buffer is not recording")
	}
	b.Recording = false
	b.Commands = append(b.Commands, "end")
	return nil
}

func (b *CommandBuffer) BeginRenderPass(pass device.RenderPass, framebuffer device.Framebuffer, area core1_0.Rect2D, clearValues []core1_0.ClearValue) error {
	b.Area = area
	b.Clear = clearValues
	b.Target = framebuffer
	b.Commands = append(b.Commands, "begin-render-pass")
	return nil
}

func (b *CommandBuffer) SetViewport(viewport core1_0.Viewport) {
	b.Viewport = viewport
	b.Commands = append(b.Commands, "set-viewport")
}

func (b *CommandBuffer) SetScissor(scissor core1_0.Rect2D) {
	b.Scissor = scissor
	b.Commands = append(b.Commands, "set-scissor")
}

func (b *CommandBuffer) BindVertexBuffers(buffers []device.Buffer, offsets []int) {
	b.Commands = append(b.Commands, fmt.Sprintf("bind-vertex-buffers %d", len(buffers)))
}

func (b *CommandBuffer) BindIndexBuffer(buffer device.Buffer, offset int, indexType core1_0.IndexType) {
	b.Commands = append(b.Commands, "bind-index-buffer")
}

func (b *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	b.Commands = append(b.Commands, fmt.Sprintf("draw %d", vertexCount))
}

func (b *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	b.Commands = append(b.Commands, fmt.Sprintf("draw-indexed %d", indexCount))
}

func (b *CommandBuffer) EndRenderPass() {
	b.Commands = append(b.Commands, "end-render-pass")
}

type Range struct {
	Offset int
	Size   int
}

// Buffer is host memory standing in for a device buffer and its allocation.
type Buffer struct {
	ctx         *Context
	id          int
	Usage       core1_0.BufferUsageFlags
	Properties  core1_0.MemoryPropertyFlags
	data        []byte
	Mapped      bool
	Flushed     []Range
	Invalidated []Range
}

func (b *Buffer) ID() int { return b.id }

func (b *Buffer) Size() int { return len(b.data) }

// Bytes exposes the backing store whether or not the buffer is mapped.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Map() ([]byte, error) {
	if b.Properties&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Mark(errors.New("map of memory that is not host visible"), device.ErrInvalidArgument)
	}
	if b.Mapped {
		return nil, errors.Mark(errors.New("memory is already mapped"), device.ErrInvalidArgument)
	}
	b.Mapped = true
	return b.data, nil
}

func (b *Buffer) Unmap() { b.Mapped = false }

func (b *Buffer) Flush(offset, size int) error {
	b.Flushed = append(b.Flushed, Range{Offset: offset, Size: size})
	return nil
}

func (b *Buffer) Invalidate(offset, size int) error {
	b.Invalidated = append(b.Invalidated, Range{Offset: offset, Size: size})
	return nil
}

func (b *Buffer) Destroy() { b.ctx.destroyed("buffer", b.id) }

type DescriptorSetLayout struct {
	ctx      *Context
	id       int
	Bindings []core1_0.DescriptorSetLayoutBinding
}

func (l *DescriptorSetLayout) Destroy() { l.ctx.destroyed("descriptor-set-layout", l.id) }

type DescriptorSet struct {
	layout device.DescriptorSetLayout
	Pool   *DescriptorPool
	ID     int
}

func (s *DescriptorSet) Layout() device.DescriptorSetLayout { return s.layout }

// DescriptorPool enforces MaxSets the way a driver reports out-of-pool memory.
type DescriptorPool struct {
	ctx       *Context
	id        int
	MaxSets   int
	Sizes     []core1_0.DescriptorPoolSize
	Flags     core1_0.DescriptorPoolCreateFlags
	Allocated int
	Resets    int
}

func (p *DescriptorPool) Allocate(layout device.DescriptorSetLayout) (device.DescriptorSet, error) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()

	if p.Allocated >= p.MaxSets {
		return nil, errors.Mark(errors.Newf("pool %d is out of sets", p.id), device.ErrPoolExhausted)
	}

	p.Allocated++
	p.ctx.nextID++
	return &DescriptorSet{layout: layout, Pool: p, ID: p.ctx.nextID}, nil
}

func (p *DescriptorPool) Free(sets []device.DescriptorSet) error {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()

	if p.Flags&core1_0.DescriptorPoolCreateFreeDescriptorSet == 0 {
		return errors.Mark(errors.New("pool was not created with the free descriptor set flag"), device.ErrInvalidArgument)
	}
	p.Allocated -= len(sets)
	return nil
}

func (p *DescriptorPool) Reset() error {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()

	p.Allocated = 0
	p.Resets++
	p.ctx.record("reset descriptor-pool %d", p.id)
	return nil
}

func (p *DescriptorPool) Destroy() { p.ctx.destroyed("descriptor-pool", p.id) }
