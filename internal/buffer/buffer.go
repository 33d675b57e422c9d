// Package buffer wraps a device buffer holding a fixed number of equally sized
// elements, each padded to the device's offset alignment so that any element
// can be bound on its own.
package buffer

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device"
)

// WholeSize addresses the entire buffer.
const WholeSize = device.WholeSize

var (
	ErrNotMapped       = errors.New("buffer is not mapped")
	ErrOutOfRange      = errors.New("range exceeds buffer")
	ErrIndexOutOfRange = errors.New("element index out of range")
)

// Alignment rounds elementSize up to a multiple of minOffsetAlignment. A
// non-positive alignment leaves the size unchanged.
func Alignment(elementSize, minOffsetAlignment int) int {
	if minOffsetAlignment > 0 {
		return (elementSize + minOffsetAlignment - 1) / minOffsetAlignment * minOffsetAlignment
	}
	return elementSize
}

type Buffer struct {
	handle device.Buffer
	mapped []byte

	elementSize        int
	alignedElementSize int
	elementCount       int
	size               int
	usage              core1_0.BufferUsageFlags
	memoryProperties   core1_0.MemoryPropertyFlags
}

func New(ctx device.Context, elementSize, elementCount int, usage core1_0.BufferUsageFlags, memoryProperties core1_0.MemoryPropertyFlags, minOffsetAlignment int) (*Buffer, error) {
	if elementSize <= 0 || elementCount <= 0 {
		return nil, errors.Mark(errors.Newf("buffer of %d elements of %d bytes", elementCount, elementSize), device.ErrInvalidArgument)
	}

	aligned := Alignment(elementSize, minOffsetAlignment)
	size := aligned * elementCount

	handle, err := ctx.CreateBuffer(size, usage, memoryProperties)
	if err != nil {
		return nil, errors.Wrapf(err, "create buffer of %d bytes", size)
	}

	return &Buffer{
		handle:             handle,
		elementSize:        elementSize,
		alignedElementSize: aligned,
		elementCount:       elementCount,
		size:               size,
		usage:              usage,
		memoryProperties:   memoryProperties,
	}, nil
}

func (b *Buffer) Handle() device.Buffer                         { return b.handle }
func (b *Buffer) Size() int                                     { return b.size }
func (b *Buffer) ElementSize() int                              { return b.elementSize }
func (b *Buffer) AlignedElementSize() int                       { return b.alignedElementSize }
func (b *Buffer) ElementCount() int                             { return b.elementCount }
func (b *Buffer) Usage() core1_0.BufferUsageFlags               { return b.usage }
func (b *Buffer) MemoryProperties() core1_0.MemoryPropertyFlags { return b.memoryProperties }
func (b *Buffer) Mapped() bool                                  { return b.mapped != nil }

// Map maps the whole buffer into host memory. Mapping a mapped buffer is a no-op.
func (b *Buffer) Map() error {
	if b.mapped != nil {
		return nil
	}

	mapped, err := b.handle.Map()
	if err != nil {
		return errors.Wrap(err, "map buffer")
	}
	b.mapped = mapped
	return nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.handle.Unmap()
	b.mapped = nil
}

// span resolves (size, offset) into an absolute byte range inside the buffer.
func (b *Buffer) span(size, offset int) (int, int, error) {
	if size == WholeSize {
		return 0, b.size, nil
	}
	if size < 0 || offset < 0 || offset+size > b.size {
		return 0, 0, errors.Mark(errors.AssertionFailedf("range [%d, %d) exceeds buffer of %d bytes", offset, offset+size, b.size), ErrOutOfRange)
	}
	return offset, offset + size, nil
}

// WriteToBuffer copies size bytes of data into the mapped buffer at offset.
// WholeSize copies exactly Size() bytes starting at the beginning of the buffer.
func (b *Buffer) WriteToBuffer(data []byte, size, offset int) error {
	if b.mapped == nil {
		return errors.Mark(errors.AssertionFailedf("write to a buffer that is not mapped"), ErrNotMapped)
	}

	start, end, err := b.span(size, offset)
	if err != nil {
		return err
	}
	if len(data) < end-start {
		return errors.Mark(errors.AssertionFailedf("write of %d bytes from %d bytes of data", end-start, len(data)), ErrOutOfRange)
	}

	copy(b.mapped[start:end], data[:end-start])
	return nil
}

// Flush makes host writes in the range visible to the device. It is a no-op
// for host-coherent memory.
func (b *Buffer) Flush(size, offset int) error {
	if b.memoryProperties&core1_0.MemoryPropertyHostCoherent != 0 {
		return nil
	}
	if _, _, err := b.span(size, offset); err != nil {
		return err
	}
	return b.handle.Flush(offset, size)
}

// Invalidate makes device writes in the range visible to the host. It is a
// no-op for host-coherent memory.
func (b *Buffer) Invalidate(size, offset int) error {
	if b.memoryProperties&core1_0.MemoryPropertyHostCoherent != 0 {
		return nil
	}
	if _, _, err := b.span(size, offset); err != nil {
		return err
	}
	return b.handle.Invalidate(offset, size)
}

func (b *Buffer) DescriptorInfo(size, offset int) device.BufferInfo {
	return device.BufferInfo{Buffer: b.handle, Offset: offset, Range: size}
}

func (b *Buffer) checkIndex(index int) error {
	if index < 0 || index >= b.elementCount {
		return errors.Mark(errors.AssertionFailedf("element %d of %d", index, b.elementCount), ErrIndexOutOfRange)
	}
	return nil
}

// WriteToIndex writes one element's worth of data at index*AlignedElementSize().
func (b *Buffer) WriteToIndex(data []byte, index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	return b.WriteToBuffer(data, b.elementSize, index*b.alignedElementSize)
}

func (b *Buffer) FlushIndex(index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	return b.Flush(b.alignedElementSize, index*b.alignedElementSize)
}

func (b *Buffer) InvalidateIndex(index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	return b.Invalidate(b.alignedElementSize, index*b.alignedElementSize)
}

func (b *Buffer) DescriptorInfoForIndex(index int) (device.BufferInfo, error) {
	if err := b.checkIndex(index); err != nil {
		return device.BufferInfo{}, err
	}
	return b.DescriptorInfo(b.alignedElementSize, index*b.alignedElementSize), nil
}

// WriteValue encodes a fixed-size value in device byte order and writes it as
// element index.
func (b *Buffer) WriteValue(value any, index int) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}
	if len(data) > b.elementSize {
		return errors.Mark(errors.AssertionFailedf("value of %d bytes does not fit element of %d bytes", len(data), b.elementSize), ErrOutOfRange)
	}
	if len(data) < b.elementSize {
		data = append(data, make([]byte, b.elementSize-len(data))...)
	}
	return b.WriteToIndex(data, index)
}

// Encode lays out a fixed-size value, or a slice of them, in device byte order.
func Encode(value any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, value); err != nil {
		return nil, errors.Wrap(err, "encode buffer contents")
	}
	return buf.Bytes(), nil
}

// Destroy unmaps and releases the buffer. The caller guarantees the device
// no longer uses it.
func (b *Buffer) Destroy() {
	b.Unmap()
	if b.handle != nil {
		b.handle.Destroy()
		b.handle = nil
	}
}
