package buffer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device/devicetest"
)

const hostVisible = core1_0.MemoryPropertyHostVisible

func TestAlignment(t *testing.T) {
	for _, size := range []int{1, 3, 16, 63, 64, 65, 200, 256, 257, 1000} {
		for _, align := range []int{1, 4, 16, 64, 256} {
			aligned := Alignment(size, align)
			assert.GreaterOrEqual(t, aligned, size)
			assert.Zero(t, aligned%align, "size %d align %d", size, align)
			assert.Less(t, aligned-size, align, "size %d align %d", size, align)
		}
	}

	assert.Equal(t, 13, Alignment(13, 0))
	assert.Equal(t, 256, Alignment(200, 256))
}

func TestNewSizesBuffer(t *testing.T) {
	ctx := devicetest.NewContext()
	b, err := New(ctx, 200, 3, core1_0.BufferUsageUniformBuffer, hostVisible, 256)
	require.NoError(t, err)
	defer b.Destroy()

	assert.Equal(t, 200, b.ElementSize())
	assert.Equal(t, 256, b.AlignedElementSize())
	assert.Equal(t, 768, b.Size())
	assert.Equal(t, 768, b.Handle().Size())
	assert.Equal(t, 1, ctx.Live("buffer"))
}

func TestNewRejectsEmptyBuffer(t *testing.T) {
	_, err := New(devicetest.NewContext(), 0, 3, core1_0.BufferUsageUniformBuffer, hostVisible, 0)
	require.Error(t, err)
}

func TestWriteToIndexAndDescriptorInfo(t *testing.T) {
	ctx := devicetest.NewContext()
	b, err := New(ctx, 200, 3, core1_0.BufferUsageUniformBuffer, hostVisible, 256)
	require.NoError(t, err)
	require.NoError(t, b.Map())

	data := make([]byte, 200)
	for i := range data {
		data[i] = 0xAB
	}
	require.NoError(t, b.WriteToIndex(data, 2))

	backing := b.Handle().(*devicetest.Buffer).Bytes()
	assert.Equal(t, data, backing[512:712])
	assert.Equal(t, make([]byte, 512), backing[:512])
	assert.Equal(t, make([]byte, 56), backing[712:])

	info, err := b.DescriptorInfoForIndex(2)
	require.NoError(t, err)
	assert.Equal(t, 512, info.Offset)
	assert.Equal(t, 256, info.Range)
	assert.Same(t, b.Handle(), info.Buffer)

	_, err = b.DescriptorInfoForIndex(3)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))
	require.True(t, errors.HasAssertionFailure(err))

	require.True(t, errors.Is(b.WriteToIndex(data, 3), ErrIndexOutOfRange))
}

func TestWriteToBufferWholeSize(t *testing.T) {
	ctx := devicetest.NewContext()
	b, err := New(ctx, 4, 4, core1_0.BufferUsageVertexBuffer, hostVisible, 0)
	require.NoError(t, err)
	require.NoError(t, b.Map())

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}
	require.NoError(t, b.WriteToBuffer(data, WholeSize, 0))
	assert.Equal(t, data[:16], b.Handle().(*devicetest.Buffer).Bytes())

	err = b.WriteToBuffer(data[:8], WholeSize, 0)
	require.True(t, errors.Is(err, ErrOutOfRange))

	err = b.WriteToBuffer(data, 8, 12)
	require.True(t, errors.Is(err, ErrOutOfRange))
}

func TestWriteRequiresMapping(t *testing.T) {
	b, err := New(devicetest.NewContext(), 4, 1, core1_0.BufferUsageVertexBuffer, hostVisible, 0)
	require.NoError(t, err)

	err = b.WriteToBuffer([]byte{1, 2, 3, 4}, WholeSize, 0)
	require.True(t, errors.Is(err, ErrNotMapped))
	require.True(t, errors.HasAssertionFailure(err))

	require.NoError(t, b.Map())
	require.NoError(t, b.Map())
	assert.True(t, b.Mapped())
	b.Unmap()
	assert.False(t, b.Mapped())
}

func TestFlushSkipsCoherentMemory(t *testing.T) {
	ctx := devicetest.NewContext()
	coherent, err := New(ctx, 64, 2, core1_0.BufferUsageUniformBuffer, hostVisible|core1_0.MemoryPropertyHostCoherent, 0)
	require.NoError(t, err)
	require.NoError(t, coherent.FlushIndex(1))
	require.NoError(t, coherent.InvalidateIndex(1))
	assert.Empty(t, coherent.Handle().(*devicetest.Buffer).Flushed)

	nonCoherent, err := New(ctx, 64, 2, core1_0.BufferUsageUniformBuffer, hostVisible, 256)
	require.NoError(t, err)
	require.NoError(t, nonCoherent.FlushIndex(1))
	require.NoError(t, nonCoherent.InvalidateIndex(0))
	require.NoError(t, nonCoherent.Flush(WholeSize, 0))

	handle := nonCoherent.Handle().(*devicetest.Buffer)
	assert.Equal(t, []devicetest.Range{{Offset: 256, Size: 256}, {Offset: 0, Size: WholeSize}}, handle.Flushed)
	assert.Equal(t, []devicetest.Range{{Offset: 0, Size: 256}}, handle.Invalidated)
}

func TestWriteValue(t *testing.T) {
	type light struct {
		Position [4]float32
		Count    int32
	}

	b, err := New(devicetest.NewContext(), 24, 2, core1_0.BufferUsageUniformBuffer, hostVisible, 32)
	require.NoError(t, err)
	require.NoError(t, b.Map())

	require.NoError(t, b.WriteValue(light{Position: [4]float32{1, 0, 0, 0}, Count: 7}, 1))
	backing := b.Handle().(*devicetest.Buffer).Bytes()
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, backing[32:36])
	assert.Equal(t, []byte{7, 0, 0, 0}, backing[48:52])

	err = b.WriteValue([8]float32{}, 0)
	require.True(t, errors.Is(err, ErrOutOfRange))
}
