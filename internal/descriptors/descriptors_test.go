package descriptors

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/device/devicetest"
)

func newLayout(t *testing.T, ctx *devicetest.Context) *SetLayout {
	t.Helper()

	layout, err := NewSetLayoutBuilder(ctx).
		AddBinding(1, core1_0.DescriptorTypeCombinedImageSampler, core1_0.StageFragment, 1).
		AddBinding(0, core1_0.DescriptorTypeUniformBuffer, core1_0.StageVertex|core1_0.StageFragment, 1).
		Build()
	require.NoError(t, err)
	return layout
}

func TestSetLayoutBuilder(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)

	handle := layout.Handle().(*devicetest.DescriptorSetLayout)
	require.Len(t, handle.Bindings, 2)
	assert.Equal(t, 0, handle.Bindings[0].Binding)
	assert.Equal(t, core1_0.DescriptorTypeUniformBuffer, handle.Bindings[0].DescriptorType)
	assert.Equal(t, 1, handle.Bindings[1].Binding)

	layout.Destroy()
	assert.Zero(t, ctx.Live("descriptor-set-layout"))
}

func TestSetLayoutBuilderRejectsDuplicateBinding(t *testing.T) {
	ctx := devicetest.NewContext()
	_, err := NewSetLayoutBuilder(ctx).
		AddBinding(0, core1_0.DescriptorTypeUniformBuffer, core1_0.StageVertex, 1).
		AddBinding(0, core1_0.DescriptorTypeUniformBuffer, core1_0.StageFragment, 1).
		Build()
	require.True(t, errors.Is(err, ErrDuplicateBinding))
	assert.Zero(t, ctx.Live("descriptor-set-layout"))
}

func TestPoolExhaustion(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)
	pool, err := NewPoolBuilder(ctx).
		SetMaxSets(2).
		AddPoolSize(core1_0.DescriptorTypeUniformBuffer, 2).
		Build()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := pool.Allocate(layout)
		require.NoError(t, err)
	}

	_, err = pool.Allocate(layout)
	require.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Equal(t, 2, pool.Allocated())

	require.NoError(t, pool.Reset())
	assert.Zero(t, pool.Allocated())
	assert.Equal(t, 2, pool.MaxSets())
	_, err = pool.Allocate(layout)
	require.NoError(t, err)
}

func TestPoolFree(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)

	pool, err := NewPoolBuilder(ctx).SetMaxSets(1).Build()
	require.NoError(t, err)
	set, err := pool.Allocate(layout)
	require.NoError(t, err)
	require.True(t, errors.HasAssertionFailure(pool.Free(set)))

	freeable, err := NewPoolBuilder(ctx).
		SetMaxSets(1).
		SetPoolFlags(core1_0.DescriptorPoolCreateFreeDescriptorSet).
		Build()
	require.NoError(t, err)
	set, err = freeable.Allocate(layout)
	require.NoError(t, err)
	require.NoError(t, freeable.Free(set))
	_, err = freeable.Allocate(layout)
	require.NoError(t, err)
}

func TestWriterBuild(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)
	pool, err := NewPoolBuilder(ctx).SetMaxSets(1).Build()
	require.NoError(t, err)

	buffer, err := ctx.CreateBuffer(256, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)
	sampler, err := ctx.CreateSampler()
	require.NoError(t, err)
	defer sampler.Destroy()

	set, err := NewWriter(layout, pool).
		WriteBuffer(0, device.BufferInfo{Buffer: buffer, Offset: 0, Range: 256}).
		WriteImage(1, device.ImageInfo{Sampler: sampler, Layout: core1_0.ImageLayoutShaderReadOnlyOptimal}).
		Build()
	require.NoError(t, err)

	writes := ctx.Writes()
	require.Len(t, writes, 2)
	assert.Same(t, set.(*devicetest.DescriptorSet), writes[0].Set.(*devicetest.DescriptorSet))
	assert.Equal(t, core1_0.DescriptorTypeUniformBuffer, writes[0].Type)
	assert.Equal(t, 256, writes[0].Buffer.Range)
	assert.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, writes[1].Type)
	assert.Same(t, sampler, writes[1].Image.Sampler)

	_, err = NewWriter(layout, pool).
		WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).
		Build()
	require.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Len(t, ctx.Writes(), 2)
}

func TestWriterRejectsUnknownBinding(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)
	pool, err := NewPoolBuilder(ctx).Build()
	require.NoError(t, err)

	_, err = NewWriter(layout, pool).
		WriteBuffer(7, device.BufferInfo{}).
		Build()
	require.True(t, errors.Is(err, ErrUnknownBinding))
	assert.Zero(t, pool.Allocated())
}

func TestWriterOverwrite(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)
	pool, err := NewPoolBuilder(ctx).SetMaxSets(1).Build()
	require.NoError(t, err)

	buffer, err := ctx.CreateBuffer(512, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)

	set, err := NewWriter(layout, pool).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).Build()
	require.NoError(t, err)

	err = NewWriter(layout, pool).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Offset: 256, Range: 256}).Overwrite(set)
	require.NoError(t, err)

	writes := ctx.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, 256, writes[1].Buffer.Offset)
	assert.Equal(t, 1, pool.Allocated())
}

func TestPoolFreeRejectsForeignAndFreedSets(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)

	newPool := func() *Pool {
		pool, err := NewPoolBuilder(ctx).
			SetMaxSets(2).
			SetPoolFlags(core1_0.DescriptorPoolCreateFreeDescriptorSet).
			Build()
		require.NoError(t, err)
		return pool
	}
	pool, other := newPool(), newPool()

	set, err := pool.Allocate(layout)
	require.NoError(t, err)
	foreign, err := other.Allocate(layout)
	require.NoError(t, err)

	err = pool.Free(foreign)
	require.True(t, errors.Is(err, device.ErrInvalidArgument))
	assert.Equal(t, 1, pool.Allocated())
	assert.Equal(t, 1, other.Allocated())

	err = pool.Free(set, set)
	require.True(t, errors.Is(err, device.ErrInvalidArgument))
	assert.Equal(t, 1, pool.Allocated())

	require.NoError(t, pool.Free(set))
	assert.Zero(t, pool.Allocated())

	err = pool.Free(set)
	require.True(t, errors.Is(err, device.ErrInvalidArgument))
	assert.Zero(t, pool.Allocated())

	for i := 0; i < 2; i++ {
		_, err = pool.Allocate(layout)
		require.NoError(t, err)
	}
	_, err = pool.Allocate(layout)
	require.True(t, errors.Is(err, ErrPoolExhausted))
}

func TestWriterBuildReleasesSetWhenWritesFail(t *testing.T) {
	ctx := devicetest.NewContext()
	layout := newLayout(t, ctx)
	buffer, err := ctx.CreateBuffer(256, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)

	freeable, err := NewPoolBuilder(ctx).
		SetMaxSets(1).
		SetPoolFlags(core1_0.DescriptorPoolCreateFreeDescriptorSet).
		Build()
	require.NoError(t, err)

	failure := errors.New("update failed")
	ctx.UpdateErr = failure
	_, err = NewWriter(layout, freeable).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).Build()
	require.True(t, errors.Is(err, failure))
	assert.Zero(t, freeable.Allocated())
	assert.Zero(t, freeable.handle.(*devicetest.DescriptorPool).Allocated)

	_, err = NewWriter(layout, freeable).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).Build()
	require.NoError(t, err)

	fixed, err := NewPoolBuilder(ctx).SetMaxSets(1).Build()
	require.NoError(t, err)

	ctx.UpdateErr = failure
	_, err = NewWriter(layout, fixed).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).Build()
	require.True(t, errors.Is(err, failure))
	assert.Equal(t, 1, fixed.Allocated(), "the set stays counted until the pool is reset")

	require.NoError(t, fixed.Reset())
	_, err = NewWriter(layout, fixed).WriteBuffer(0, device.BufferInfo{Buffer: buffer, Range: 256}).Build()
	require.NoError(t, err)
}
