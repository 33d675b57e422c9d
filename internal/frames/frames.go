// Package frames owns the resources that are rewritten every frame: one
// transient descriptor pool and one uniform buffer element per frame slot,
// plus the global descriptor set pointing at that element.
package frames

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/buffer"
	"github.com/iliadengine/iliad/internal/descriptors"
	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/logging"
)

const defaultPoolMaxSets = 1000

type Options struct {
	FramesInFlight int
	// UniformSize is the size in bytes of the per-frame global uniform block.
	UniformSize int
	// PoolMaxSets bounds how many sets a slot may allocate per frame.
	PoolMaxSets int
	// PoolSizes defaults to PoolMaxSets uniform buffers and image samplers.
	PoolSizes []core1_0.DescriptorPoolSize
	Logger    *slog.Logger
}

// Frame is the slice of transient resources handed to one frame.
type Frame struct {
	Slot      int
	Pool      *descriptors.Pool
	GlobalSet device.DescriptorSet
}

type Resources struct {
	ctx    device.Context
	logger *slog.Logger

	uniforms     *buffer.Buffer
	globalLayout *descriptors.SetLayout
	globalPool   *descriptors.Pool
	globalSets   []device.DescriptorSet
	framePools   []*descriptors.Pool
}

func New(ctx device.Context, opts Options) (*Resources, error) {
	if opts.FramesInFlight <= 0 {
		return nil, errors.Mark(errors.Newf("%d frames in flight", opts.FramesInFlight), device.ErrInvalidArgument)
	}
	if opts.PoolMaxSets == 0 {
		opts.PoolMaxSets = defaultPoolMaxSets
	}
	if opts.PoolSizes == nil {
		opts.PoolSizes = []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: opts.PoolMaxSets},
			{Type: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: opts.PoolMaxSets},
		}
	}

	r := &Resources{
		ctx:    ctx,
		logger: logging.OrNop(opts.Logger),
	}

	err := r.init(opts)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *Resources) init(opts Options) error {
	var err error
	limits := r.ctx.Limits()

	r.uniforms, err = buffer.New(r.ctx, opts.UniformSize, opts.FramesInFlight,
		core1_0.BufferUsageUniformBuffer,
		core1_0.MemoryPropertyHostVisible,
		limits.MinUniformBufferOffsetAlignment)
	if err != nil {
		return errors.Wrap(err, "create uniform buffer")
	}

	err = r.uniforms.Map()
	if err != nil {
		return err
	}

	r.globalLayout, err = descriptors.NewSetLayoutBuilder(r.ctx).
		AddBinding(0, core1_0.DescriptorTypeUniformBuffer, core1_0.StageVertex|core1_0.StageFragment, 1).
		Build()
	if err != nil {
		return err
	}

	r.globalPool, err = descriptors.NewPoolBuilder(r.ctx).
		SetMaxSets(opts.FramesInFlight).
		AddPoolSize(core1_0.DescriptorTypeUniformBuffer, opts.FramesInFlight).
		Build()
	if err != nil {
		return err
	}

	for slot := 0; slot < opts.FramesInFlight; slot++ {
		info, err := r.uniforms.DescriptorInfoForIndex(slot)
		if err != nil {
			return err
		}

		set, err := descriptors.NewWriter(r.globalLayout, r.globalPool).
			WriteBuffer(0, info).
			Build()
		if err != nil {
			return errors.Wrapf(err, "write global descriptor set %d", slot)
		}
		r.globalSets = append(r.globalSets, set)

		builder := descriptors.NewPoolBuilder(r.ctx).
			SetMaxSets(opts.PoolMaxSets).
			SetPoolFlags(core1_0.DescriptorPoolCreateFreeDescriptorSet)
		for _, size := range opts.PoolSizes {
			builder.AddPoolSize(size.Type, size.DescriptorCount)
		}
		pool, err := builder.Build()
		if err != nil {
			return errors.Wrapf(err, "create frame pool %d", slot)
		}
		r.framePools = append(r.framePools, pool)
	}

	r.logger.Debug("created frame resources",
		slog.Int("Slots", opts.FramesInFlight),
		slog.Int("UniformStride", r.uniforms.AlignedElementSize()),
		slog.Int("PoolMaxSets", opts.PoolMaxSets))
	return nil
}

func (r *Resources) GlobalLayout() *descriptors.SetLayout { return r.globalLayout }
func (r *Resources) Uniforms() *buffer.Buffer             { return r.uniforms }
func (r *Resources) Slots() int                           { return len(r.framePools) }

// Begin readies slot for a new frame. Sets allocated from the slot's pool
// during its previous use become invalid, so the slot's fence must already
// have been waited on.
func (r *Resources) Begin(slot int) (*Frame, error) {
	if slot < 0 || slot >= len(r.framePools) {
		return nil, errors.AssertionFailedf("frame slot %d of %d", slot, len(r.framePools))
	}

	err := r.framePools[slot].Reset()
	if err != nil {
		return nil, err
	}

	return &Frame{
		Slot:      slot,
		Pool:      r.framePools[slot],
		GlobalSet: r.globalSets[slot],
	}, nil
}

// WriteUniform stores value as the slot's global uniform block and flushes it.
func (r *Resources) WriteUniform(slot int, value any) error {
	err := r.uniforms.WriteValue(value, slot)
	if err != nil {
		return errors.Wrap(err, "write global uniforms")
	}

	return r.uniforms.FlushIndex(slot)
}

// Destroy releases all frame resources. The device must be idle.
func (r *Resources) Destroy() {
	for _, pool := range r.framePools {
		pool.Destroy()
	}
	r.framePools = nil

	if r.globalPool != nil {
		r.globalPool.Destroy()
		r.globalPool = nil
	}
	r.globalSets = nil

	if r.globalLayout != nil {
		r.globalLayout.Destroy()
		r.globalLayout = nil
	}

	if r.uniforms != nil {
		r.uniforms.Destroy()
		r.uniforms = nil
	}
}
