package descriptors

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device"
)

// ErrPoolExhausted is returned when a pool has no room for another set.
var ErrPoolExhausted = device.ErrPoolExhausted

const defaultMaxSets = 1000

type PoolBuilder struct {
	ctx     device.Context
	maxSets int
	sizes   []core1_0.DescriptorPoolSize
	flags   core1_0.DescriptorPoolCreateFlags
}

func NewPoolBuilder(ctx device.Context) *PoolBuilder {
	return &PoolBuilder{ctx: ctx, maxSets: defaultMaxSets}
}

func (b *PoolBuilder) AddPoolSize(descriptorType core1_0.DescriptorType, count int) *PoolBuilder {
	b.sizes = append(b.sizes, core1_0.DescriptorPoolSize{Type: descriptorType, DescriptorCount: count})
	return b
}

func (b *PoolBuilder) SetPoolFlags(flags core1_0.DescriptorPoolCreateFlags) *PoolBuilder {
	b.flags = flags
	return b
}

func (b *PoolBuilder) SetMaxSets(count int) *PoolBuilder {
	b.maxSets = count
	return b
}

func (b *PoolBuilder) Build() (*Pool, error) {
	if b.maxSets <= 0 {
		return nil, errors.Mark(errors.Newf("descriptor pool with %d sets", b.maxSets), device.ErrInvalidArgument)
	}

	handle, err := b.ctx.CreateDescriptorPool(b.maxSets, b.sizes, b.flags)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor pool")
	}

	return &Pool{
		ctx:     b.ctx,
		handle:  handle,
		maxSets: b.maxSets,
		flags:   b.flags,
		live:    make(map[device.DescriptorSet]struct{}),
	}, nil
}

// Pool hands out descriptor sets until MaxSets are live. Sets are released in
// bulk by Reset, or one by one by Free when the pool was built with
// core1_0.DescriptorPoolCreateFreeDescriptorSet.
type Pool struct {
	ctx     device.Context
	handle  device.DescriptorPool
	maxSets int
	flags   core1_0.DescriptorPoolCreateFlags
	live    map[device.DescriptorSet]struct{}
}

func (p *Pool) MaxSets() int   { return p.maxSets }
func (p *Pool) Allocated() int { return len(p.live) }

func (p *Pool) freeable() bool {
	return p.flags&core1_0.DescriptorPoolCreateFreeDescriptorSet != 0
}

func (p *Pool) Allocate(layout *SetLayout) (device.DescriptorSet, error) {
	if len(p.live) >= p.maxSets {
		return nil, errors.Mark(errors.Newf("all %d descriptor sets are in use", p.maxSets), ErrPoolExhausted)
	}

	set, err := p.handle.Allocate(layout.Handle())
	if err != nil {
		return nil, errors.Wrap(err, "allocate descriptor set")
	}

	p.live[set] = struct{}{}
	return set, nil
}

// Free returns sets to the pool. Every set must be live and allocated from
// this pool; otherwise nothing is freed.
func (p *Pool) Free(sets ...device.DescriptorSet) error {
	if !p.freeable() {
		return errors.AssertionFailedf("free of individual sets from a pool without the free descriptor set flag")
	}

	seen := make(map[device.DescriptorSet]struct{}, len(sets))
	for i, set := range sets {
		_, live := p.live[set]
		_, repeated := seen[set]
		if !live || repeated {
			return errors.Mark(errors.Newf("descriptor set %d was not allocated from this pool or is already free", i), device.ErrInvalidArgument)
		}
		seen[set] = struct{}{}
	}

	err := p.handle.Free(sets)
	if err != nil {
		return errors.Wrap(err, "free descriptor sets")
	}

	for _, set := range sets {
		delete(p.live, set)
	}
	return nil
}

// Reset invalidates every set allocated from the pool. The caller guarantees
// none of them is referenced by work the GPU has not finished.
func (p *Pool) Reset() error {
	err := p.handle.Reset()
	if err != nil {
		return errors.Wrap(err, "reset descriptor pool")
	}

	clear(p.live)
	return nil
}

func (p *Pool) Destroy() {
	if p.handle != nil {
		p.handle.Destroy()
		p.handle = nil
	}
}
