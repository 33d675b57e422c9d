// Package descriptors builds descriptor set layouts, capacity-bounded
// descriptor pools and the writer that allocates and fills sets from them.
package descriptors

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/device"
)

var (
	ErrDuplicateBinding = errors.New("binding already in use")
	ErrUnknownBinding   = errors.New("layout does not contain binding")
)

type SetLayoutBuilder struct {
	ctx      device.Context
	bindings map[int]core1_0.DescriptorSetLayoutBinding
	err      error
}

func NewSetLayoutBuilder(ctx device.Context) *SetLayoutBuilder {
	return &SetLayoutBuilder{
		ctx:      ctx,
		bindings: map[int]core1_0.DescriptorSetLayoutBinding{},
	}
}

func (b *SetLayoutBuilder) AddBinding(binding int, descriptorType core1_0.DescriptorType, stages core1_0.ShaderStageFlags, count int) *SetLayoutBuilder {
	if b.err != nil {
		return b
	}

	if _, exists := b.bindings[binding]; exists {
		b.err = errors.Mark(errors.AssertionFailedf("binding %d added twice", binding), ErrDuplicateBinding)
		return b
	}

	b.bindings[binding] = core1_0.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  descriptorType,
		DescriptorCount: count,
		StageFlags:      stages,
	}
	return b
}

func (b *SetLayoutBuilder) Build() (*SetLayout, error) {
	if b.err != nil {
		return nil, b.err
	}

	var bindings []core1_0.DescriptorSetLayoutBinding
	for _, binding := range b.bindings {
		bindings = append(bindings, binding)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Binding < bindings[j].Binding })

	handle, err := b.ctx.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}

	return &SetLayout{handle: handle, bindings: b.bindings}, nil
}

type SetLayout struct {
	handle   device.DescriptorSetLayout
	bindings map[int]core1_0.DescriptorSetLayoutBinding
}

func (l *SetLayout) Handle() device.DescriptorSetLayout { return l.handle }

func (l *SetLayout) Binding(binding int) (core1_0.DescriptorSetLayoutBinding, bool) {
	b, ok := l.bindings[binding]
	return b, ok
}

func (l *SetLayout) Destroy() {
	if l.handle != nil {
		l.handle.Destroy()
		l.handle = nil
	}
}
