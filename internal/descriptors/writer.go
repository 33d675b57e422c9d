package descriptors

import (
	"github.com/cockroachdb/errors"

	"github.com/iliadengine/iliad/internal/device"
)

// Writer collects buffer and image bindings for one descriptor set and then
// allocates and fills the set in a single step.
type Writer struct {
	layout *SetLayout
	pool   *Pool
	writes []device.DescriptorWrite
	err    error
}

func NewWriter(layout *SetLayout, pool *Pool) *Writer {
	return &Writer{layout: layout, pool: pool}
}

func (w *Writer) add(binding int, write device.DescriptorWrite) *Writer {
	if w.err != nil {
		return w
	}

	description, ok := w.layout.Binding(binding)
	if !ok {
		w.err = errors.Mark(errors.AssertionFailedf("layout does not contain binding %d", binding), ErrUnknownBinding)
		return w
	}
	if description.DescriptorCount != 1 {
		w.err = errors.AssertionFailedf("binding %d expects %d descriptors, but a single write was given", binding, description.DescriptorCount)
		return w
	}

	write.Binding = binding
	write.Type = description.DescriptorType
	w.writes = append(w.writes, write)
	return w
}

func (w *Writer) WriteBuffer(binding int, info device.BufferInfo) *Writer {
	return w.add(binding, device.DescriptorWrite{Buffer: &info})
}

func (w *Writer) WriteImage(binding int, info device.ImageInfo) *Writer {
	return w.add(binding, device.DescriptorWrite{Image: &info})
}

// Build allocates a set from the pool and applies the collected writes. An
// exhausted pool is reported as ErrPoolExhausted and allocates nothing. If the
// writes fail the set goes back to a freeable pool; any other pool keeps it
// counted until Reset.
func (w *Writer) Build() (device.DescriptorSet, error) {
	if w.err != nil {
		return nil, w.err
	}

	set, err := w.pool.Allocate(w.layout)
	if err != nil {
		return nil, err
	}

	err = w.Overwrite(set)
	if err != nil {
		if w.pool.freeable() {
			err = errors.CombineErrors(err, w.pool.Free(set))
		}
		return nil, err
	}
	return set, nil
}

// Overwrite applies the collected writes to an existing set.
func (w *Writer) Overwrite(set device.DescriptorSet) error {
	if w.err != nil {
		return w.err
	}

	writes := make([]device.DescriptorWrite, len(w.writes))
	for i, write := range w.writes {
		write.Set = set
		writes[i] = write
	}

	err := w.pool.ctx.UpdateDescriptorSets(writes)
	if err != nil {
		return errors.Wrap(err, "update descriptor set")
	}
	return nil
}
