package swapchain

import (
	"github.com/cockroachdb/errors"

	"github.com/iliadengine/iliad/internal/device"
)

// FrameSlot holds the synchronization primitives and command buffer of one
// frame in flight. Slots outlive every chain they are used with.
type FrameSlot struct {
	ImageAvailable device.Semaphore
	RenderFinished device.Semaphore
	// InFlight is signaled once the GPU has finished the slot's last submission.
	InFlight      device.Fence
	CommandBuffer device.CommandBuffer
}

// NewFrameSlots creates count slots, each with a signaled fence so that the
// first wait on it returns immediately.
func NewFrameSlots(ctx device.Context, count int) ([]*FrameSlot, error) {
	buffers, err := ctx.AllocateCommandBuffers(count)
	if err != nil {
		return nil, errors.Wrap(err, "allocate frame command buffers")
	}

	slots := make([]*FrameSlot, count)
	for i := range slots {
		slots[i] = &FrameSlot{CommandBuffer: buffers[i]}
	}

	for _, slot := range slots {
		slot.ImageAvailable, err = ctx.CreateSemaphore()
		if err != nil {
			DestroyFrameSlots(ctx, slots)
			return nil, errors.Wrap(err, "create image available semaphore")
		}

		slot.RenderFinished, err = ctx.CreateSemaphore()
		if err != nil {
			DestroyFrameSlots(ctx, slots)
			return nil, errors.Wrap(err, "create render finished semaphore")
		}

		slot.InFlight, err = ctx.CreateFence(true)
		if err != nil {
			DestroyFrameSlots(ctx, slots)
			return nil, errors.Wrap(err, "create in flight fence")
		}
	}

	return slots, nil
}

// DestroyFrameSlots releases the slots. The device must be idle.
func DestroyFrameSlots(ctx device.Context, slots []*FrameSlot) {
	var buffers []device.CommandBuffer
	for _, slot := range slots {
		if slot.InFlight != nil {
			slot.InFlight.Destroy()
		}
		if slot.RenderFinished != nil {
			slot.RenderFinished.Destroy()
		}
		if slot.ImageAvailable != nil {
			slot.ImageAvailable.Destroy()
		}
		if slot.CommandBuffer != nil {
			buffers = append(buffers, slot.CommandBuffer)
		}
	}

	if len(buffers) > 0 {
		ctx.FreeCommandBuffers(buffers)
	}
}
