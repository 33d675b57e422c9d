package renderer

import (
	"github.com/iliadengine/iliad/internal/camera"
	"github.com/iliadengine/iliad/internal/descriptors"
	"github.com/iliadengine/iliad/internal/device"
)

// FrameInfo is what draw systems receive for one frame. None of it may be
// retained once the frame has ended.
type FrameInfo struct {
	FrameIndex          int
	FrameTime           float32
	CommandBuffer       device.CommandBuffer
	Camera              *camera.Camera
	GlobalDescriptorSet device.DescriptorSet
	// FramePool is reset at the start of every use of this frame slot.
	FramePool *descriptors.Pool
}
