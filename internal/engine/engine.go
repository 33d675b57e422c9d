// Package engine runs the frame loop: it updates the camera, fills the frame's
// global uniforms and hands the frame to each render system in turn.
package engine

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/camera"
	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/frames"
	"github.com/iliadengine/iliad/internal/logging"
	"github.com/iliadengine/iliad/internal/renderer"
)

var ErrTooManyLights = errors.New("too many point lights")

// Host is the window the engine runs in.
type Host interface {
	renderer.Host
	PollEvents()
	ShouldClose() bool
}

// RenderSystem records draw commands into a frame. It must not keep the
// FrameInfo, or anything allocated from its pool, past the call.
type RenderSystem interface {
	Render(frame *renderer.FrameInfo) error
}

// Transform places the viewer. Rotation holds Tait-Bryan angles in radians.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Vec3
}

type Options struct {
	Renderer renderer.Options
	// FramePoolMaxSets bounds the descriptor sets render systems may allocate per frame.
	FramePoolMaxSets int
	FieldOfView      float32
	Near             float32
	Far              float32
	AmbientColor     mgl32.Vec4
	Logger           *slog.Logger
}

type Engine struct {
	ctx    device.Context
	host   Host
	logger *slog.Logger
	opts   Options

	renderer  *renderer.Renderer
	resources *frames.Resources
	camera    *camera.Camera

	viewer  Transform
	lights  []PointLight
	systems []RenderSystem

	now         func() time.Duration
	currentTime time.Duration
	frameCount  int
}

func New(ctx device.Context, host Host, opts Options) (*Engine, error) {
	if opts.FieldOfView == 0 {
		opts.FieldOfView = mgl32.DegToRad(60)
	}
	if opts.Near == 0 {
		opts.Near = 0.1
	}
	if opts.Far == 0 {
		opts.Far = 10
	}
	if opts.AmbientColor == (mgl32.Vec4{}) {
		opts.AmbientColor = DefaultAmbientColor
	}
	logger := logging.OrNop(opts.Logger)
	if opts.Renderer.Logger == nil {
		opts.Renderer.Logger = logger
	}

	e := &Engine{
		ctx:    ctx,
		host:   host,
		logger: logger,
		opts:   opts,
		camera: camera.New(),
		viewer: Transform{Position: mgl32.Vec3{0, 0, -1}},
		now:    hrtime.Now,
	}

	var err error
	e.renderer, err = renderer.New(ctx, host, opts.Renderer)
	if err != nil {
		return nil, errors.Wrap(err, "create renderer")
	}

	e.resources, err = frames.New(ctx, frames.Options{
		FramesInFlight: e.renderer.FramesInFlight(),
		UniformSize:    binary.Size(GlobalUbo{}),
		PoolMaxSets:    opts.FramePoolMaxSets,
		Logger:         logger,
	})
	if err != nil {
		e.renderer.Destroy()
		return nil, errors.Wrap(err, "create frame resources")
	}

	err = e.camera.SetViewTarget(mgl32.Vec3{}, mgl32.Vec3{0.5, 0, 1}, mgl32.Vec3{0, -1, 0})
	if err != nil {
		e.Destroy()
		return nil, err
	}

	return e, nil
}

func (e *Engine) Renderer() *renderer.Renderer   { return e.renderer }
func (e *Engine) Resources() *frames.Resources   { return e.resources }
func (e *Engine) Camera() *camera.Camera         { return e.camera }
func (e *Engine) Viewer() *Transform             { return &e.viewer }
func (e *Engine) AddRenderSystem(s RenderSystem) { e.systems = append(e.systems, s) }

// AddPointLight adds a light to the global uniform block.
func (e *Engine) AddPointLight(light PointLight) error {
	if len(e.lights) == MaxPointLights {
		return errors.Mark(errors.Newf("at most %d point lights", MaxPointLights), ErrTooManyLights)
	}
	e.lights = append(e.lights, light)
	return nil
}

// Run pumps window events and draws frames until the window is closed, then
// waits for the device to finish.
func (e *Engine) Run() error {
	e.currentTime = e.now()

	for !e.host.ShouldClose() {
		e.host.PollEvents()
		if e.host.ShouldClose() {
			break
		}

		newTime := e.now()
		frameTime := float32((newTime - e.currentTime).Seconds())
		e.currentTime = newTime

		err := e.Frame(frameTime)
		if err != nil {
			if e.host.ShouldClose() {
				e.logger.Debug("window closed while waiting to render", slog.Any("Error", err))
				break
			}
			return err
		}
	}

	e.logger.Info("shutting down", slog.Int("Frames", e.frameCount))
	err := e.ctx.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	return nil
}

// Frame draws a single frame. A frame skipped because the swapchain was
// rebuilt is not an error.
func (e *Engine) Frame(frameTime float32) error {
	e.camera.SetViewYXZ(e.viewer.Position, e.viewer.Rotation)
	err := e.camera.SetPerspectiveProjection(e.opts.FieldOfView, e.renderer.AspectRatio(), e.opts.Near, e.opts.Far)
	if err != nil {
		return err
	}

	commandBuffer, err := e.renderer.BeginFrame()
	if err != nil {
		return errors.Wrap(err, "begin frame")
	}
	if commandBuffer == nil {
		return nil
	}

	frameIndex, err := e.renderer.FrameIndex()
	if err != nil {
		return err
	}

	frame, err := e.resources.Begin(frameIndex)
	if err != nil {
		return err
	}

	err = e.resources.WriteUniform(frameIndex, newGlobalUbo(e.camera, e.opts.AmbientColor, e.lights))
	if err != nil {
		return err
	}

	info := &renderer.FrameInfo{
		FrameIndex:          frameIndex,
		FrameTime:           frameTime,
		CommandBuffer:       commandBuffer,
		Camera:              e.camera,
		GlobalDescriptorSet: frame.GlobalSet,
		FramePool:           frame.Pool,
	}

	err = e.renderer.BeginRenderPass(commandBuffer)
	if err != nil {
		return err
	}

	for _, system := range e.systems {
		err = system.Render(info)
		if err != nil {
			return errors.Wrapf(err, "render frame %d", e.frameCount)
		}
	}

	err = e.renderer.EndRenderPass(commandBuffer)
	if err != nil {
		return err
	}

	err = e.renderer.EndFrame()
	if err != nil {
		return errors.Wrap(err, "end frame")
	}

	e.frameCount++
	return nil
}

// Destroy waits for the device and releases the frame resources and the renderer.
func (e *Engine) Destroy() error {
	err := e.ctx.WaitIdle()

	if e.resources != nil {
		e.resources.Destroy()
		e.resources = nil
	}

	if e.renderer != nil {
		rendererErr := e.renderer.Destroy()
		e.renderer = nil
		err = errors.CombineErrors(err, rendererErr)
	}

	return err
}
