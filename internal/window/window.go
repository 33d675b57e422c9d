// Package window is the SDL window the renderer presents to.
package window

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/logging"
)

// ErrClosed is returned by WaitEvents once the user has asked to close the window.
var ErrClosed = errors.New("window closed")

type Options struct {
	Title  string
	Width  int
	Height int
	Logger *slog.Logger
}

type Window struct {
	window *sdl.Window
	logger *slog.Logger

	resized     bool
	minimized   bool
	shouldClose bool
}

// New initializes SDL video and opens a resizable Vulkan window.
func New(opts Options) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl")
	}

	window, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(opts.Width), int32(opts.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	return &Window{window: window, logger: logging.OrNop(opts.Logger)}, nil
}

// Handle is the underlying SDL window, used to create the Vulkan surface.
func (w *Window) Handle() *sdl.Window { return w.window }

// Extent is the drawable size in pixels, which differs from the window size
// on high-DPI displays. It is zero while the window is minimized, even on
// platforms that keep reporting the restored size.
func (w *Window) Extent() core1_0.Extent2D {
	if w.minimized {
		return core1_0.Extent2D{}
	}

	width, height := w.window.VulkanGetDrawableSize()
	return core1_0.Extent2D{Width: int(width), Height: int(height)}
}

func (w *Window) WasResized() bool  { return w.resized }
func (w *Window) ResetResized()     { w.resized = false }
func (w *Window) Minimized() bool   { return w.minimized }
func (w *Window) ShouldClose() bool { return w.shouldClose }

// PollEvents handles every pending event without blocking.
func (w *Window) PollEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handle(event)
	}
}

// WaitEvents blocks until at least one event arrives, then drains the queue.
func (w *Window) WaitEvents() error {
	event := sdl.WaitEvent()
	if event == nil {
		return errors.Wrap(sdl.GetError(), "wait for window events")
	}
	w.handle(event)
	w.PollEvents()

	if w.shouldClose {
		return ErrClosed
	}
	return nil
}

func (w *Window) handle(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.shouldClose = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			w.shouldClose = true
		case sdl.WINDOWEVENT_MINIMIZED:
			w.minimized = true
		case sdl.WINDOWEVENT_RESTORED:
			w.minimized = false
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			w.resized = true
			w.logger.Debug("window resized", slog.Int("Width", int(e.Data1)), slog.Int("Height", int(e.Data2)))
		}
	}
}

func (w *Window) Destroy() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}
