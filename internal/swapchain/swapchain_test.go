package swapchain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"

	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/device/devicetest"
)

var windowExtent = core1_0.Extent2D{Width: 800, Height: 600}

func newChain(t *testing.T, ctx *devicetest.Context) *Chain {
	t.Helper()

	chain, err := New(ctx, windowExtent, nil, Options{PreferLowLatency: true})
	require.NoError(t, err)
	return chain
}

func TestImageCount(t *testing.T) {
	testCases := []struct {
		name     string
		min, max int
		expected int
	}{
		{name: "one above minimum", min: 2, max: 3, expected: 3},
		{name: "capped at maximum", min: 3, max: 3, expected: 3},
		{name: "unbounded maximum", min: 2, max: 0, expected: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := devicetest.NewContext()
			ctx.Surface.Capabilities.MinImageCount = tc.min
			ctx.Surface.Capabilities.MaxImageCount = tc.max

			chain := newChain(t, ctx)
			defer chain.Destroy()

			assert.Equal(t, tc.expected, chain.ImageCount())
			assert.Equal(t, tc.expected, ctx.Live("framebuffer"))
			assert.Equal(t, tc.expected, ctx.Live("image"))
		})
	}
}

func TestExtent(t *testing.T) {
	ctx := devicetest.NewContext()
	ctx.Surface.Capabilities.MaxImageExtent = core1_0.Extent2D{Width: 640, Height: 4096}

	chain := newChain(t, ctx)
	assert.Equal(t, core1_0.Extent2D{Width: 640, Height: 600}, chain.Extent())
	chain.Destroy()

	ctx.Surface.Capabilities.CurrentExtent = core1_0.Extent2D{Width: 1024, Height: 768}
	chain = newChain(t, ctx)
	defer chain.Destroy()
	assert.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, chain.Extent())
	assert.InDelta(t, 4.0/3.0, chain.AspectRatio(), 1e-6)

	framebuffer := chain.Framebuffer(0).(*devicetest.Framebuffer)
	assert.Equal(t, chain.Extent(), framebuffer.Extent)
	assert.Same(t, chain.RenderPass(), framebuffer.RenderPass)
	assert.Len(t, framebuffer.Attachments, 2)
}

func TestZeroExtentCreatesNothing(t *testing.T) {
	ctx := devicetest.NewContext()
	ctx.Surface.Capabilities.CurrentExtent = core1_0.Extent2D{Width: 0, Height: 0}

	chain, err := New(ctx, windowExtent, nil, Options{})
	assert.Nil(t, chain)
	assert.True(t, errors.Is(err, ErrZeroExtent))
	assert.Zero(t, ctx.Live("swapchain"))
	assert.Zero(t, ctx.Live("image"))
	assert.Zero(t, ctx.Live("framebuffer"))

	// Surfaces that defer to the window may also allow a zero minimum.
	ctx.Surface.Capabilities.CurrentExtent = core1_0.Extent2D{Width: -1, Height: -1}
	ctx.Surface.Capabilities.MinImageExtent = core1_0.Extent2D{}
	_, err = New(ctx, core1_0.Extent2D{Width: 800, Height: 0}, nil, Options{})
	assert.True(t, errors.Is(err, ErrZeroExtent))
	assert.Zero(t, ctx.Live("swapchain"))
}

func TestSurfaceFormatPolicy(t *testing.T) {
	ctx := devicetest.NewContext()
	ctx.Surface.Formats = []khr_surface.Format{
		{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
	}

	chain := newChain(t, ctx)
	assert.Equal(t, core1_0.FormatB8G8R8A8SRGB, chain.ColorFormat())
	chain.Destroy()

	ctx.Surface.Formats = ctx.Surface.Formats[:1]
	chain = newChain(t, ctx)
	assert.Equal(t, core1_0.FormatR8G8B8A8SRGB, chain.ColorFormat())
	chain.Destroy()

	ctx.Surface.Formats = nil
	_, err := New(ctx, windowExtent, nil, Options{})
	require.True(t, errors.Is(err, ErrNoSurfaceFormats))
	assert.Zero(t, ctx.Live("swapchain"))
}

func TestPresentModePolicy(t *testing.T) {
	modes := []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}

	assert.Equal(t, khr_surface.PresentModeMailbox, choosePresentMode(modes, true))
	assert.Equal(t, khr_surface.PresentModeFIFO, choosePresentMode(modes, false))
	assert.Equal(t, khr_surface.PresentModeFIFO, choosePresentMode(modes[:1], true))
}

func TestDepthFormatFallback(t *testing.T) {
	ctx := devicetest.NewContext()
	ctx.Unsupported = map[core1_0.Format]bool{core1_0.FormatD32SignedFloat: true}

	chain := newChain(t, ctx)
	assert.Equal(t, core1_0.FormatD32SignedFloatS8UnsignedInt, chain.DepthFormat())
	chain.Destroy()

	for _, format := range depthCandidates {
		ctx.Unsupported[format] = true
	}
	_, err := New(ctx, windowExtent, nil, Options{})
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDestroyReleasesEverything(t *testing.T) {
	ctx := devicetest.NewContext()
	chain := newChain(t, ctx)
	chain.Destroy()

	for _, kind := range []string{"swapchain", "image", "image-view", "framebuffer", "render-pass"} {
		assert.Zero(t, ctx.Live(kind), kind)
	}
}

func TestRecreateHandsOverOldSwapchain(t *testing.T) {
	ctx := devicetest.NewContext()
	first := newChain(t, ctx)
	second, err := New(ctx, core1_0.Extent2D{Width: 1280, Height: 720}, first, Options{})
	require.NoError(t, err)
	defer second.Destroy()

	swapchains := ctx.Swapchains()
	require.Len(t, swapchains, 2)
	assert.Same(t, swapchains[0], swapchains[1].Info.Old)
	assert.True(t, second.CompareFormats(first))
	first.Destroy()

	ctx.Surface.Formats = []khr_surface.Format{
		{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
	}
	third, err := New(ctx, windowExtent, second, Options{})
	require.NoError(t, err)
	defer third.Destroy()
	assert.False(t, third.CompareFormats(second))
}

func TestAcquireIndexWithinImageCount(t *testing.T) {
	ctx := devicetest.NewContext()
	chain := newChain(t, ctx)
	defer chain.Destroy()

	slots, err := NewFrameSlots(ctx, 2)
	require.NoError(t, err)
	defer DestroyFrameSlots(ctx, slots)

	for i := 0; i < 20; i++ {
		slot := slots[i%len(slots)]
		index, result, err := chain.AcquireNextImage(slot)
		require.NoError(t, err)
		require.Equal(t, device.ResultOK, result)
		require.Less(t, index, chain.ImageCount())

		_, err = chain.SubmitAndPresent(slot, index)
		require.NoError(t, err)
	}

	ctx.QueueAcquireIndex(chain.ImageCount())
	_, _, err = chain.AcquireNextImage(slots[0])
	require.True(t, errors.Is(err, ErrAcquireFailed))
}

func TestAcquireReportsStale(t *testing.T) {
	ctx := devicetest.NewContext()
	chain := newChain(t, ctx)
	defer chain.Destroy()

	slots, err := NewFrameSlots(ctx, 1)
	require.NoError(t, err)
	defer DestroyFrameSlots(ctx, slots)

	ctx.QueueAcquire(device.ResultStale, device.ResultSuboptimal)
	_, result, err := chain.AcquireNextImage(slots[0])
	require.NoError(t, err)
	assert.Equal(t, device.ResultStale, result)

	index, result, err := chain.AcquireNextImage(slots[0])
	require.NoError(t, err)
	assert.Equal(t, device.ResultSuboptimal, result)

	ctx.QueuePresent(device.ResultStale)
	result, err = chain.SubmitAndPresent(slots[0], index)
	require.NoError(t, err)
	assert.Equal(t, device.ResultStale, result)
}

func TestSubmitWaitsForImageOwner(t *testing.T) {
	ctx := devicetest.NewContext()
	ctx.ManualFences = true
	chain := newChain(t, ctx)
	defer chain.Destroy()

	slots, err := NewFrameSlots(ctx, 2)
	require.NoError(t, err)
	defer DestroyFrameSlots(ctx, slots)

	ctx.QueueAcquireIndex(0, 0)

	index, _, err := chain.AcquireNextImage(slots[0])
	require.NoError(t, err)
	_, err = chain.SubmitAndPresent(slots[0], index)
	require.NoError(t, err)
	require.Equal(t, 1, ctx.Pending())

	// slot 1 is free, but the image it gets is still being rendered by slot 0
	index, _, err = chain.AcquireNextImage(slots[1])
	require.NoError(t, err)
	require.Equal(t, 0, index)

	done := make(chan error, 1)
	go func() {
		_, err := chain.SubmitAndPresent(slots[1], index)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("submission did not wait for the previous owner of the image")
	case <-time.After(50 * time.Millisecond):
	}

	ctx.CompleteNext()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submission still blocked after the image owner completed")
	}
}

func TestSubmitFailure(t *testing.T) {
	ctx := devicetest.NewContext()
	chain := newChain(t, ctx)
	defer chain.Destroy()

	slots, err := NewFrameSlots(ctx, 1)
	require.NoError(t, err)
	defer DestroyFrameSlots(ctx, slots)

	index, _, err := chain.AcquireNextImage(slots[0])
	require.NoError(t, err)

	ctx.SubmitErr = device.ErrDeviceLost
	_, err = chain.SubmitAndPresent(slots[0], index)
	require.True(t, errors.Is(err, ErrSubmitFailed))
	require.True(t, errors.Is(err, device.ErrDeviceLost))
}

func TestFrameSlots(t *testing.T) {
	ctx := devicetest.NewContext()
	slots, err := NewFrameSlots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	for _, slot := range slots {
		assert.True(t, slot.InFlight.(*devicetest.Fence).Signaled())
	}
	assert.Equal(t, 4, ctx.Live("semaphore"))
	assert.Equal(t, 2, ctx.Live("command-buffer"))

	DestroyFrameSlots(ctx, slots)
	assert.Zero(t, ctx.Live("semaphore"))
	assert.Zero(t, ctx.Live("fence"))
	assert.Zero(t, ctx.Live("command-buffer"))
}
