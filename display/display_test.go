package display

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/graphics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func createDisplay(t *testing.T, bufferCount int, options Options) (*noop.Device, *noop.SwapChain, *graphics.Device, *Display) {
	drv := noop.New(testLogger(), noop.Options{ManualFenceCompletion: true})
	device, err := graphics.New(testLogger(), drv, graphics.CreateOptions{})
	require.NoError(t, err)

	swapChain := noop.NewSwapChain(drv, bufferCount, 640, 480, driver.FormatB8G8R8A8UnormSRGB)
	display, err := New(testLogger(), device, swapChain, options)
	require.NoError(t, err)

	return drv, swapChain, device, display
}

func renderFrame(t *testing.T, device *graphics.Device, display *Display) {
	context, err := device.Begin("Frame")
	require.NoError(t, err)
	context.TransitionResource(display.BackBuffer(), driver.ResourceStateRenderTarget, false)
	_, err = context.Finish(false)
	require.NoError(t, err)

	require.NoError(t, display.Present())
}

func TestBackBuffers(t *testing.T) {
	_, swapChain, device, display := createDisplay(t, 3, Options{})
	defer device.Destroy()

	width, height := display.Size()
	require.Equal(t, uint32(640), width)
	require.Equal(t, uint32(480), height)

	seen := map[*graphics.ColorBuffer]bool{}
	for i := 0; i < 3; i++ {
		buffer := display.BackBuffer()
		require.Equal(t, driver.ResourceStatePresent, buffer.UsageState())
		require.Equal(t, driver.FormatB8G8R8A8UnormSRGB, buffer.Format())
		seen[buffer] = true

		renderFrame(t, device, display)
		require.Equal(t, driver.ResourceStatePresent, buffer.UsageState())
	}
	require.Len(t, seen, 3)
	require.Equal(t, 3, swapChain.Presents())
	require.Equal(t, uint64(3), display.FrameCount())

	require.NoError(t, display.Shutdown())
	require.NoError(t, swapChain.ResizeBuffers(1, 1))
}

func TestFramePacing(t *testing.T) {
	_, _, device, display := createDisplay(t, 4, Options{MaxFramesInFlight: 2})
	defer device.Destroy()
	queues := device.Queues()

	var fences []uint64
	for i := 0; i < 6; i++ {
		renderFrame(t, device, display)
		fences = append(fences, queues.GraphicsQueue().NextFenceValue()-1)

		// Only the most recent MaxFramesInFlight-1 frames may still be executing
		for j, fence := range fences {
			require.Equal(t, j < len(fences)-1, queues.IsFenceComplete(fence), "frame %d after present %d", j, i)
		}
	}

	require.NoError(t, display.Shutdown())
}

func TestBackBufferReuseWaits(t *testing.T) {
	_, _, device, display := createDisplay(t, 2, Options{MaxFramesInFlight: 3})
	defer device.Destroy()
	queues := device.Queues()

	renderFrame(t, device, display)
	first := queues.GraphicsQueue().NextFenceValue() - 1
	require.False(t, queues.IsFenceComplete(first))

	// The next back buffer is the first one again, so its frame must have retired
	renderFrame(t, device, display)
	require.True(t, queues.IsFenceComplete(first))

	require.NoError(t, display.Shutdown())
}

func TestResize(t *testing.T) {
	drv, swapChain, device, display := createDisplay(t, 2, Options{})
	defer device.Destroy()

	renderFrame(t, device, display)
	before := display.BackBuffer()
	rtv := before.RTV()

	require.NoError(t, display.Resize(640, 480))
	require.Same(t, before, display.BackBuffer())

	require.NoError(t, display.Resize(1280, 720))
	width, height := swapChain.Size()
	require.Equal(t, uint32(1280), width)
	require.Equal(t, uint32(720), height)

	after := display.BackBuffer()
	require.NotSame(t, before, after)
	require.Equal(t, uint32(1280), after.Width())
	require.Equal(t, driver.ResourceStatePresent, after.UsageState())
	require.NotEqual(t, rtv, after.RTV())

	view, ok := drv.View(after.RTV())
	require.True(t, ok)
	require.Same(t, after.Native(), driver.Resource(view.Resource))

	renderFrame(t, device, display)
	require.NoError(t, display.Shutdown())
}

func TestResizeWithOutstandingReference(t *testing.T) {
	_, swapChain, device, display := createDisplay(t, 2, Options{})
	defer device.Destroy()

	resource, err := swapChain.Buffer(0)
	require.NoError(t, err)

	require.Error(t, display.Resize(320, 240))
	resource.Destroy()

	require.NoError(t, display.Shutdown())
}
