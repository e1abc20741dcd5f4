package display

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/graphics"
)

// Display presents the back buffers of one swap chain
type Display struct {
	logger    *slog.Logger
	device    *graphics.Device
	swapChain driver.SwapChain
	options   Options

	backBuffers []*graphics.ColorBuffer
	// bufferFences is the fence of the last frame rendered into each back buffer
	bufferFences []uint64
	// frameFences is a ring of the last MaxFramesInFlight presented frames
	frameFences []uint64
	frameCount  uint64
	width       uint32
	height      uint32
}

// New wraps the buffers of swapChain. The swap chain stays owned by the caller, but must not be
// resized except through Resize.
func New(logger *slog.Logger, device *graphics.Device, swapChain driver.SwapChain, options Options) (*Display, error) {
	if options.MaxFramesInFlight <= 0 {
		options.MaxFramesInFlight = defaultMaxFramesInFlight
	}

	display := &Display{
		logger:      logger,
		device:      device,
		swapChain:   swapChain,
		options:     options,
		frameFences: make([]uint64, options.MaxFramesInFlight),
	}

	err := display.wrapBuffers()
	if err != nil {
		display.destroyBuffers()
		return nil, err
	}

	logger.Debug("Display::New",
		slog.Int("BufferCount", len(display.backBuffers)),
		slog.Int("MaxFramesInFlight", options.MaxFramesInFlight),
		slog.String("Format", swapChain.Format().String()),
	)
	return display, nil
}

func (d *Display) wrapBuffers() error {
	count := d.swapChain.BufferCount()
	d.backBuffers = make([]*graphics.ColorBuffer, 0, count)
	d.bufferFences = make([]uint64, count)

	for i := 0; i < count; i++ {
		resource, err := d.swapChain.Buffer(i)
		if err != nil {
			return errors.Wrapf(err, "acquiring back buffer %d", i)
		}

		buffer := graphics.NewColorBuffer([4]float32{})
		err = buffer.CreateFromSwapChain(d.device, fmt.Sprintf("Primary SwapChain Buffer %d", i), resource)
		if err != nil {
			resource.Destroy()
			return err
		}
		d.backBuffers = append(d.backBuffers, buffer)
	}

	if count > 0 {
		d.width = d.backBuffers[0].Width()
		d.height = d.backBuffers[0].Height()
	}
	return nil
}

func (d *Display) destroyBuffers() {
	for _, buffer := range d.backBuffers {
		buffer.Destroy()
	}
	d.backBuffers = nil
}

// BackBuffer is the buffer the next frame should render into
func (d *Display) BackBuffer() *graphics.ColorBuffer {
	return d.backBuffers[d.swapChain.CurrentBackBufferIndex()]
}

// FrameCount is the number of frames presented since New
func (d *Display) FrameCount() uint64 {
	return d.frameCount
}

func (d *Display) Size() (uint32, uint32) {
	return d.width, d.height
}

// Present transitions the back buffer to the present state, submits and presents it. Before returning
// it waits for the GPU to finish the frame MaxFramesInFlight frames back, and for the last frame that
// rendered into the buffer that is about to become the back buffer.
func (d *Display) Present() error {
	index := d.swapChain.CurrentBackBufferIndex()

	context, err := d.device.Begin("Present")
	if err != nil {
		return err
	}
	context.TransitionResource(d.backBuffers[index], driver.ResourceStatePresent, false)

	fenceValue, err := context.Finish(false)
	if err != nil {
		return err
	}

	queues := d.device.Queues()
	err = d.swapChain.Present(queues.GraphicsQueue().Native(), d.options.SyncInterval)
	if err != nil {
		return errors.Wrapf(err, "presenting frame %d", d.frameCount)
	}

	d.bufferFences[index] = fenceValue
	d.frameFences[d.frameCount%uint64(len(d.frameFences))] = fenceValue
	d.frameCount++

	oldest := d.frameFences[d.frameCount%uint64(len(d.frameFences))]
	if oldest != 0 {
		err = queues.WaitForFence(oldest)
		if err != nil {
			return err
		}
	}

	next := d.bufferFences[d.swapChain.CurrentBackBufferIndex()]
	if next != 0 {
		err = queues.WaitForFence(next)
		if err != nil {
			return err
		}
	}

	return nil
}

// Resize idles the GPU and recreates the back buffers at width x height. Resizing to the current size
// does nothing.
func (d *Display) Resize(width, height uint32) error {
	if width == d.width && height == d.height {
		return nil
	}

	err := d.device.IdleGPU()
	if err != nil {
		return err
	}

	d.destroyBuffers()
	err = d.swapChain.ResizeBuffers(width, height)
	if err != nil {
		return errors.Wrapf(err, "resizing swap chain to %dx%d", width, height)
	}

	err = d.wrapBuffers()
	if err != nil {
		return err
	}

	d.logger.Debug("Display::Resize", slog.Int("Width", int(width)), slog.Int("Height", int(height)))
	return nil
}

// Shutdown idles the GPU and releases the back buffers. The swap chain itself is left to the caller.
func (d *Display) Shutdown() error {
	err := d.device.IdleGPU()
	d.destroyBuffers()
	return err
}
