package noop

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// SwapChain is an offscreen driver.SwapChain. Back buffers start in the present state and must be
// back in it when presented.
type SwapChain struct {
	device *Device
	format driver.Format

	mutex      sync.Mutex
	width      uint32
	height     uint32
	buffers    []*Resource
	references []int
	current    int
	presents   int
}

var _ driver.SwapChain = &SwapChain{}

func NewSwapChain(device *Device, bufferCount int, width, height uint32, format driver.Format) *SwapChain {
	swapChain := &SwapChain{
		device: device,
		format: format,
	}
	swapChain.createBuffers(bufferCount, width, height)
	return swapChain
}

func (s *SwapChain) createBuffers(count int, width, height uint32) {
	s.width = width
	s.height = height
	s.buffers = make([]*Resource, count)
	s.references = make([]int, count)
	s.current = 0

	for i := range s.buffers {
		s.buffers[i] = &Resource{
			device: s.device,
			desc: driver.ResourceDesc{
				Label:            fmt.Sprintf("Back Buffer %d", i),
				Dimension:        driver.DimensionTexture2D,
				Width:            uint64(width),
				Height:           height,
				DepthOrArraySize: 1,
				MipLevels:        1,
				Format:           s.format,
				SampleCount:      1,
				Flags:            driver.ResourceFlagAllowRenderTarget,
			},
			state:       driver.ResourceStatePresent,
			swapChain:   s,
			bufferIndex: i,
		}
	}
}

func (s *SwapChain) BufferCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.buffers)
}

func (s *SwapChain) Buffer(index int) (driver.Resource, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if index < 0 || index >= len(s.buffers) {
		return nil, errors.Newf("swap chain has no buffer %d", index)
	}
	s.references[index]++
	return s.buffers[index], nil
}

func (s *SwapChain) release(index int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.references[index] == 0 {
		panic("swap chain buffer released more times than it was acquired")
	}
	s.references[index]--
}

func (s *SwapChain) CurrentBackBufferIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.current
}

func (s *SwapChain) Format() driver.Format {
	return s.format
}

// Presents is the number of successful Present calls
func (s *SwapChain) Presents() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.presents
}

// Size is the current back buffer size
func (s *SwapChain) Size() (uint32, uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.width, s.height
}

func (s *SwapChain) Present(queue driver.Queue, syncInterval int) error {
	if queue.Type() != driver.CommandListDirect {
		return errors.Newf("cannot present from a %s queue", queue.Type())
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	buffer := s.buffers[s.current]
	if state := buffer.State(); !s.device.options.SkipStateValidation && state != driver.ResourceStatePresent {
		return errors.AssertionFailedf("presented back buffer %d in state %s", s.current, state)
	}

	s.current = (s.current + 1) % len(s.buffers)
	s.presents++
	return nil
}

func (s *SwapChain) ResizeBuffers(width, height uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, refs := range s.references {
		if refs > 0 {
			return errors.Newf("cannot resize swap chain: back buffer %d still has %d references", i, refs)
		}
	}

	s.createBuffers(len(s.buffers), width, height)
	return nil
}

func (s *SwapChain) Destroy() {
}
