package noop

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// Fence is the noop driver.Fence. Values are completed as soon as they are signaled unless the device
// was created with ManualFenceCompletion.
type Fence struct {
	device *Device

	mutex     sync.Mutex
	completed uint64
	signaled  uint64
	destroyed bool
}

var _ driver.Fence = &Fence{}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.completed
}

// SignaledValue is the highest value a queue has signaled on the fence
func (f *Fence) SignaledValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.signaled
}

// Complete advances the completed value to value, or to the highest signaled value if that is lower
func (f *Fence) Complete(value uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.completeLocked(value)
}

func (f *Fence) completeLocked(value uint64) {
	if value > f.signaled {
		value = f.signaled
	}
	if value > f.completed {
		f.completed = value
	}
}

func (f *Fence) signal(value uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if value > f.signaled {
		f.signaled = value
	}
	if !f.device.options.ManualFenceCompletion {
		f.completeLocked(value)
	}
}

// WaitForValue completes the fence up to value. Waiting on a value nothing has signaled would block
// forever on real hardware and returns an error instead.
func (f *Fence) WaitForValue(value uint64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.completed >= value {
		return nil
	}
	if value > f.signaled {
		return errors.Mark(errors.Newf("wait for fence value %d would never return: the highest signaled value is %d", value, f.signaled), driver.ErrDeviceLost)
	}

	f.completeLocked(value)
	return nil
}

func (f *Fence) Destroy() {
	f.mutex.Lock()
	if f.destroyed {
		f.mutex.Unlock()
		panic("noop fence destroyed twice")
	}
	f.destroyed = true
	f.mutex.Unlock()

	f.device.mutex.Lock()
	for i, fence := range f.device.fences {
		if fence == f {
			f.device.fences = append(f.device.fences[:i], f.device.fences[i+1:]...)
			break
		}
	}
	f.device.mutex.Unlock()

	f.device.destroyed()
}
