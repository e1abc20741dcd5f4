package webgpu

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
)

// Fence is the webgpu driver.Fence over a hal timeline fence. Signaled values are polled in order with
// zero-timeout waits, so the completed value only moves past values the hal has reported reached.
type Fence struct {
	device *Device
	fence  hal.Fence

	mutex     sync.Mutex
	completed uint64
	signaled  uint64
	pending   utils.Queue[uint64]
	destroyed bool
}

var _ driver.Fence = &Fence{}

// push records a value submitted to the queue. Must be called in submission order.
func (f *Fence) push(value uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if value > f.signaled {
		f.signaled = value
	}
	f.pending.Push(value)
}

// signaledValue is the highest value submitted to the queue
func (f *Fence) signaledValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.signaled
}

func (f *Fence) retireLocked() {
	value, _ := f.pending.Pop()
	if value > f.completed {
		f.completed = value
	}
}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for {
		value, ok := f.pending.Front()
		if !ok {
			break
		}

		reached, err := f.device.device.Wait(f.fence, value, 0)
		if err != nil || !reached {
			break
		}
		f.retireLocked()
	}

	return f.completed
}

// WaitForValue blocks until value is reached. Waiting on a value nothing has signaled would block
// forever and returns an error instead.
func (f *Fence) WaitForValue(value uint64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.completed >= value {
		return nil
	}
	if value > f.signaled {
		return errors.Mark(errors.Newf("wait for fence value %d would never return: the highest signaled value is %d", value, f.signaled), driver.ErrDeviceLost)
	}

	err := f.device.waitFence(f.fence, value)
	if err != nil {
		return err
	}

	for {
		front, ok := f.pending.Front()
		if !ok || front > value {
			break
		}
		f.retireLocked()
	}
	if value > f.completed {
		f.completed = value
	}
	return nil
}

func (f *Fence) Destroy() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.destroyed {
		panic("webgpu fence destroyed twice")
	}
	f.destroyed = true

	if f.pending.Len() > 0 {
		if err := f.device.waitFence(f.fence, f.signaled); err != nil {
			f.device.logger.Warn("Fence::Destroy could not wait for pending signals", slog.Any("Error", err))
		}
		f.pending.Clear()
	}
	f.device.device.DestroyFence(f.fence)
}
