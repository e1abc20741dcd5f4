package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
)

type pendingSignal struct {
	value uint64
	fence core1_0.Fence
}

// Fence is the vulkan driver.Fence. Core 1.0 has no timeline semaphores, so every Signal submits a binary
// VkFence and the completed value advances as those fences are observed signaled, in submission order.
type Fence struct {
	device *Device

	mutex     sync.Mutex
	completed uint64
	signaled  uint64
	pending   utils.Queue[pendingSignal]
	destroyed bool
}

var _ driver.Fence = &Fence{}

func newFence(device *Device, initialValue uint64) *Fence {
	return &Fence{
		device:    device,
		completed: initialValue,
		signaled:  initialValue,
	}
}

// push records that vkFence signals once value is reached. Must be called in submission order.
func (f *Fence) push(value uint64, vkFence core1_0.Fence) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if value > f.signaled {
		f.signaled = value
	}
	f.pending.Push(pendingSignal{value: value, fence: vkFence})
}

// retireLocked pops the front signal, which must have been observed signaled
func (f *Fence) retireLocked() error {
	signal, _ := f.pending.Pop()
	if signal.value > f.completed {
		f.completed = signal.value
	}
	return f.device.releaseFence(signal.fence)
}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for {
		signal, ok := f.pending.Front()
		if !ok {
			break
		}

		res, err := signal.fence.Status()
		if err != nil || res != core1_0.VKSuccess {
			break
		}

		if f.retireLocked() != nil {
			break
		}
	}

	return f.completed
}

// WaitForValue blocks on the fences of every pending signal up to value. Waiting on a value nothing has
// signaled would block forever and returns an error instead.
func (f *Fence) WaitForValue(value uint64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if value > f.signaled && value > f.completed {
		return errors.Mark(errors.Newf("wait for fence value %d would never return: the highest signaled value is %d", value, f.signaled), driver.ErrDeviceLost)
	}

	for f.completed < value {
		signal, ok := f.pending.Front()
		if !ok {
			return errors.AssertionFailedf("fence has no pending signal for value %d", value)
		}

		res, err := signal.fence.Wait(common.NoTimeout)
		if err != nil {
			return resultError(res, err, "waiting for fence value %d", signal.value)
		}

		err = f.retireLocked()
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *Fence) Destroy() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.destroyed {
		panic("vulkan fence destroyed twice")
	}
	f.destroyed = true

	// Signals still pending belong to work that has not been waited for; their fences cannot be reused
	f.pending.Each(func(signal pendingSignal) {
		_, _ = signal.fence.Wait(common.NoTimeout)
		signal.fence.Destroy(f.device.options.AllocationCallbacks)
	})
	f.pending.Clear()
}
