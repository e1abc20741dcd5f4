package webgpu

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"
	"github.com/vkngwrapper/forge/driver"
)

// Queue is the webgpu driver.Queue. Queues of every type share the device's hal queue, so work is
// executed in the order it was submitted across all of them.
type Queue struct {
	device   *Device
	listType driver.CommandListType
}

var _ driver.Queue = &Queue{}

func (q *Queue) Type() driver.CommandListType {
	return q.listType
}

func (q *Queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	buffers := make([]hal.CommandBuffer, 0, len(lists))
	for _, list := range lists {
		wgpuList, ok := list.(*CommandList)
		if !ok {
			return errors.Newf("webgpu queue cannot execute command list of type %T", list)
		}
		if wgpuList.listType != q.listType {
			return errors.Newf("cannot execute a %s command list on a %s queue", wgpuList.listType, q.listType)
		}
		if wgpuList.recording || wgpuList.buffer == nil {
			return errors.Newf("command list %q must be closed before it is executed", wgpuList.name)
		}
		buffers = append(buffers, wgpuList.buffer)
	}

	return q.device.submit(buffers, nil, 0)
}

func (q *Queue) Signal(fence driver.Fence, value uint64) error {
	wgpuFence, ok := fence.(*Fence)
	if !ok {
		return errors.Newf("webgpu queue cannot signal fence of type %T", fence)
	}

	// push happens under the queue lock so values land in the pending list in submission order
	q.device.queueMutex.Lock()
	defer q.device.queueMutex.Unlock()

	err := q.device.queue.Submit(nil, wgpuFence.fence, value)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "signaling fence value %d", value), driver.ErrDeviceLost)
	}
	wgpuFence.push(value)
	return nil
}

// Wait orders later submissions after fence reaching value. A signal already submitted is ahead of them
// on the shared hal queue; anything else is waited for on the CPU.
func (q *Queue) Wait(fence driver.Fence, value uint64) error {
	wgpuFence, ok := fence.(*Fence)
	if !ok {
		return errors.Newf("webgpu queue cannot wait on fence of type %T", fence)
	}

	if wgpuFence.signaledValue() >= value {
		return nil
	}
	return fence.WaitForValue(value)
}

func (q *Queue) Destroy() {
	err := q.device.WaitIdle()
	if err != nil {
		q.device.logger.Warn("Queue::Destroy could not idle the device", slog.Any("Error", err))
	}
}
