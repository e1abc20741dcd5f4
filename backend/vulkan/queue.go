package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

// Queue is the vulkan driver.Queue. Queues of different command list types may share a VkQueue, in
// which case they share its mutex too.
type Queue struct {
	device   *Device
	listType driver.CommandListType
	queue    core1_0.Queue
	mutex    *sync.Mutex
}

var _ driver.Queue = &Queue{}

func (q *Queue) Type() driver.CommandListType {
	return q.listType
}

// VulkanQueue is the wrapped VkQueue
func (q *Queue) VulkanQueue() core1_0.Queue {
	return q.queue
}

// submit submits info, signaling vkFence, under the queue's mutex
func (q *Queue) submit(vkFence core1_0.Fence, info []core1_0.SubmitInfo) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	res, err := q.queue.Submit(vkFence, info)
	if err != nil {
		return resultError(res, err, "submitting to %s queue", q.listType)
	}
	return nil
}

func (q *Queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	buffers := make([]core1_0.CommandBuffer, 0, len(lists))
	for _, list := range lists {
		vkList, ok := list.(*CommandList)
		if !ok {
			return errors.Newf("vulkan queue cannot execute command list of type %T", list)
		}
		if vkList.listType != q.listType {
			return errors.Newf("cannot execute a %s command list on a %s queue", vkList.listType, q.listType)
		}
		if vkList.recording {
			return errors.Newf("command list %q was submitted while still recording", vkList.name)
		}
		buffers = append(buffers, vkList.buffer)
	}

	if len(buffers) == 0 {
		return nil
	}

	return q.submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: buffers,
		},
	})
}

// Signal submits an empty batch whose VkFence signals once everything before it has completed
func (q *Queue) Signal(fence driver.Fence, value uint64) error {
	vkFence, ok := fence.(*Fence)
	if !ok {
		return errors.Newf("vulkan queue cannot signal fence of type %T", fence)
	}

	signal, err := q.device.acquireFence()
	if err != nil {
		return err
	}

	err = q.submit(signal, []core1_0.SubmitInfo{})
	if err != nil {
		signal.Destroy(q.device.options.AllocationCallbacks)
		return err
	}

	vkFence.push(value, signal)
	return nil
}

// Wait blocks the calling goroutine until fence reaches value. Binary fences cannot be waited on by
// another queue, so the ordering is established on the CPU.
func (q *Queue) Wait(fence driver.Fence, value uint64) error {
	return fence.WaitForValue(value)
}

func (q *Queue) Destroy() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	_, _ = q.queue.WaitIdle()
}
