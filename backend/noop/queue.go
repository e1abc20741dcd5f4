package noop

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// Queue is the noop driver.Queue. Command lists run on the CPU inside ExecuteCommandLists.
type Queue struct {
	device   *Device
	listType driver.CommandListType

	mutex sync.Mutex
	// allocators whose lists were executed since the last signal
	unsignaled []*CommandAllocator
	executed   int
	signals    int
}

var _ driver.Queue = &Queue{}

func (q *Queue) Type() driver.CommandListType {
	return q.listType
}

// ExecutedLists is the number of command lists the queue has run
func (q *Queue) ExecutedLists() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.executed
}

func (q *Queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, list := range lists {
		noopList, ok := list.(*CommandList)
		if !ok {
			return errors.Newf("noop queue cannot execute command list of type %T", list)
		}
		if noopList.listType != q.listType {
			return errors.Newf("cannot execute a %s command list on a %s queue", noopList.listType, q.listType)
		}
		if !noopList.closed {
			return errors.Newf("command list %q was submitted while still recording", noopList.name)
		}

		err := noopList.execute(q.device.options.SkipStateValidation)
		if err != nil {
			return errors.Wrapf(err, "executing command list %q", noopList.name)
		}

		noopList.allocator.submitted()
		q.unsignaled = append(q.unsignaled, noopList.allocator)
		q.executed++
	}

	return nil
}

func (q *Queue) Signal(fence driver.Fence, value uint64) error {
	noopFence, ok := fence.(*Fence)
	if !ok {
		return errors.Newf("noop queue cannot signal fence of type %T", fence)
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, allocator := range q.unsignaled {
		allocator.retireAt(noopFence, value)
	}
	q.unsignaled = q.unsignaled[:0]
	q.signals++

	noopFence.signal(value)
	return nil
}

func (q *Queue) Wait(fence driver.Fence, value uint64) error {
	noopFence, ok := fence.(*Fence)
	if !ok {
		return errors.Newf("noop queue cannot wait on fence of type %T", fence)
	}

	if noopFence.SignaledValue() < value {
		return errors.Mark(errors.Newf("queue wait for fence value %d would deadlock: the highest signaled value is %d", value, noopFence.SignaledValue()), driver.ErrDeviceLost)
	}
	return nil
}

func (q *Queue) Destroy() {
	q.device.destroyed()
}
