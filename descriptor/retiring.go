package descriptor

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

// FenceTracker reports whether the GPU has passed a fence value
type FenceTracker interface {
	IsFenceComplete(fenceValue uint64) bool
}

type retiredSlot struct {
	fenceValue uint64
	index      uint32
}

// RetiringAllocator hands out single descriptors from a region of a DescriptorHeap and takes them back
// tagged with the fence value of the last submission that referenced them. A released slot is reused
// only once its fence has completed.
type RetiringAllocator struct {
	logger *slog.Logger
	fences FenceTracker

	mutex    sync.Mutex
	first    DescriptorHandle
	capacity uint32
	bumped   uint32
	inUse    int
	free     []uint32
	retired  utils.Queue[retiredSlot]
}

// NewRetiringAllocator reserves count slots of heap for fence-retired reuse
func NewRetiringAllocator(logger *slog.Logger, heap *DescriptorHeap, count uint32, fences FenceTracker) (*RetiringAllocator, error) {
	if !heap.HasAvailableSpace(count) {
		return nil, errors.Wrapf(memutils.ExhaustedError, "descriptor heap %q cannot reserve %d descriptors", heap.Name(), count)
	}

	return &RetiringAllocator{
		logger:   logger,
		fences:   fences,
		first:    heap.Alloc(count),
		capacity: count,
	}, nil
}

func (a *RetiringAllocator) reclaim() {
	for {
		slot, ok := a.retired.Front()
		if !ok || !a.fences.IsFenceComplete(slot.fenceValue) {
			return
		}

		a.retired.Pop()
		a.free = append(a.free, slot.index)
	}
}

// Allocate returns a free descriptor. It never waits on the GPU: when every slot is either allocated or
// waiting on its fence it returns a wrapped memutils.ExhaustedError.
func (a *RetiringAllocator) Allocate() (DescriptorHandle, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.reclaim()

	var index uint32
	if len(a.free) > 0 {
		index = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	} else if a.bumped < a.capacity {
		index = a.bumped
		a.bumped++
	} else {
		return NullHandle, errors.Wrapf(memutils.ExhaustedError, "all %d descriptors are allocated or awaiting retirement", a.capacity)
	}

	a.inUse++
	return a.first.Offset(int(index)), nil
}

// Release returns handle to the allocator. It becomes reusable once fenceValue completes.
func (a *RetiringAllocator) Release(handle DescriptorHandle, fenceValue uint64) {
	if handle.cpu.Ptr < a.first.cpu.Ptr {
		panic(errors.AssertionFailedf("called RetiringAllocator::Release with a handle that precedes the allocator's range"))
	}
	index := uint32((handle.cpu.Ptr - a.first.cpu.Ptr) / uint64(a.first.stride))
	if index >= a.capacity {
		panic(errors.AssertionFailedf("called RetiringAllocator::Release with slot %d, outside the allocator's %d slots", index, a.capacity))
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.inUse--
	a.retired.Push(retiredSlot{fenceValue: fenceValue, index: index})
}

// InUse is the number of descriptors allocated and not yet released
func (a *RetiringAllocator) InUse() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.inUse
}

// PendingRetirement is the number of released descriptors still waiting for their fence
func (a *RetiringAllocator) PendingRetirement() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.retired.Len()
}

func (a *RetiringAllocator) BuildStatsString(writer *jwriter.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Capacity").Int(int(a.capacity))
	obj.Name("InUse").Int(a.inUse)
	obj.Name("Free").Int(len(a.free) + int(a.capacity-a.bumped))
	obj.Name("PendingRetirement").Int(a.retired.Len())
}
