package descriptor

import (
	"fmt"
	"log/slog"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

// DefaultDescriptorsPerHeap is the size of each heap a DescriptorAllocator creates
const DefaultDescriptorsPerHeap uint32 = 256

// DescriptorAllocator hands out CPU-only descriptors of a single type for resource views. It grows by
// creating a new heap whenever the current one cannot satisfy a request; descriptors are never freed.
type DescriptorAllocator struct {
	logger             *slog.Logger
	device             driver.Device
	heapType           driver.DescriptorHeapType
	descriptorsPerHeap uint32

	mutex   utils.OptionalMutex
	heaps   []*DescriptorHeap
	current *DescriptorHeap
}

func NewDescriptorAllocator(logger *slog.Logger, device driver.Device, heapType driver.DescriptorHeapType, descriptorsPerHeap uint32, useMutex bool) *DescriptorAllocator {
	if descriptorsPerHeap == 0 {
		descriptorsPerHeap = DefaultDescriptorsPerHeap
	}

	return &DescriptorAllocator{
		logger:             logger,
		device:             device,
		heapType:           heapType,
		descriptorsPerHeap: descriptorsPerHeap,
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}
}

func (a *DescriptorAllocator) Type() driver.DescriptorHeapType {
	return a.heapType
}

// Allocate returns the first of count contiguous CPU descriptors
func (a *DescriptorAllocator) Allocate(count uint32) (driver.CPUDescriptorHandle, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.current == nil || !a.current.HasAvailableSpace(count) {
		heapSize := max(a.descriptorsPerHeap, count)

		// Heaps are only touched under the allocator's lock
		heap := NewDescriptorHeap(a.logger, false)
		err := heap.Create(a.device, fmt.Sprintf("%s Allocator Heap %d", a.heapType, len(a.heaps)), a.heapType, heapSize)
		if err != nil {
			return driver.NullCPUDescriptorHandle, err
		}

		a.heaps = append(a.heaps, heap)
		a.current = heap

		a.logger.Debug("DescriptorAllocator::Allocate created heap",
			slog.String("Type", a.heapType.String()),
			slog.Int("HeapCount", len(a.heaps)),
		)
	}

	return a.current.Alloc(count).CPU(), nil
}

// HeapCount is the number of heaps created so far
func (a *DescriptorAllocator) HeapCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return len(a.heaps)
}

func (a *DescriptorAllocator) Statistics() memutils.Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var stats memutils.Statistics
	for _, heap := range a.heaps {
		heapStats := heap.Statistics()
		stats.AddStatistics(&heapStats)
	}
	return stats
}

func (a *DescriptorAllocator) BuildStatsString(writer *jwriter.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	arr := writer.Array()
	defer arr.End()

	for _, heap := range a.heaps {
		obj := arr.Object()
		heap.WriteJson(&obj)
		obj.End()
	}
}

// DestroyAll releases every heap. It must only be called once no view created from these descriptors
// is in use by the GPU.
func (a *DescriptorAllocator) DestroyAll() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, heap := range a.heaps {
		heap.Destroy()
	}
	a.heaps = nil
	a.current = nil
}
