package vulkan

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	vkdriver "github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

// memoryPreferences are the property flags a heap type requires, prefers and would rather avoid
type memoryPreferences struct {
	Required     core1_0.MemoryPropertyFlags
	Preferred    core1_0.MemoryPropertyFlags
	NotPreferred core1_0.MemoryPropertyFlags
}

var heapPreferences = map[driver.HeapType]memoryPreferences{
	driver.HeapDefault: {
		Preferred:    core1_0.MemoryPropertyDeviceLocal,
		NotPreferred: core1_0.MemoryPropertyHostVisible,
	},
	driver.HeapUpload: {
		Required:     core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		NotPreferred: core1_0.MemoryPropertyHostCached,
	},
	driver.HeapReadback: {
		Required:  core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		Preferred: core1_0.MemoryPropertyHostCached,
	},
}

// findMemoryTypeIndex picks the memory type allowed by memoryTypeBits that has every required flag and the
// fewest preferred flags missing plus not-preferred flags present
func findMemoryTypeIndex(properties *core1_0.PhysicalDeviceMemoryProperties, memoryTypeBits uint32, heapType driver.HeapType) (int, error) {
	preferences, ok := heapPreferences[heapType]
	if !ok {
		return -1, errors.Newf("unknown heap type %d", heapType)
	}

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range properties.MemoryTypes {
		if (1<<memTypeIndex)&memoryTypeBits == 0 {
			continue
		}

		flags := memType.PropertyFlags
		if preferences.Required&flags != preferences.Required {
			continue
		}

		missingPreferredFlags := preferences.Preferred & ^flags
		presentNotPreferredFlags := preferences.NotPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Mark(errors.Newf("no memory type supports %s with type bits %#x", heapType, memoryTypeBits), driver.ErrUnsupported)
	}

	return bestMemoryTypeIndex, nil
}

// deviceMemory tracks every VkDeviceMemory the device allocates, per heap, and enforces the heap size limits
// and the device's allocation count limit
type deviceMemory struct {
	blockCount [common.MaxMemoryHeaps]int32
	blockBytes [common.MaxMemoryHeaps]int64

	useMutex            bool
	allocationCallbacks *vkdriver.AllocationCallbacks
	memoryCount         uint32
	heapLimits          []int

	device           core1_0.Device
	deviceProperties *core1_0.PhysicalDeviceProperties
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func newDeviceMemory(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, options Options) (*deviceMemory, error) {
	memory := &deviceMemory{
		useMutex:            !options.ExternallySynchronized,
		allocationCallbacks: options.AllocationCallbacks,
		device:              device,
	}

	var err error
	memory.deviceProperties, err = physicalDevice.Properties()
	if err != nil {
		return nil, err
	}
	memory.memoryProperties = physicalDevice.MemoryProperties()

	err = memutils.CheckPow2(memory.deviceProperties.Limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	heapCount := len(memory.memoryProperties.MemoryHeaps)
	if len(options.HeapSizeLimits) > 0 && len(options.HeapSizeLimits) != heapCount {
		return nil, errors.Newf("vulkan.Options.HeapSizeLimits has %d entries, but the physical device has %d heaps", len(options.HeapSizeLimits), heapCount)
	}

	memory.heapLimits = make([]int, heapCount)
	copy(memory.heapLimits, options.HeapSizeLimits)

	return memory, nil
}

func (m *deviceMemory) heapIndex(memoryTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].HeapIndex
}

func (m *deviceMemory) addBlockWithBudget(heapIndex, allocationSize, maxAllocatable int) error {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return errors.Mark(errors.Newf("allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex), driver.ErrOutOfDeviceMemory)
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return nil
}

func (m *deviceMemory) removeBlock(heapIndex, allocationSize int) {
	if atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize)) < 0 {
		panic(fmt.Sprintf("block bytes for heap %d went negative", heapIndex))
	}
	if atomic.AddInt32(&m.blockCount[heapIndex], -1) < 0 {
		panic(fmt.Sprintf("block count for heap %d went negative", heapIndex))
	}
}

// allocate allocates size bytes of memoryTypeIndex, counting them against the heap's limit. next is chained
// onto the allocate info for dedicated allocations.
func (m *deviceMemory) allocate(memoryTypeIndex, size int, next common.Options) (mem *mappableMemory, err error) {
	newCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	if int(newCount) > m.deviceProperties.Limits.MaxMemoryAllocationCount {
		return nil, errors.Mark(core1_0.VKErrorTooManyObjects.ToError(), driver.ErrOutOfDeviceMemory)
	}

	heapIndex := m.heapIndex(memoryTypeIndex)
	maxSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
	if limit := m.heapLimits[heapIndex]; limit > 0 && limit < maxSize {
		maxSize = limit
	}
	err = m.addBlockWithBudget(heapIndex, size, maxSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.removeBlock(heapIndex, size)
		}
	}()

	vulkanMem, res, err := m.device.AllocateMemory(m.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
		NextOptions:     common.NextOptions{Next: next},
	})
	if err != nil {
		return nil, resultError(res, err, "allocating device memory")
	}

	return &mappableMemory{
		memory:          vulkanMem,
		memoryTypeIndex: memoryTypeIndex,
		size:            size,
		mapMutex:        utils.OptionalMutex{UseMutex: m.useMutex},
	}, nil
}

func (m *deviceMemory) free(memory *mappableMemory) {
	memory.memory.Free(m.allocationCallbacks)

	m.removeBlock(m.heapIndex(memory.memoryTypeIndex), memory.size)
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

// AllocationCount is the number of live VkDeviceMemory objects
func (m *deviceMemory) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}

// HeapStatistics fills stats with the allocations made from heapIndex. Every allocation is dedicated
// to one resource, so blocks and allocations are the same thing.
func (m *deviceMemory) HeapStatistics(heapIndex int, stats *memutils.Statistics) {
	stats.BlockCount = int(atomic.LoadInt32(&m.blockCount[heapIndex]))
	stats.BlockBytes = int(atomic.LoadInt64(&m.blockBytes[heapIndex]))
	stats.AllocationCount = stats.BlockCount
	stats.AllocationBytes = stats.BlockBytes
}

// BuildStatsString writes the per-heap statistics and limits as json
func (m *deviceMemory) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	heaps := obj.Name("Heaps").Array()
	for heapIndex, heap := range m.memoryProperties.MemoryHeaps {
		heapObj := heaps.Object()
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Limit").Int(m.heapLimits[heapIndex])

		var stats memutils.Statistics
		m.HeapStatistics(heapIndex, &stats)
		statsObj := heapObj.Name("Stats").Object()
		stats.WriteJson(&statsObj)
		statsObj.End()

		heapObj.End()
	}
	heaps.End()

	obj.Name("AllocationCount").Int(int(m.AllocationCount()))
}

// mappableMemory is one VkDeviceMemory. Mapping is reference counted so resources sharing an upload page
// can Map and Unmap independently.
type mappableMemory struct {
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int

	mapMutex      utils.OptionalMutex
	mapReferences int
	mapData       unsafe.Pointer
}

func (m *mappableMemory) Map() ([]byte, error) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences > 0 {
		if m.mapData == nil {
			return nil, errors.New("memory has outstanding map references but no mapped data")
		}
		m.mapReferences++
		return unsafe.Slice((*byte)(m.mapData), m.size), nil
	}

	mappedData, res, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, resultError(res, err, "mapping device memory")
	}

	m.mapData = mappedData
	m.mapReferences = 1
	return unsafe.Slice((*byte)(mappedData), m.size), nil
}

func (m *mappableMemory) Unmap() {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences == 0 {
		return
	}

	m.mapReferences--
	if m.mapReferences == 0 {
		m.memory.Unmap()
		m.mapData = nil
	}
}

// resultError marks err with the driver error matching res
func resultError(res common.VkResult, err error, format string, args ...any) error {
	err = errors.Wrapf(err, format, args...)

	switch res {
	case core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorTooManyObjects:
		return errors.Mark(err, driver.ErrOutOfDeviceMemory)
	case core1_0.VKErrorDeviceLost:
		return errors.Mark(err, driver.ErrDeviceLost)
	case core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorFeatureNotPresent, core1_0.VKErrorFormatNotSupported:
		return errors.Mark(err, driver.ErrUnsupported)
	}
	return err
}
