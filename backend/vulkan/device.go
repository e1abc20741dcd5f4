package vulkan

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

const (
	// descriptorStride is the distance between two descriptor slots of any heap type
	descriptorStride uint32 = 32
	// shaderVisibleBit is set in the GPU handles of shader visible heaps
	shaderVisibleBit uint64 = 1 << 62

	bufferAddressBase  uint64 = 0x10000000
	bufferAddressAlign uint64 = 0x10000
)

// Device is the vulkan driver.Device. It does not own the VkDevice it wraps unless it was created
// by CreateHeadless.
type Device struct {
	logger  *slog.Logger
	options Options

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	teardown       func()

	extensions    *extensionData
	memory        *deviceMemory
	queueFamilies [driver.CommandListTypeCount]int
	familyMutexes map[int]*sync.Mutex

	heapMutex  sync.RWMutex
	heaps      *swiss.Map[uint64, *DescriptorHeap]
	nextHeapID atomic.Uint64

	nextAddress atomic.Uint64

	fenceMutex sync.Mutex
	freeFences []core1_0.Fence

	setupMutex sync.Mutex
	setupPool  core1_0.CommandPool
}

var _ driver.Device = &Device{}

// New wraps device, which must have been created from physicalDevice with a queue on every family
// options.QueueFamilies names
func New(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options Options) (*Device, error) {
	d := &Device{
		logger:         logger,
		options:        options,
		physicalDevice: physicalDevice,
		device:         device,
		extensions:     newExtensionData(device),
		familyMutexes:  make(map[int]*sync.Mutex),
		heaps:          swiss.NewMap[uint64, *DescriptorHeap](16),
	}
	d.nextAddress.Store(bufferAddressBase)

	err := d.resolveQueueFamilies()
	if err != nil {
		return nil, err
	}

	d.memory, err = newDeviceMemory(device, physicalDevice, options)
	if err != nil {
		return nil, err
	}

	d.setupPool, _, err = device.CreateCommandPool(options.AllocationCallbacks, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: d.queueFamilies[driver.CommandListDirect],
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating setup command pool")
	}

	logger.Debug("Device::New",
		slog.Int("DirectFamily", d.queueFamilies[driver.CommandListDirect]),
		slog.Int("ComputeFamily", d.queueFamilies[driver.CommandListCompute]),
		slog.Int("CopyFamily", d.queueFamilies[driver.CommandListCopy]),
		slog.Bool("DedicatedAllocations", d.extensions.DedicatedAllocations),
	)
	return d, nil
}

func (d *Device) resolveQueueFamilies() error {
	families := d.physicalDevice.QueueFamilyProperties()

	if len(d.options.QueueFamilies) == 0 {
		graphicsFamily := -1
		for i, family := range families {
			if family.QueueFlags&core1_0.QueueGraphics != 0 {
				graphicsFamily = i
				break
			}
		}
		if graphicsFamily < 0 {
			return errors.Mark(errors.New("physical device has no graphics queue family"), driver.ErrUnsupported)
		}

		for i := range d.queueFamilies {
			d.queueFamilies[i] = graphicsFamily
		}
	} else if len(d.options.QueueFamilies) != driver.CommandListTypeCount {
		return errors.Newf("vulkan.Options.QueueFamilies has %d entries, but there are %d command list types", len(d.options.QueueFamilies), driver.CommandListTypeCount)
	} else {
		copy(d.queueFamilies[:], d.options.QueueFamilies)
	}

	for listType, family := range d.queueFamilies {
		if family < 0 || family >= len(families) {
			return errors.Newf("queue family %d for %s does not exist", family, driver.CommandListType(listType))
		}
		if _, ok := d.familyMutexes[family]; !ok {
			d.familyMutexes[family] = &sync.Mutex{}
		}
	}

	if families[d.queueFamilies[driver.CommandListDirect]].QueueFlags&core1_0.QueueGraphics == 0 {
		return errors.Newf("queue family %d for %s does not support graphics", d.queueFamilies[driver.CommandListDirect], driver.CommandListDirect)
	}

	return nil
}

// VulkanDevice is the wrapped VkDevice
func (d *Device) VulkanDevice() core1_0.Device {
	return d.device
}

func (d *Device) PhysicalDevice() core1_0.PhysicalDevice {
	return d.physicalDevice
}

// QueueFamily is the queue family the queues of listType are taken from
func (d *Device) QueueFamily(listType driver.CommandListType) int {
	return d.queueFamilies[listType]
}

// BuildStatsString writes the device memory statistics as json
func (d *Device) BuildStatsString(writer *jwriter.Writer) {
	d.memory.BuildStatsString(writer)
}

func (d *Device) acquireFence() (core1_0.Fence, error) {
	d.fenceMutex.Lock()
	if len(d.freeFences) > 0 {
		fence := d.freeFences[len(d.freeFences)-1]
		d.freeFences = d.freeFences[:len(d.freeFences)-1]
		d.fenceMutex.Unlock()
		return fence, nil
	}
	d.fenceMutex.Unlock()

	fence, res, err := d.device.CreateFence(d.options.AllocationCallbacks, core1_0.FenceCreateInfo{})
	if err != nil {
		return nil, resultError(res, err, "creating fence")
	}
	return fence, nil
}

// releaseFence resets a signaled fence and returns it to the pool
func (d *Device) releaseFence(fence core1_0.Fence) error {
	res, err := d.device.ResetFences([]core1_0.Fence{fence})
	if err != nil {
		fence.Destroy(d.options.AllocationCallbacks)
		return resultError(res, err, "resetting fence")
	}

	d.fenceMutex.Lock()
	defer d.fenceMutex.Unlock()

	d.freeFences = append(d.freeFences, fence)
	return nil
}

// submitAndWait submits work recorded by record to the direct queue and blocks until it has finished
func (d *Device) submitAndWait(record func(buffer core1_0.CommandBuffer) error) error {
	d.setupMutex.Lock()
	defer d.setupMutex.Unlock()

	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.setupPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return resultError(res, err, "allocating setup command buffer")
	}
	defer d.device.FreeCommandBuffers(buffers)

	buffer := buffers[0]
	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	err = record(buffer)
	if err != nil {
		return err
	}

	_, err = buffer.End()
	if err != nil {
		return err
	}

	fence, err := d.acquireFence()
	if err != nil {
		return err
	}

	family := d.queueFamilies[driver.CommandListDirect]
	mutex := d.familyMutexes[family]
	mutex.Lock()
	res, err = d.device.GetQueue(family, 0).Submit(fence, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	mutex.Unlock()
	if err != nil {
		fence.Destroy(d.options.AllocationCallbacks)
		return resultError(res, err, "submitting setup commands")
	}

	res, err = fence.Wait(common.NoTimeout)
	if err != nil {
		fence.Destroy(d.options.AllocationCallbacks)
		return resultError(res, err, "waiting for setup commands")
	}

	return d.releaseFence(fence)
}

func (d *Device) CreateCommandQueue(listType driver.CommandListType) (driver.Queue, error) {
	family := d.queueFamilies[listType]

	d.logger.Debug("Device::CreateCommandQueue", slog.String("Type", listType.String()), slog.Int("Family", family))
	return &Queue{
		device:   d,
		listType: listType,
		queue:    d.device.GetQueue(family, 0),
		mutex:    d.familyMutexes[family],
	}, nil
}

func (d *Device) CreateFence(initialValue uint64) (driver.Fence, error) {
	return newFence(d, initialValue), nil
}

func (d *Device) CreateCommandAllocator(listType driver.CommandListType) (driver.CommandAllocator, error) {
	pool, res, err := d.device.CreateCommandPool(d.options.AllocationCallbacks, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: d.queueFamilies[listType],
	})
	if err != nil {
		return nil, resultError(res, err, "creating %s command pool", listType)
	}

	d.logger.Debug("Device::CreateCommandAllocator", slog.String("Type", listType.String()))
	return &CommandAllocator{device: d, listType: listType, pool: pool}, nil
}

func (d *Device) CreateCommandList(listType driver.CommandListType, allocator driver.CommandAllocator) (driver.CommandList, error) {
	list := &CommandList{device: d, listType: listType}

	err := list.Reset(allocator)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Device) DescriptorHandleIncrementSize(heapType driver.DescriptorHeapType) uint32 {
	return descriptorStride
}

func (d *Device) Destroy() {
	err := d.WaitIdle()
	if err != nil {
		d.logger.Warn("Device::Destroy could not idle the device", slog.Any("Error", err))
	}

	d.fenceMutex.Lock()
	for _, fence := range d.freeFences {
		fence.Destroy(d.options.AllocationCallbacks)
	}
	d.freeFences = nil
	d.fenceMutex.Unlock()

	if d.setupPool != nil {
		d.setupPool.Destroy(d.options.AllocationCallbacks)
		d.setupPool = nil
	}

	if count := d.memory.AllocationCount(); count > 0 {
		d.logger.Warn("Device::Destroy called with live memory allocations", slog.Int("AllocationCount", int(count)))
	}

	if d.teardown != nil {
		d.teardown()
		d.teardown = nil
	}
}

// WaitIdle blocks until every queue of the device is idle
func (d *Device) WaitIdle() error {
	res, err := d.device.WaitIdle()
	if err != nil {
		return resultError(res, err, "idling device")
	}
	return nil
}
