package webgpu

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/gogpu/wgpu/hal"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
)

const (
	descriptorStride          = 32
	shaderVisibleBit   uint64 = 1 << 62
	bufferAddressBase  uint64 = 0x10000000
	bufferAddressAlign        = 0x10000
)

// Device is the webgpu driver.Device. Every queue it creates submits to the one hal queue.
type Device struct {
	logger   *slog.Logger
	options  Options
	device   hal.Device
	queue    hal.Queue
	teardown func()

	queueMutex sync.Mutex

	uploadMutex sync.Mutex
	uploads     *swiss.Map[*Resource, struct{}]

	heapMutex  sync.RWMutex
	heaps      *swiss.Map[uint64, *DescriptorHeap]
	nextHeapID atomic.Uint64

	nextAddress  atomic.Uint64
	liveBuffers  atomic.Int64
	liveTextures atomic.Int64
	bufferBytes  atomic.Int64
}

var _ driver.Device = &Device{}

// New wraps an open hal device and its queue. The caller keeps ownership of both unless the Device was
// created by CreateNoop or CreateFromBackend.
func New(logger *slog.Logger, device hal.Device, queue hal.Queue, options Options) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("webgpu device requires a hal device and queue")
	}
	if options.WaitTimeout <= 0 {
		options.WaitTimeout = defaultWaitTimeout
	}

	d := &Device{
		logger:  logger,
		options: options,
		device:  device,
		queue:   queue,
		heaps:   swiss.NewMap[uint64, *DescriptorHeap](8),
		uploads: swiss.NewMap[*Resource, struct{}](8),
	}
	d.nextAddress.Store(bufferAddressBase)
	return d, nil
}

// HalDevice is the wrapped hal device, for passes that create pipelines and bind groups
func (d *Device) HalDevice() hal.Device {
	return d.device
}

// HalQueue is the shared hal queue
func (d *Device) HalQueue() hal.Queue {
	return d.queue
}

// LiveResources is the number of buffers and textures that have not been destroyed
func (d *Device) LiveResources() int64 {
	return d.liveBuffers.Load() + d.liveTextures.Load()
}

func (d *Device) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("LiveBuffers").Int(int(d.liveBuffers.Load()))
	obj.Name("LiveTextures").Int(int(d.liveTextures.Load()))
	obj.Name("BufferBytes").Int(int(d.bufferBytes.Load()))

	d.heapMutex.RLock()
	obj.Name("DescriptorHeaps").Int(d.heaps.Count())
	d.heapMutex.RUnlock()
}

// waitFence blocks until fence reaches value, waiting again each time a wait times out
func (d *Device) waitFence(fence hal.Fence, value uint64) error {
	for {
		ok, err := d.device.Wait(fence, value, d.options.WaitTimeout)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "waiting for fence value %d", value), driver.ErrDeviceLost)
		}
		if ok {
			return nil
		}
		d.logger.Warn("Device::waitFence timed out, waiting again",
			slog.Uint64("Value", value),
			slog.Duration("Timeout", d.options.WaitTimeout),
		)
	}
}

func (d *Device) trackUpload(resource *Resource) {
	d.uploadMutex.Lock()
	defer d.uploadMutex.Unlock()

	d.uploads.Put(resource, struct{}{})
}

func (d *Device) untrackUpload(resource *Resource) {
	d.uploadMutex.Lock()
	defer d.uploadMutex.Unlock()

	d.uploads.Delete(resource)
}

func (d *Device) writeBuffer(buffer hal.Buffer, data []byte) {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()

	d.queue.WriteBuffer(buffer, 0, data)
}

func (d *Device) readBuffer(buffer hal.Buffer, data []byte) error {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()

	return d.queue.ReadBuffer(buffer, 0, data)
}

// flushUploadsLocked writes the shadow of every mapped upload buffer ahead of the next submission
func (d *Device) flushUploadsLocked() {
	d.uploadMutex.Lock()
	defer d.uploadMutex.Unlock()

	d.uploads.Iter(func(resource *Resource, _ struct{}) bool {
		d.queue.WriteBuffer(resource.buffer, 0, resource.shadow)
		return false
	})
}

// submit serializes access to the hal queue
func (d *Device) submit(buffers []hal.CommandBuffer, fence hal.Fence, value uint64) error {
	d.queueMutex.Lock()
	defer d.queueMutex.Unlock()

	if len(buffers) > 0 {
		d.flushUploadsLocked()
	}

	err := d.queue.Submit(buffers, fence, value)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "submitting to the webgpu queue"), driver.ErrDeviceLost)
	}
	return nil
}

func (d *Device) CreateCommandQueue(listType driver.CommandListType) (driver.Queue, error) {
	d.logger.Debug("Device::CreateCommandQueue", slog.String("Type", listType.String()))
	return &Queue{device: d, listType: listType}, nil
}

func (d *Device) CreateFence(initialValue uint64) (driver.Fence, error) {
	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, errors.Wrap(err, "creating fence")
	}
	return &Fence{device: d, fence: fence, completed: initialValue, signaled: initialValue}, nil
}

func (d *Device) CreateCommandAllocator(listType driver.CommandListType) (driver.CommandAllocator, error) {
	d.logger.Debug("Device::CreateCommandAllocator", slog.String("Type", listType.String()))
	return &CommandAllocator{device: d, listType: listType}, nil
}

func (d *Device) CreateCommandList(listType driver.CommandListType, allocator driver.CommandAllocator) (driver.CommandList, error) {
	list := &CommandList{device: d, listType: listType, name: listType.String()}
	err := list.Reset(allocator)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Device) DescriptorHandleIncrementSize(heapType driver.DescriptorHeapType) uint32 {
	return descriptorStride
}

// WaitIdle blocks until everything submitted to the hal queue has finished
func (d *Device) WaitIdle() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return errors.Wrap(err, "creating idle fence")
	}
	defer d.device.DestroyFence(fence)

	err = d.submit(nil, fence, 1)
	if err != nil {
		return err
	}
	return d.waitFence(fence, 1)
}

func (d *Device) Destroy() {
	err := d.WaitIdle()
	if err != nil {
		d.logger.Warn("Device::Destroy could not idle the device", slog.Any("Error", err))
	}

	if live := d.LiveResources(); live > 0 {
		d.logger.Warn("Device::Destroy called with live resources", slog.Int64("LiveResources", live))
	}

	if d.teardown != nil {
		d.teardown()
		d.teardown = nil
	}
}
