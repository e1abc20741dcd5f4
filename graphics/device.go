package graphics

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/command"
	"github.com/vkngwrapper/forge/descriptor"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/linear"
)

// Device is the root object of the framework: it owns the command queues, the context pool, the
// staging descriptor allocators, the shader-visible descriptor heaps and the linear upload pages of
// one driver device.
type Device struct {
	logger  *slog.Logger
	driver  driver.Device
	options CreateOptions

	queues               *command.QueueManager
	contexts             *ContextManager
	descriptorAllocators [driver.DescriptorHeapTypeCount]*descriptor.DescriptorAllocator
	textureHeap          *descriptor.DescriptorHeap
	dynamicDescriptors   *descriptor.RetiringAllocator
	samplerHeap          *descriptor.DescriptorHeap
	pageManagers         [linear.AllocatorTypeCount]*linear.PageManager
}

// New creates a Device over drv
//
// logger - Receives debug logging for object creation and submission
//
// drv - The driver device every object is created on
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, drv driver.Device, options CreateOptions) (*Device, error) {
	useMutex := options.Flags&CreateExternallySynchronized == 0

	if options.ShaderVisibleDescriptors == 0 {
		options.ShaderVisibleDescriptors = defaultShaderVisibleDescriptors
	}
	if options.DynamicDescriptors == 0 {
		options.DynamicDescriptors = options.ShaderVisibleDescriptors / 4
	}
	if options.ShaderVisibleSamplers == 0 {
		options.ShaderVisibleSamplers = defaultShaderVisibleSamplers
	}

	device := &Device{
		logger:  logger,
		driver:  drv,
		options: options,
		queues:  command.NewQueueManager(logger),
	}
	device.contexts = newContextManager(logger, device, useMutex)

	err := device.queues.Create(drv)
	if err != nil {
		return nil, errors.Wrap(err, "creating command queues")
	}

	for heapType := range device.descriptorAllocators {
		device.descriptorAllocators[heapType] = descriptor.NewDescriptorAllocator(logger, drv,
			driver.DescriptorHeapType(heapType), options.DescriptorsPerHeap, useMutex)
	}

	device.textureHeap = descriptor.NewDescriptorHeap(logger, useMutex)
	err = device.textureHeap.CreateShaderVisible(drv, "Texture Descriptors", driver.DescriptorHeapCBVSRVUAV, options.ShaderVisibleDescriptors)
	if err != nil {
		device.Destroy()
		return nil, err
	}

	device.dynamicDescriptors, err = descriptor.NewRetiringAllocator(logger, device.textureHeap, options.DynamicDescriptors, device.queues)
	if err != nil {
		device.Destroy()
		return nil, err
	}

	device.samplerHeap = descriptor.NewDescriptorHeap(logger, useMutex)
	err = device.samplerHeap.CreateShaderVisible(drv, "Sampler Descriptors", driver.DescriptorHeapSampler, options.ShaderVisibleSamplers)
	if err != nil {
		device.Destroy()
		return nil, err
	}

	device.pageManagers[linear.GPUExclusive] = linear.NewPageManager(logger, linear.GPUExclusive, options.GPUPageSize, useMutex)
	device.pageManagers[linear.CPUWritable] = linear.NewPageManager(logger, linear.CPUWritable, options.CPUPageSize, useMutex)
	for _, manager := range device.pageManagers {
		manager.Create(drv, device.queues)
	}

	logger.Debug("Device::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("ShaderVisibleDescriptors", int(options.ShaderVisibleDescriptors)),
		slog.Int("DynamicDescriptors", int(options.DynamicDescriptors)),
		slog.Int("ShaderVisibleSamplers", int(options.ShaderVisibleSamplers)),
	)
	return device, nil
}

func (d *Device) Driver() driver.Device                   { return d.driver }
func (d *Device) Queues() *command.QueueManager           { return d.queues }
func (d *Device) Contexts() *ContextManager               { return d.contexts }
func (d *Device) TextureHeap() *descriptor.DescriptorHeap { return d.textureHeap }
func (d *Device) SamplerHeap() *descriptor.DescriptorHeap { return d.samplerHeap }
func (d *Device) PageManager(t linear.AllocatorType) *linear.PageManager {
	return d.pageManagers[t]
}

func (d *Device) begin(listType driver.CommandListType, label string) (*CommandContext, error) {
	context, err := d.contexts.AllocateContext(listType)
	if err != nil {
		return nil, err
	}

	context.SetLabel(label)
	return context, nil
}

// Begin checks out a graphics context
func (d *Device) Begin(label string) (*CommandContext, error) {
	return d.begin(driver.CommandListDirect, label)
}

// BeginCompute checks out a context recording for the compute queue
func (d *Device) BeginCompute(label string) (*CommandContext, error) {
	return d.begin(driver.CommandListCompute, label)
}

// BeginCopy checks out a context recording for the copy queue
func (d *Device) BeginCopy(label string) (*CommandContext, error) {
	return d.begin(driver.CommandListCopy, label)
}

// AllocateDescriptor returns count contiguous CPU-only descriptors of heapType for view creation
func (d *Device) AllocateDescriptor(heapType driver.DescriptorHeapType, count uint32) (driver.CPUDescriptorHandle, error) {
	return d.descriptorAllocators[heapType].Allocate(count)
}

// AllocateDynamicDescriptor returns a shader-visible CBV/SRV/UAV slot for a view that lives only as
// long as the work referencing it. It never waits on the GPU and fails with a wrapped
// memutils.ExhaustedError when every slot is allocated or still awaiting its fence.
func (d *Device) AllocateDynamicDescriptor() (descriptor.DescriptorHandle, error) {
	return d.dynamicDescriptors.Allocate()
}

// ReleaseDynamicDescriptor hands handle back once fenceValue, the last submission that referenced it,
// completes
func (d *Device) ReleaseDynamicDescriptor(handle descriptor.DescriptorHandle, fenceValue uint64) {
	d.dynamicDescriptors.Release(handle, fenceValue)
}

// InitializeBuffer uploads data into dest at destOffset and waits for the copy to complete. dest is
// left in the generic read state.
func (d *Device) InitializeBuffer(dest Resource, data []byte, destOffset uint64) error {
	context, err := d.Begin("InitializeBuffer")
	if err != nil {
		return err
	}

	upload, err := context.ReserveUploadMemory(uint64(len(data)))
	if err != nil {
		_, _ = context.Finish(false)
		return err
	}
	copy(upload.Data, data)

	context.CopyFromUpload(dest, destOffset, upload)
	context.TransitionResource(dest, driver.ResourceStateGenericRead, true)

	_, err = context.Finish(true)
	return err
}

// IdleGPU blocks until every queue has finished all submitted work
func (d *Device) IdleGPU() error {
	return d.queues.IdleGPU()
}

// BuildStatsString returns a JSON document describing the device's queues, contexts and descriptor
// heaps. With detailed it also covers the staging descriptor allocators and linear pages.
func (d *Device) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	d.queues.BuildStatsString(obj.Name("Queues"))
	d.contexts.BuildStatsString(obj.Name("Contexts"))

	heaps := obj.Name("ShaderVisibleHeaps").Object()
	d.textureHeap.BuildStatsString(heaps.Name("Textures"))
	d.samplerHeap.BuildStatsString(heaps.Name("Samplers"))
	d.dynamicDescriptors.BuildStatsString(heaps.Name("Dynamic"))
	heaps.End()

	if detailed {
		allocators := obj.Name("DescriptorAllocators").Object()
		for _, allocator := range d.descriptorAllocators {
			allocator.BuildStatsString(allocators.Name(allocator.Type().String()))
		}
		allocators.End()

		pages := obj.Name("LinearPages").Object()
		for _, manager := range d.pageManagers {
			manager.BuildStatsString(pages.Name(manager.AllocatorType().String()))
		}
		pages.End()
	}

	obj.End()
	return string(writer.Bytes())
}

// Destroy idles the GPU and destroys everything the device created. The driver device itself is left
// to the caller.
func (d *Device) Destroy() {
	err := d.queues.IdleGPU()
	if err != nil {
		d.logger.Warn("Device::Destroy could not idle the GPU", slog.Any("Error", err))
	}

	d.contexts.DestroyAllContexts()
	for _, manager := range d.pageManagers {
		if manager != nil {
			manager.Destroy()
		}
	}
	if d.samplerHeap != nil {
		d.samplerHeap.Destroy()
	}
	if d.textureHeap != nil {
		d.textureHeap.Destroy()
	}
	for _, allocator := range d.descriptorAllocators {
		if allocator != nil {
			allocator.DestroyAll()
		}
	}
	d.queues.Shutdown()

	d.logger.Debug("Device::Destroy")
}
