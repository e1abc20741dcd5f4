package vulkan

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/memutils"
)

// Resource is a VkBuffer or VkImage bound to its own VkDeviceMemory. Swap chain images are Resources
// too, but their memory belongs to the swap chain.
type Resource struct {
	device *Device
	desc   driver.ResourceDesc

	buffer  core1_0.Buffer
	image   core1_0.Image
	memory  *mappableMemory
	address uint64

	swapChain  *SwapChain
	imageIndex int

	viewMutex sync.Mutex
	views     []viewSlot

	destroyed atomic.Bool
}

// viewSlot is a heap slot a view of the resource was written to
type viewSlot struct {
	heap *DescriptorHeap
	slot int
}

func (r *Resource) trackView(heap *DescriptorHeap, slot int) {
	r.viewMutex.Lock()
	defer r.viewMutex.Unlock()

	r.views = append(r.views, viewSlot{heap: heap, slot: slot})
}

// releaseViews destroys the image views still referring to the resource
func (r *Resource) releaseViews() {
	r.viewMutex.Lock()
	views := r.views
	r.views = nil
	r.viewMutex.Unlock()

	for _, view := range views {
		view.heap.clearResource(view.slot, r)
	}
}

var _ driver.Resource = &Resource{}

func (r *Resource) Desc() driver.ResourceDesc {
	return r.desc
}

func (r *Resource) GPUVirtualAddress() uint64 {
	return r.address
}

// Native is the core1_0.Buffer or core1_0.Image
func (r *Resource) Native() any {
	if r.buffer != nil {
		return r.buffer
	}
	return r.image
}

func (r *Resource) Map() ([]byte, error) {
	if r.desc.Heap == driver.HeapDefault || r.memory == nil {
		return nil, errors.Mark(errors.Newf("resource %q lives in the default heap and cannot be mapped", r.desc.Label), driver.ErrUnsupported)
	}

	data, err := r.memory.Map()
	if err != nil {
		return nil, err
	}
	return data[:r.desc.Width], nil
}

func (r *Resource) Unmap() {
	if r.memory != nil {
		r.memory.Unmap()
	}
}

// Destroy frees the resource. For swap chain images it releases the caller's reference only.
func (r *Resource) Destroy() {
	if r.swapChain != nil {
		r.swapChain.release(r.imageIndex)
		return
	}

	if !r.destroyed.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("resource %q destroyed twice", r.desc.Label))
	}

	r.releaseViews()

	callbacks := r.device.options.AllocationCallbacks
	if r.buffer != nil {
		r.buffer.Destroy(callbacks)
	}
	if r.image != nil {
		r.image.Destroy(callbacks)
	}
	if r.memory != nil {
		r.device.memory.free(r.memory)
	}
}

func (r *Resource) arrayLayers() int {
	if r.desc.Dimension == driver.DimensionTexture3D {
		return 1
	}
	return int(max(r.desc.DepthOrArraySize, 1))
}

func (r *Resource) mipLevels() int {
	return int(max(r.desc.MipLevels, 1))
}

func (r *Resource) mipExtent(mip int) core1_0.Extent3D {
	depth := 1
	if r.desc.Dimension == driver.DimensionTexture3D {
		depth = max(int(r.desc.DepthOrArraySize)>>mip, 1)
	}
	return core1_0.Extent3D{
		Width:  max(int(r.desc.Width)>>mip, 1),
		Height: max(int(r.desc.Height)>>mip, 1),
		Depth:  depth,
	}
}

// subresourceRange converts a subresource index, numbered mip-major within each array slice, into an
// image subresource range
func (r *Resource) subresourceRange(subresource uint32) core1_0.ImageSubresourceRange {
	if subresource == driver.AllSubresources {
		return core1_0.ImageSubresourceRange{
			AspectMask:     aspectMask(r.desc.Format),
			BaseMipLevel:   0,
			LevelCount:     r.mipLevels(),
			BaseArrayLayer: 0,
			LayerCount:     r.arrayLayers(),
		}
	}

	mips := uint32(r.mipLevels())
	return core1_0.ImageSubresourceRange{
		AspectMask:     aspectMask(r.desc.Format),
		BaseMipLevel:   int(subresource % mips),
		LevelCount:     1,
		BaseArrayLayer: int(subresource / mips),
		LayerCount:     1,
	}
}

func bufferUsage(desc driver.ResourceDesc) core1_0.BufferUsageFlags {
	usage := core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst | core1_0.BufferUsageVertexBuffer |
		core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageIndirectBuffer
	if desc.Flags&driver.ResourceFlagDenyShaderResource == 0 || desc.Flags&driver.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= core1_0.BufferUsageStorageBuffer
	}
	return usage
}

func imageUsage(desc driver.ResourceDesc) core1_0.ImageUsageFlags {
	usage := core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst
	if desc.Flags&driver.ResourceFlagDenyShaderResource == 0 {
		usage |= core1_0.ImageUsageSampled
	}
	if desc.Flags&driver.ResourceFlagAllowRenderTarget != 0 {
		usage |= core1_0.ImageUsageColorAttachment
	}
	if desc.Flags&driver.ResourceFlagAllowDepthStencil != 0 {
		usage |= core1_0.ImageUsageDepthStencilAttachment
	}
	if desc.Flags&driver.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= core1_0.ImageUsageStorage
	}
	return usage
}

func imageType(dimension driver.Dimension) core1_0.ImageType {
	switch dimension {
	case driver.DimensionTexture1D:
		return core1_0.ImageType1D
	case driver.DimensionTexture3D:
		return core1_0.ImageType3D
	}
	return core1_0.ImageType2D
}

// CreateCommittedResource creates the buffer or image, allocates memory for it and, for images, moves it
// out of the undefined layout into initialState's layout before returning. The clear value is ignored:
// vulkan has no optimized clear values.
func (d *Device) CreateCommittedResource(desc driver.ResourceDesc, initialState driver.ResourceState, clearValue *driver.ClearValue) (driver.Resource, error) {
	if desc.Width == 0 {
		return nil, errors.Newf("cannot create resource %q with zero width", desc.Label)
	}
	if desc.Heap != driver.HeapDefault && desc.Dimension != driver.DimensionBuffer {
		return nil, errors.Mark(errors.Newf("texture %q must live in the default heap", desc.Label), driver.ErrUnsupported)
	}

	resource := &Resource{device: d, desc: desc}

	var err error
	if desc.Dimension == driver.DimensionBuffer {
		err = d.createBuffer(resource)
	} else {
		err = d.createImage(resource, initialState)
	}
	if err != nil {
		resource.Destroy()
		return nil, errors.Wrapf(err, "creating resource %q", desc.Label)
	}

	d.logger.Debug("Device::CreateCommittedResource",
		slog.String("Label", desc.Label),
		slog.String("Dimension", desc.Dimension.String()),
		slog.String("Heap", desc.Heap.String()),
		slog.Uint64("Width", desc.Width),
	)
	return resource, nil
}

func (d *Device) createBuffer(resource *Resource) error {
	desc := resource.desc

	buffer, res, err := d.device.CreateBuffer(d.options.AllocationCallbacks, core1_0.BufferCreateInfo{
		Size:        int(desc.Width),
		Usage:       bufferUsage(desc),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return resultError(res, err, "creating buffer")
	}
	resource.buffer = buffer

	var memReqs core1_0.MemoryRequirements
	dedicated, err := d.bufferMemoryRequirements(buffer, &memReqs)
	if err != nil {
		return err
	}

	var next common.Options
	if dedicated {
		next = khr_dedicated_allocation.MemoryDedicatedAllocateInfo{Buffer: buffer}
	}
	resource.memory, err = d.allocateMemory(&memReqs, desc.Heap, next)
	if err != nil {
		return err
	}

	res, err = buffer.BindBufferMemory(resource.memory.memory, 0)
	if err != nil {
		return resultError(res, err, "binding buffer memory")
	}

	size := memutils.AlignUp(desc.Width, bufferAddressAlign)
	resource.address = d.nextAddress.Add(size) - size
	return nil
}

func (d *Device) createImage(resource *Resource, initialState driver.ResourceState) error {
	desc := resource.desc

	format := VulkanFormat(desc.Format)
	if format == core1_0.FormatUndefined {
		return errors.Mark(errors.Newf("format %s has no vulkan equivalent", desc.Format), driver.ErrUnsupported)
	}

	extent := resource.mipExtent(0)
	image, res, err := d.device.CreateImage(d.options.AllocationCallbacks, core1_0.ImageCreateInfo{
		ImageType:     imageType(desc.Dimension),
		Extent:        extent,
		MipLevels:     resource.mipLevels(),
		ArrayLayers:   resource.arrayLayers(),
		Format:        format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         imageUsage(desc),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       sampleCount(desc.SampleCount),
	})
	if err != nil {
		return resultError(res, err, "creating image")
	}
	resource.image = image

	var memReqs core1_0.MemoryRequirements
	dedicated, err := d.imageMemoryRequirements(image, &memReqs)
	if err != nil {
		return err
	}

	var next common.Options
	if dedicated {
		next = khr_dedicated_allocation.MemoryDedicatedAllocateInfo{Image: image}
	}
	resource.memory, err = d.allocateMemory(&memReqs, desc.Heap, next)
	if err != nil {
		return err
	}

	res, err = image.BindImageMemory(resource.memory.memory, 0)
	if err != nil {
		return resultError(res, err, "binding image memory")
	}

	return d.initializeLayout(resource, initialState)
}

// initializeLayout moves a new image out of the undefined layout
func (d *Device) initializeLayout(resource *Resource, state driver.ResourceState) error {
	usage := usageForState(state, driver.CommandListDirect)

	return d.submitAndWait(func(buffer core1_0.CommandBuffer) error {
		return buffer.CmdPipelineBarrier(core1_0.PipelineStageTopOfPipe, usage.Stages, 0, nil, nil, []core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           usage.Layout,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               resource.image,
				SubresourceRange:    resource.subresourceRange(driver.AllSubresources),
				SrcAccessMask:       0,
				DstAccessMask:       usage.Access,
			},
		})
	})
}

func (d *Device) allocateMemory(memReqs *core1_0.MemoryRequirements, heap driver.HeapType, next common.Options) (*mappableMemory, error) {
	memoryTypeIndex, err := findMemoryTypeIndex(d.memory.memoryProperties, memReqs.MemoryTypeBits, heap)
	if err != nil {
		return nil, err
	}

	return d.memory.allocate(memoryTypeIndex, memReqs.Size, next)
}

// bufferMemoryRequirements fills memoryRequirements and reports whether the buffer should get a dedicated
// allocation
func (d *Device) bufferMemoryRequirements(buffer core1_0.Buffer, memoryRequirements *core1_0.MemoryRequirements) (bool, error) {
	if d.extensions.DedicatedAllocations && d.extensions.GetMemoryRequirements != nil {
		dedicatedReqs := khr_dedicated_allocation.MemoryDedicatedRequirements{}
		memReqs := core1_1.MemoryRequirements2{
			NextOutData: common.NextOutData{
				Next: &dedicatedReqs,
			},
		}

		err := d.extensions.GetMemoryRequirements.BufferMemoryRequirements2(
			core1_1.BufferMemoryRequirementsInfo2{
				Buffer: buffer,
			},
			&memReqs)
		if err != nil {
			return false, err
		}

		*memoryRequirements = memReqs.MemoryRequirements
		return dedicatedReqs.RequiresDedicatedAllocation || dedicatedReqs.PrefersDedicatedAllocation, nil
	}

	*memoryRequirements = *buffer.MemoryRequirements()
	return false, nil
}

func (d *Device) imageMemoryRequirements(image core1_0.Image, memoryRequirements *core1_0.MemoryRequirements) (bool, error) {
	if d.extensions.DedicatedAllocations && d.extensions.GetMemoryRequirements != nil {
		dedicatedReqs := khr_dedicated_allocation.MemoryDedicatedRequirements{}
		memReqs := core1_1.MemoryRequirements2{
			NextOutData: common.NextOutData{
				Next: &dedicatedReqs,
			},
		}

		err := d.extensions.GetMemoryRequirements.ImageMemoryRequirements2(
			core1_1.ImageMemoryRequirementsInfo2{
				Image: image,
			},
			&memReqs)
		if err != nil {
			return false, err
		}

		*memoryRequirements = memReqs.MemoryRequirements
		return dedicatedReqs.RequiresDedicatedAllocation || dedicatedReqs.PrefersDedicatedAllocation, nil
	}

	*memoryRequirements = *image.MemoryRequirements()
	return false, nil
}
