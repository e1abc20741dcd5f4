package vulkan

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

// ViewKind is the kind of descriptor written into a slot
type ViewKind int

const (
	ViewNone ViewKind = iota
	ViewRenderTarget
	ViewDepthStencil
	ViewShaderResource
	ViewUnorderedAccess
)

// Descriptor is one written heap slot. Texture views own a VkImageView; buffer views are described by
// Desc alone and bound by offset.
type Descriptor struct {
	Kind      ViewKind
	Resource  *Resource
	ImageView core1_0.ImageView
	Desc      driver.ViewDesc
}

// DescriptorHeap is an array of descriptor slots kept on the CPU. Passes that bind descriptors translate
// the slots into descriptor sets when they record.
type DescriptorHeap struct {
	device *Device
	id     uint64
	desc   driver.DescriptorHeapDesc

	mutex sync.Mutex
	slots []Descriptor
}

var _ driver.DescriptorHeap = &DescriptorHeap{}

func (h *DescriptorHeap) Desc() driver.DescriptorHeapDesc {
	return h.desc
}

func (h *DescriptorHeap) CPUStart() driver.CPUDescriptorHandle {
	return driver.CPUDescriptorHandle{Ptr: h.id << 32}
}

func (h *DescriptorHeap) GPUStart() driver.GPUDescriptorHandle {
	if !h.desc.ShaderVisible {
		return driver.NullGPUDescriptorHandle
	}
	return driver.GPUDescriptorHandle{Ptr: h.id<<32 | shaderVisibleBit}
}

func (h *DescriptorHeap) write(slot int, descriptor Descriptor) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clearLocked(slot)
	h.slots[slot] = descriptor
	descriptor.Resource.trackView(h, slot)
}

// clearResource clears slot if it still holds a view of resource
func (h *DescriptorHeap) clearResource(slot int, resource *Resource) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.slots[slot].Resource == resource {
		h.clearLocked(slot)
	}
}

func (h *DescriptorHeap) clearLocked(slot int) {
	if h.slots[slot].ImageView != nil {
		h.slots[slot].ImageView.Destroy(h.device.options.AllocationCallbacks)
	}
	h.slots[slot] = Descriptor{}
}

func (h *DescriptorHeap) Destroy() {
	h.mutex.Lock()
	for slot := range h.slots {
		h.clearLocked(slot)
	}
	h.mutex.Unlock()

	h.device.heapMutex.Lock()
	h.device.heaps.Delete(h.id)
	h.device.heapMutex.Unlock()
}

func (d *Device) CreateDescriptorHeap(desc driver.DescriptorHeapDesc) (driver.DescriptorHeap, error) {
	if desc.Count == 0 {
		return nil, errors.New("cannot create an empty descriptor heap")
	}
	if desc.ShaderVisible && !desc.Type.CanBeShaderVisible() {
		return nil, errors.Newf("%s heaps cannot be shader visible", desc.Type)
	}

	heap := &DescriptorHeap{
		device: d,
		id:     d.nextHeapID.Add(1),
		desc:   desc,
		slots:  make([]Descriptor, desc.Count),
	}

	d.heapMutex.Lock()
	d.heaps.Put(heap.id, heap)
	d.heapMutex.Unlock()

	d.logger.Debug("Device::CreateDescriptorHeap", slog.String("Label", desc.Label), slog.Int("Count", int(desc.Count)))
	return heap, nil
}

// lookupSlot finds the heap and slot handle addresses
func (d *Device) lookupSlot(handle driver.CPUDescriptorHandle) (*DescriptorHeap, int, error) {
	d.heapMutex.RLock()
	heap, ok := d.heaps.Get(handle.Ptr >> 32)
	d.heapMutex.RUnlock()
	if !ok {
		return nil, 0, errors.Newf("descriptor handle %#x does not belong to a live heap", handle.Ptr)
	}

	offset := handle.Ptr & 0xffffffff
	if offset%uint64(descriptorStride) != 0 || offset/uint64(descriptorStride) >= uint64(heap.desc.Count) {
		return nil, 0, errors.Newf("descriptor handle %#x is outside heap %q", handle.Ptr, heap.desc.Label)
	}
	return heap, int(offset / uint64(descriptorStride)), nil
}

// Descriptor returns the descriptor most recently written to handle
func (d *Device) Descriptor(handle driver.CPUDescriptorHandle) (Descriptor, bool) {
	heap, slot, err := d.lookupSlot(handle)
	if err != nil {
		return Descriptor{}, false
	}

	heap.mutex.Lock()
	defer heap.mutex.Unlock()

	descriptor := heap.slots[slot]
	return descriptor, descriptor.Kind != ViewNone
}

func viewType(desc driver.ViewDesc) core1_0.ImageViewType {
	switch desc.Dimension {
	case driver.ViewDimensionTexture2DArray, driver.ViewDimensionTexture2DMSArray:
		return core1_0.ImageViewType2DArray
	case driver.ViewDimensionTexture3D:
		return core1_0.ImageViewType3D
	}
	return core1_0.ImageViewType2D
}

// defaultViewDesc derives a view covering the whole resource
func defaultViewDesc(resource *Resource) driver.ViewDesc {
	desc := driver.ViewDesc{Format: resource.desc.Format}

	switch {
	case resource.desc.Dimension == driver.DimensionBuffer:
		desc.Dimension = driver.ViewDimensionBuffer
	case resource.desc.Dimension == driver.DimensionTexture3D:
		desc.Dimension = driver.ViewDimensionTexture3D
	case resource.desc.SampleCount > 1:
		desc.Dimension = driver.ViewDimensionTexture2DMS
	case resource.arrayLayers() > 1:
		desc.Dimension = driver.ViewDimensionTexture2DArray
		desc.ArraySize = uint32(resource.arrayLayers())
	default:
		desc.Dimension = driver.ViewDimensionTexture2D
	}
	return desc
}

// viewRange is the subresource range a view of kind selects
func viewRange(kind ViewKind, resource *Resource, desc driver.ViewDesc) core1_0.ImageSubresourceRange {
	subresources := core1_0.ImageSubresourceRange{
		AspectMask:     aspectMask(desc.Format),
		BaseMipLevel:   int(desc.MipSlice),
		LevelCount:     1,
		BaseArrayLayer: int(desc.FirstArraySlice),
		LayerCount:     int(max(desc.ArraySize, 1)),
	}

	if kind == ViewShaderResource {
		subresources.BaseMipLevel = int(desc.MostDetailedMip)
		subresources.LevelCount = resource.mipLevels() - subresources.BaseMipLevel
		if desc.MipLevels > 0 {
			subresources.LevelCount = int(desc.MipLevels)
		}

		// Sampled depth/stencil views read a single plane
		if desc.Format.IsDepth() {
			subresources.AspectMask = core1_0.ImageAspectDepth
			if desc.PlaneSlice == 1 {
				subresources.AspectMask = core1_0.ImageAspectStencil
			}
		}
	}

	if desc.Dimension == driver.ViewDimensionTexture3D {
		subresources.BaseArrayLayer = 0
		subresources.LayerCount = 1
	}
	return subresources
}

func (d *Device) writeView(kind ViewKind, resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) error {
	res, ok := resource.(*Resource)
	if !ok {
		return errors.Newf("vulkan device cannot create views of %T", resource)
	}
	if res.destroyed.Load() {
		return errors.Newf("cannot create a view of destroyed resource %q", res.desc.Label)
	}

	heap, slot, err := d.lookupSlot(dest)
	if err != nil {
		return err
	}
	if heap.desc.Type != heapType {
		return errors.Newf("cannot write a view into a %s heap: it requires a %s heap", heap.desc.Type, heapType)
	}

	viewDesc := defaultViewDesc(res)
	if desc != nil {
		viewDesc = *desc
	}
	if viewDesc.Format == driver.FormatUnknown {
		viewDesc.Format = res.desc.Format
	}

	descriptor := Descriptor{Kind: kind, Resource: res, Desc: viewDesc}
	if res.image != nil {
		descriptor.ImageView, _, err = d.device.CreateImageView(d.options.AllocationCallbacks, core1_0.ImageViewCreateInfo{
			Image:            res.image,
			ViewType:         viewType(viewDesc),
			Format:           VulkanFormat(viewDesc.Format),
			SubresourceRange: viewRange(kind, res, viewDesc),
		})
		if err != nil {
			return errors.Wrapf(err, "creating image view of %q", res.desc.Label)
		}
	}

	heap.write(slot, descriptor)
	return nil
}

func (d *Device) CreateRenderTargetView(resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle) error {
	return d.writeView(ViewRenderTarget, resource, desc, dest, driver.DescriptorHeapRTV)
}

func (d *Device) CreateDepthStencilView(resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle) error {
	return d.writeView(ViewDepthStencil, resource, desc, dest, driver.DescriptorHeapDSV)
}

func (d *Device) CreateShaderResourceView(resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle) error {
	return d.writeView(ViewShaderResource, resource, desc, dest, driver.DescriptorHeapCBVSRVUAV)
}

func (d *Device) CreateUnorderedAccessView(resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle) error {
	return d.writeView(ViewUnorderedAccess, resource, desc, dest, driver.DescriptorHeapCBVSRVUAV)
}
