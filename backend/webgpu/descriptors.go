package webgpu

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
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

// Descriptor is one written heap slot. Texture descriptors own a hal.TextureView; buffer descriptors are
// bound by range when a pass builds its bind group.
type Descriptor struct {
	Kind     ViewKind
	Resource *Resource
	View     hal.TextureView
	Desc     driver.ViewDesc
}

// DescriptorHeap is a CPU table of descriptors that passes turn into bind groups
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

func (h *DescriptorHeap) clearResource(slot int, resource *Resource) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.slots[slot].Resource == resource {
		h.clearLocked(slot)
	}
}

func (h *DescriptorHeap) clearLocked(slot int) {
	if h.slots[slot].View != nil {
		h.device.device.DestroyTextureView(h.slots[slot].View)
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

func (d *Device) lookupSlot(handle driver.CPUDescriptorHandle) (*DescriptorHeap, int, error) {
	d.heapMutex.RLock()
	heap, ok := d.heaps.Get(handle.Ptr >> 32)
	d.heapMutex.RUnlock()
	if !ok {
		return nil, 0, errors.Newf("descriptor handle %#x does not belong to a live heap", handle.Ptr)
	}

	offset := handle.Ptr & 0xffffffff
	if offset%descriptorStride != 0 || offset/descriptorStride >= uint64(heap.desc.Count) {
		return nil, 0, errors.Newf("descriptor handle %#x is outside heap %q", handle.Ptr, heap.desc.Label)
	}
	return heap, int(offset / descriptorStride), nil
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

// textureViewDescriptor selects the mips, layers and aspect a view of kind covers. Zero counts cover
// every remaining mip or layer.
func textureViewDescriptor(kind ViewKind, resource *Resource, desc driver.ViewDesc) *hal.TextureViewDescriptor {
	view := &hal.TextureViewDescriptor{
		Label:           resource.desc.Label,
		Format:          TextureFormat(desc.Format),
		Dimension:       viewDimension(desc.Dimension),
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    desc.MipSlice,
		MipLevelCount:   1,
		BaseArrayLayer:  desc.FirstArraySlice,
		ArrayLayerCount: desc.ArraySize,
	}

	if kind == ViewShaderResource {
		view.BaseMipLevel = desc.MostDetailedMip
		view.MipLevelCount = desc.MipLevels

		if desc.Format.IsDepth() {
			view.Aspect = gputypes.TextureAspectDepthOnly
			if desc.PlaneSlice == 1 {
				view.Aspect = gputypes.TextureAspectStencilOnly
			}
		}
	}

	if desc.Dimension == driver.ViewDimensionTexture3D {
		view.BaseArrayLayer = 0
		view.ArrayLayerCount = 1
	}
	return view
}

func (d *Device) writeView(kind ViewKind, resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) error {
	res, ok := resource.(*Resource)
	if !ok {
		return errors.Newf("webgpu device cannot create views of %T", resource)
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

	viewDesc := driver.ViewDesc{Format: res.desc.Format, Dimension: driver.ViewDimensionTexture2D}
	if res.buffer != nil {
		viewDesc.Dimension = driver.ViewDimensionBuffer
	} else if res.desc.Dimension == driver.DimensionTexture3D {
		viewDesc.Dimension = driver.ViewDimensionTexture3D
	} else if res.desc.DepthOrArraySize > 1 {
		viewDesc.Dimension = driver.ViewDimensionTexture2DArray
		viewDesc.ArraySize = uint32(res.desc.DepthOrArraySize)
	}
	if desc != nil {
		viewDesc = *desc
	}
	if viewDesc.Format == driver.FormatUnknown {
		viewDesc.Format = res.desc.Format
	}

	descriptor := Descriptor{Kind: kind, Resource: res, Desc: viewDesc}
	if res.texture != nil {
		descriptor.View, err = d.device.CreateTextureView(res.texture, textureViewDescriptor(kind, res, viewDesc))
		if err != nil {
			return errors.Wrapf(err, "creating texture view of %q", res.desc.Label)
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
