// Package noop is an in-memory driver. It executes command lists on the CPU at submission time and
// validates the rules a real driver's debug layer would: allocators are not reset while their lists are
// in flight, transition barriers match the state the resource is actually in, copies happen in copy
// states, descriptors land in heaps of the right type, and swap chain buffers are released before a
// resize.
package noop

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// Options configures a noop Device
type Options struct {
	// ManualFenceCompletion leaves signaled fence values pending until CompleteFences or Fence.Complete is
	// called, so tests can observe work that is still "executing". A CPU wait on a pending value
	// completes it.
	ManualFenceCompletion bool
	// DescriptorSizes overrides the reported stride of each descriptor heap type. Zero entries use
	// the defaults (32 bytes for CBV/SRV/UAV, RTV and sampler, 8 for DSV).
	DescriptorSizes [driver.DescriptorHeapTypeCount]uint32
	// SkipStateValidation turns off the resource state checks performed at submission
	SkipStateValidation bool
}

// ViewKind is the kind of descriptor written into a slot
type ViewKind int

const (
	ViewRenderTarget ViewKind = iota
	ViewDepthStencil
	ViewShaderResource
	ViewUnorderedAccess
)

// View is the record of a descriptor written by one of the Device's view creation methods
type View struct {
	Kind     ViewKind
	Resource *Resource
	Desc     driver.ViewDesc
}

const (
	baseAddress   uint64 = 0x10000000
	addressAlign  uint64 = 0x10000
	shaderVisible uint64 = 1 << 62
)

var defaultDescriptorSizes = [driver.DescriptorHeapTypeCount]uint32{32, 32, 32, 8}

// Device is the noop driver.Device
type Device struct {
	logger  *slog.Logger
	options Options

	mutex  sync.Mutex
	fences []*Fence
	heaps  map[uint64]*DescriptorHeap
	views  map[uint64]View

	nextHeapID  atomic.Uint64
	nextAddress atomic.Uint64
	liveObjects atomic.Int64
}

var _ driver.Device = &Device{}

func New(logger *slog.Logger, options Options) *Device {
	for i, size := range options.DescriptorSizes {
		if size == 0 {
			options.DescriptorSizes[i] = defaultDescriptorSizes[i]
		}
	}

	device := &Device{
		logger:  logger,
		options: options,
		heaps:   make(map[uint64]*DescriptorHeap),
		views:   make(map[uint64]View),
	}
	device.nextAddress.Store(baseAddress)
	return device
}

// LiveObjects is the number of created objects that have not been destroyed
func (d *Device) LiveObjects() int64 {
	return d.liveObjects.Load()
}

// CompleteFences completes every fence up to the last value signaled on it
func (d *Device) CompleteFences() {
	d.mutex.Lock()
	fences := append([]*Fence(nil), d.fences...)
	d.mutex.Unlock()

	for _, fence := range fences {
		fence.Complete(fence.SignaledValue())
	}
}

// View returns the descriptor most recently written to handle
func (d *Device) View(handle driver.CPUDescriptorHandle) (View, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	view, ok := d.views[handle.Ptr]
	return view, ok
}

func (d *Device) created() {
	d.liveObjects.Add(1)
}

func (d *Device) destroyed() {
	if d.liveObjects.Add(-1) < 0 {
		panic("noop device destroyed more objects than it created")
	}
}

func (d *Device) CreateCommandQueue(listType driver.CommandListType) (driver.Queue, error) {
	d.logger.Debug("Device::CreateCommandQueue", slog.String("Type", listType.String()))
	d.created()
	return &Queue{device: d, listType: listType}, nil
}

func (d *Device) CreateFence(initialValue uint64) (driver.Fence, error) {
	fence := &Fence{device: d, completed: initialValue, signaled: initialValue}

	d.mutex.Lock()
	d.fences = append(d.fences, fence)
	d.mutex.Unlock()

	d.created()
	return fence, nil
}

func (d *Device) CreateCommandAllocator(listType driver.CommandListType) (driver.CommandAllocator, error) {
	d.logger.Debug("Device::CreateCommandAllocator", slog.String("Type", listType.String()))
	d.created()
	return &CommandAllocator{device: d, listType: listType}, nil
}

func (d *Device) CreateCommandList(listType driver.CommandListType, allocator driver.CommandAllocator) (driver.CommandList, error) {
	alloc, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, errors.Newf("noop device cannot record into allocator of type %T", allocator)
	}
	if alloc.listType != listType {
		return nil, errors.Newf("cannot create a %s command list from a %s allocator", listType, alloc.listType)
	}

	d.created()
	return &CommandList{device: d, listType: listType, allocator: alloc}, nil
}

func (d *Device) CreateDescriptorHeap(desc driver.DescriptorHeapDesc) (driver.DescriptorHeap, error) {
	if desc.Count == 0 {
		return nil, errors.New("cannot create an empty descriptor heap")
	}
	if desc.ShaderVisible && !desc.Type.CanBeShaderVisible() {
		return nil, errors.Newf("%s heaps cannot be shader visible", desc.Type)
	}

	id := d.nextHeapID.Add(1)
	heap := &DescriptorHeap{
		device: d,
		id:     id,
		desc:   desc,
		stride: d.options.DescriptorSizes[desc.Type],
	}

	d.mutex.Lock()
	d.heaps[id] = heap
	d.mutex.Unlock()

	d.logger.Debug("Device::CreateDescriptorHeap", slog.String("Label", desc.Label), slog.Int("Count", int(desc.Count)))
	d.created()
	return heap, nil
}

func (d *Device) DescriptorHandleIncrementSize(heapType driver.DescriptorHeapType) uint32 {
	return d.options.DescriptorSizes[heapType]
}

func (d *Device) CreateCommittedResource(desc driver.ResourceDesc, initialState driver.ResourceState, clearValue *driver.ClearValue) (driver.Resource, error) {
	if desc.Width == 0 {
		return nil, errors.Newf("cannot create resource %q with zero width", desc.Label)
	}
	if desc.Heap == driver.HeapUpload && initialState != driver.ResourceStateGenericRead {
		return nil, errors.Newf("upload heap resource %q must start in %s", desc.Label, driver.ResourceStateGenericRead)
	}
	if clearValue != nil && desc.Flags&(driver.ResourceFlagAllowRenderTarget|driver.ResourceFlagAllowDepthStencil) == 0 {
		return nil, errors.Newf("clear value supplied for resource %q that is neither a render target nor a depth stencil", desc.Label)
	}

	resource := &Resource{
		device: d,
		desc:   desc,
		state:  initialState,
	}

	if desc.Dimension == driver.DimensionBuffer {
		size := (desc.Width + addressAlign - 1) &^ (addressAlign - 1)
		resource.address = d.nextAddress.Add(size) - size
		resource.data = make([]byte, desc.Width)
	}

	d.created()
	return resource, nil
}

func (d *Device) writeView(kind ViewKind, resource driver.Resource, desc *driver.ViewDesc, dest driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) error {
	res, ok := resource.(*Resource)
	if !ok {
		return errors.Newf("noop device cannot create views of %T", resource)
	}
	if res.isDestroyed() {
		return errors.Newf("cannot create a view of destroyed resource %q", res.desc.Label)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	heap, ok := d.heaps[dest.Ptr>>32]
	if !ok {
		return errors.Newf("descriptor handle %#x does not belong to a live heap", dest.Ptr)
	}
	if heap.desc.Type != heapType {
		return errors.Newf("cannot write a view into a %s heap: it requires a %s heap", heap.desc.Type, heapType)
	}
	offset := dest.Ptr & 0xffffffff
	if offset%uint64(heap.stride) != 0 || offset/uint64(heap.stride) >= uint64(heap.desc.Count) {
		return errors.Newf("descriptor handle %#x is outside heap %q", dest.Ptr, heap.desc.Label)
	}

	view := View{Kind: kind, Resource: res}
	if desc != nil {
		view.Desc = *desc
	} else {
		view.Desc.Format = res.desc.Format
	}

	d.views[dest.Ptr] = view
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

func (d *Device) Destroy() {
	if live := d.liveObjects.Load(); live != 0 {
		d.logger.Warn("Device::Destroy called with live objects", slog.Int64("LiveObjects", live))
	}
}
