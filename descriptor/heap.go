package descriptor

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

// DescriptorHeap is a fixed-capacity bump allocator over one driver heap. Slots are handed out in order
// and are never returned individually; the heap lives until Destroy.
type DescriptorHeap struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	name           string
	heap           driver.DescriptorHeap
	desc           driver.DescriptorHeapDesc
	descriptorSize uint32

	numFreeDescriptors uint32
	firstHandle        DescriptorHandle
	nextFreeHandle     DescriptorHandle
}

var _ memutils.Validatable = &DescriptorHeap{}

// NewDescriptorHeap creates an empty heap wrapper. useMutex may be false if every caller of Alloc is
// externally synchronized.
func NewDescriptorHeap(logger *slog.Logger, useMutex bool) *DescriptorHeap {
	return &DescriptorHeap{
		logger: logger,
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
		firstHandle:    NullHandle,
		nextFreeHandle: NullHandle,
	}
}

// Create allocates a CPU-only driver heap of maxCount descriptors
func (h *DescriptorHeap) Create(device driver.Device, name string, heapType driver.DescriptorHeapType, maxCount uint32) error {
	return h.create(device, driver.DescriptorHeapDesc{
		Label: name,
		Type:  heapType,
		Count: maxCount,
	})
}

// CreateShaderVisible allocates a shader-visible driver heap of maxCount descriptors. Only CBV/SRV/UAV
// and sampler heaps can be shader visible.
func (h *DescriptorHeap) CreateShaderVisible(device driver.Device, name string, heapType driver.DescriptorHeapType, maxCount uint32) error {
	if !heapType.CanBeShaderVisible() {
		panic(errors.AssertionFailedf("called DescriptorHeap::CreateShaderVisible with %s, which cannot be shader visible", heapType))
	}

	return h.create(device, driver.DescriptorHeapDesc{
		Label:         name,
		Type:          heapType,
		Count:         maxCount,
		ShaderVisible: true,
	})
}

func (h *DescriptorHeap) create(device driver.Device, desc driver.DescriptorHeapDesc) error {
	if h.heap != nil {
		panic(errors.AssertionFailedf("called DescriptorHeap::Create on heap %q, which already exists", h.name))
	}

	heap, err := device.CreateDescriptorHeap(desc)
	if err != nil {
		return errors.Wrapf(err, "creating descriptor heap %q", desc.Label)
	}

	h.name = desc.Label
	h.heap = heap
	h.desc = desc
	h.descriptorSize = device.DescriptorHandleIncrementSize(desc.Type)
	h.numFreeDescriptors = desc.Count
	h.firstHandle = NewDescriptorHandle(heap.CPUStart(), heap.GPUStart(), h.descriptorSize)
	h.nextFreeHandle = h.firstHandle

	h.logger.Debug("DescriptorHeap::Create",
		slog.String("Name", desc.Label),
		slog.String("Type", desc.Type.String()),
		slog.Int("Count", int(desc.Count)),
		slog.Bool("ShaderVisible", desc.ShaderVisible),
	)
	return nil
}

func (h *DescriptorHeap) Name() string                    { return h.name }
func (h *DescriptorHeap) Type() driver.DescriptorHeapType { return h.desc.Type }
func (h *DescriptorHeap) Capacity() uint32                { return h.desc.Count }
func (h *DescriptorHeap) DescriptorSize() uint32          { return h.descriptorSize }
func (h *DescriptorHeap) IsShaderVisible() bool           { return h.desc.ShaderVisible }
func (h *DescriptorHeap) Heap() driver.DescriptorHeap     { return h.heap }
func (h *DescriptorHeap) FirstHandle() DescriptorHandle   { return h.firstHandle }

func (h *DescriptorHeap) FreeCount() uint32 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.numFreeDescriptors
}

// HasAvailableSpace reports whether count more descriptors can be allocated
func (h *DescriptorHeap) HasAvailableSpace(count uint32) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return count <= h.numFreeDescriptors
}

// Alloc hands out count contiguous descriptor slots. Allocating more than FreeCount slots is a
// programmer error and panics: on hardware it would overwrite whatever follows the heap.
func (h *DescriptorHeap) Alloc(count uint32) DescriptorHandle {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.heap == nil {
		panic(errors.AssertionFailedf("called DescriptorHeap::Alloc before Create"))
	}
	if count > h.numFreeDescriptors {
		panic(errors.AssertionFailedf("descriptor heap %q out of space: %d descriptors requested, %d free", h.name, count, h.numFreeDescriptors))
	}

	handle := h.nextFreeHandle
	h.nextFreeHandle = h.nextFreeHandle.Offset(int(count))
	h.numFreeDescriptors -= count

	memutils.DebugValidate(h)
	return handle
}

// OffsetOf is the slot index of handle relative to the start of the heap
func (h *DescriptorHeap) OffsetOf(handle DescriptorHandle) uint32 {
	return uint32((handle.cpu.Ptr - h.firstHandle.cpu.Ptr) / uint64(h.descriptorSize))
}

// HandleAtOffset is the handle of slot offset
func (h *DescriptorHeap) HandleAtOffset(offset uint32) DescriptorHandle {
	return h.firstHandle.Offset(int(offset))
}

// ValidateHandle reports whether handle lies inside the heap on a slot boundary and, for shader-visible
// heaps, whether its CPU and GPU halves point at the same slot
func (h *DescriptorHeap) ValidateHandle(handle DescriptorHandle) bool {
	if h.heap == nil || handle.IsNull() {
		return false
	}

	cpuStart := h.firstHandle.cpu.Ptr
	cpuEnd := cpuStart + uint64(h.desc.Count)*uint64(h.descriptorSize)
	if handle.cpu.Ptr < cpuStart || handle.cpu.Ptr >= cpuEnd {
		return false
	}

	cpuOffset := handle.cpu.Ptr - cpuStart
	if cpuOffset%uint64(h.descriptorSize) != 0 {
		return false
	}

	if !h.desc.ShaderVisible {
		return handle.gpu.IsNull()
	}
	if handle.gpu.IsNull() || handle.gpu.Ptr < h.firstHandle.gpu.Ptr {
		return false
	}
	return handle.gpu.Ptr-h.firstHandle.gpu.Ptr == cpuOffset
}

func (h *DescriptorHeap) Validate() error {
	if h.numFreeDescriptors > h.desc.Count {
		return errors.Newf("descriptor heap %q has %d free descriptors but a capacity of %d", h.name, h.numFreeDescriptors, h.desc.Count)
	}

	used := h.desc.Count - h.numFreeDescriptors
	if h.nextFreeHandle != h.firstHandle.Offset(int(used)) {
		return errors.Newf("descriptor heap %q cursor does not match its %d allocated descriptors", h.name, used)
	}

	if used < h.desc.Count && !h.ValidateHandle(h.nextFreeHandle) {
		return errors.Newf("descriptor heap %q cursor is not a valid handle", h.name)
	}

	return nil
}

// Statistics reports the heap as a single block
func (h *DescriptorHeap) Statistics() memutils.Statistics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	used := int(h.desc.Count - h.numFreeDescriptors)
	return memutils.Statistics{
		BlockCount:      1,
		BlockBytes:      int(h.desc.Count) * int(h.descriptorSize),
		AllocationCount: used,
		AllocationBytes: used * int(h.descriptorSize),
	}
}

func (h *DescriptorHeap) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	h.WriteJson(&obj)
}

// WriteJson populates a json object with the heap's parameters and usage
func (h *DescriptorHeap) WriteJson(json *jwriter.ObjectState) {
	stats := h.Statistics()

	json.Name("Name").String(h.name)
	json.Name("Type").String(h.desc.Type.String())
	json.Name("Capacity").Int(int(h.desc.Count))
	json.Name("DescriptorSize").Int(int(h.descriptorSize))
	json.Name("ShaderVisible").Bool(h.desc.ShaderVisible)
	stats.WriteJson(json)
}

// Destroy releases the driver heap. Every handle allocated from it becomes invalid.
func (h *DescriptorHeap) Destroy() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.heap == nil {
		return
	}

	h.logger.Debug("DescriptorHeap::Destroy", slog.String("Name", h.name))
	h.heap.Destroy()
	h.heap = nil
	h.numFreeDescriptors = 0
	h.firstHandle = NullHandle
	h.nextFreeHandle = NullHandle
}
