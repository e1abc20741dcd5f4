package noop

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// Resource is the noop driver.Resource. Buffers of every heap type carry CPU backing memory so copies
// can be observed.
type Resource struct {
	device  *Device
	desc    driver.ResourceDesc
	address uint64
	data    []byte

	swapChain   *SwapChain
	bufferIndex int

	mutex         sync.Mutex
	state         driver.ResourceState
	pendingSplit  driver.ResourceState
	hasSplit      bool
	transitions   int
	mapReferences int
	destroyed     atomic.Bool
}

var _ driver.Resource = &Resource{}

func (r *Resource) Desc() driver.ResourceDesc {
	return r.desc
}

func (r *Resource) GPUVirtualAddress() uint64 {
	return r.address
}

// State is the state the resource was left in by the last executed barrier
func (r *Resource) State() driver.ResourceState {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.state
}

// Transitions is the number of executed transition barriers that changed the resource's state
func (r *Resource) Transitions() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.transitions
}

// Contents returns the backing memory of a buffer regardless of heap type
func (r *Resource) Contents() []byte {
	return r.data
}

func (r *Resource) isDestroyed() bool {
	return r.destroyed.Load()
}

func (r *Resource) transition(barrier driver.Barrier, skipStateValidation bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.isDestroyed() {
		return errors.AssertionFailedf("barrier on destroyed resource %q", r.desc.Label)
	}

	if !skipStateValidation && r.state != barrier.StateBefore {
		return errors.AssertionFailedf("%s barrier on resource %q expects state %s but the resource is in %s",
			barrier.Flags, r.desc.Label, barrier.StateBefore, r.state)
	}

	switch barrier.Flags {
	case driver.BarrierFlagBeginOnly:
		r.pendingSplit = barrier.StateAfter
		r.hasSplit = true
		return nil
	case driver.BarrierFlagEndOnly:
		if !skipStateValidation && (!r.hasSplit || r.pendingSplit != barrier.StateAfter) {
			return errors.AssertionFailedf("end-only barrier on resource %q to %s has no matching begin", r.desc.Label, barrier.StateAfter)
		}
	}

	r.hasSplit = false
	r.state = barrier.StateAfter
	r.transitions++
	return nil
}

func (r *Resource) Map() ([]byte, error) {
	if r.desc.Heap == driver.HeapDefault {
		return nil, errors.Mark(errors.Newf("resource %q lives in the default heap and cannot be mapped", r.desc.Label), driver.ErrUnsupported)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.mapReferences++
	return r.data, nil
}

func (r *Resource) Unmap() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.mapReferences == 0 {
		panic("called Resource::Unmap on a resource that is not mapped")
	}
	r.mapReferences--
}

func (r *Resource) Native() any {
	return r
}

// Destroy releases the resource. For swap chain buffers it releases the caller's reference only.
func (r *Resource) Destroy() {
	if r.swapChain != nil {
		r.swapChain.release(r.bufferIndex)
		return
	}

	if r.destroyed.Swap(true) {
		panic("noop resource destroyed twice")
	}
	r.device.destroyed()
}

// DescriptorHeap is the noop driver.DescriptorHeap. Handles encode the heap id in the upper 32 bits.
type DescriptorHeap struct {
	device *Device
	id     uint64
	desc   driver.DescriptorHeapDesc
	stride uint32
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
	return driver.GPUDescriptorHandle{Ptr: shaderVisible | h.id<<32}
}

func (h *DescriptorHeap) Destroy() {
	h.device.mutex.Lock()
	delete(h.device.heaps, h.id)
	h.device.mutex.Unlock()

	h.device.destroyed()
}
