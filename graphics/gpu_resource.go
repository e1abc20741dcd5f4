package graphics

import (
	"sync/atomic"

	"github.com/vkngwrapper/forge/driver"
)

// noCopy trips go vet's copylocks check for types whose address is handed to the GPU bookkeeping
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type sharedResource struct {
	resource driver.Resource
	refs     atomic.Int32
}

func (s *sharedResource) retain() {
	if s.refs.Add(1) <= 1 {
		panic("retained a native resource that was already destroyed")
	}
}

func (s *sharedResource) release() {
	refs := s.refs.Add(-1)
	if refs < 0 {
		panic("released a native resource more times than it was retained")
	}
	if refs == 0 {
		s.resource.Destroy()
	}
}

// ResourceRef keeps the native resource of a GpuResource alive after the GpuResource is destroyed,
// typically until a submission that reads it has retired
type ResourceRef struct {
	shared   *sharedResource
	released atomic.Bool
}

func (r *ResourceRef) Native() driver.Resource {
	return r.shared.resource
}

// Release drops the reference. The native resource is destroyed when the last reference goes.
func (r *ResourceRef) Release() {
	if r.released.Swap(true) {
		panic("called ResourceRef::Release twice")
	}
	r.shared.release()
}

// Resource is anything a CommandContext can transition: GpuResource and every buffer type embedding it
type Resource interface {
	gpuResource() *GpuResource
}

// GpuResource is one GPU allocation together with the state the command stream last left it in. Only
// CommandContext writes the state, and it is not safe for concurrent use.
type GpuResource struct {
	noCopy noCopy

	shared             *sharedResource
	usageState         driver.ResourceState
	transitioningState driver.ResourceState
	gpuAddress         uint64

	// version is bumped every time the native resource is replaced or destroyed, so cached views can
	// detect that they are stale
	version uint32
}

func (r *GpuResource) gpuResource() *GpuResource {
	return r
}

func (r *GpuResource) initialize(resource driver.Resource, state driver.ResourceState) {
	if r.shared != nil {
		r.Destroy()
	}

	r.shared = &sharedResource{resource: resource}
	r.shared.refs.Store(1)
	r.usageState = state
	r.transitioningState = driver.ResourceStateInvalid
	r.gpuAddress = resource.GPUVirtualAddress()
	r.version++
}

// IsValid reports whether the resource currently owns a native resource
func (r *GpuResource) IsValid() bool {
	return r.shared != nil
}

// Native is the native resource, or nil after Destroy
func (r *GpuResource) Native() driver.Resource {
	if r.shared == nil {
		return nil
	}
	return r.shared.resource
}

func (r *GpuResource) UsageState() driver.ResourceState         { return r.usageState }
func (r *GpuResource) TransitioningState() driver.ResourceState { return r.transitioningState }
func (r *GpuResource) GPUVirtualAddress() uint64                { return r.gpuAddress }
func (r *GpuResource) Version() uint32                          { return r.version }

// Retain returns an additional reference to the native resource
func (r *GpuResource) Retain() *ResourceRef {
	if r.shared == nil {
		panic("called GpuResource::Retain on a destroyed resource")
	}
	r.shared.retain()
	return &ResourceRef{shared: r.shared}
}

// Destroy drops this resource's reference to the native resource. The native resource itself is
// destroyed once every ResourceRef has been released too.
func (r *GpuResource) Destroy() {
	if r.shared != nil {
		r.shared.release()
		r.shared = nil
	}

	r.gpuAddress = 0
	r.usageState = driver.ResourceStateCommon
	r.transitioningState = driver.ResourceStateInvalid
	r.version++
}
