package driver

import "math"

// CommandListType identifies the hardware queue family a command list, allocator or queue belongs to
type CommandListType int32

const (
	// CommandListDirect lists may contain any command and run on the graphics queue
	CommandListDirect CommandListType = iota
	// CommandListCompute lists contain compute and copy commands
	CommandListCompute
	// CommandListCopy lists contain copy commands only
	CommandListCopy

	// CommandListTypeCount is the number of queue-backed command list types
	CommandListTypeCount = 3
)

var commandListTypeMapping = make(map[CommandListType]string)

func (t CommandListType) String() string {
	return commandListTypeMapping[t]
}

// ResourceState is the access mode a resource is in from the GPU's point of view
type ResourceState uint32

const (
	ResourceStateCommon ResourceState = iota
	ResourceStateVertexAndConstantBuffer
	ResourceStateIndexBuffer
	ResourceStateRenderTarget
	ResourceStateUnorderedAccess
	ResourceStateDepthWrite
	ResourceStateDepthRead
	ResourceStateNonPixelShaderResource
	ResourceStatePixelShaderResource
	// ResourceStateShaderResource is readable from every shader stage
	ResourceStateShaderResource
	ResourceStateIndirectArgument
	ResourceStateCopyDest
	ResourceStateCopySource
	ResourceStateResolveDest
	ResourceStateResolveSource
	// ResourceStateGenericRead is the required state of upload heap resources
	ResourceStateGenericRead
	ResourceStatePresent

	// ResourceStateInvalid is a sentinel meaning "no state", used for a resource with no split
	// transition in flight
	ResourceStateInvalid ResourceState = math.MaxUint32
)

var resourceStateMapping = make(map[ResourceState]string)

func (s ResourceState) String() string {
	return resourceStateMapping[s]
}

// IsValidOnComputeQueue reports whether a compute queue is able to transition a resource out of or into
// this state
func (s ResourceState) IsValidOnComputeQueue() bool {
	switch s {
	case ResourceStateCommon, ResourceStateUnorderedAccess, ResourceStateNonPixelShaderResource,
		ResourceStateCopyDest, ResourceStateCopySource:
		return true
	}
	return false
}

// BarrierType distinguishes the three kinds of resource barrier
type BarrierType int32

const (
	// BarrierTransition changes the state of a resource
	BarrierTransition BarrierType = iota
	// BarrierAliasing switches usage between two resources sharing memory
	BarrierAliasing
	// BarrierUAV orders unordered-access reads and writes to a resource that stays in one state
	BarrierUAV
)

var barrierTypeMapping = make(map[BarrierType]string)

func (t BarrierType) String() string {
	return barrierTypeMapping[t]
}

// BarrierFlags split a transition into a begin and end half so the GPU can overlap it with other work
type BarrierFlags int32

const (
	BarrierFlagNone BarrierFlags = iota
	BarrierFlagBeginOnly
	BarrierFlagEndOnly
)

var barrierFlagsMapping = make(map[BarrierFlags]string)

func (f BarrierFlags) String() string {
	return barrierFlagsMapping[f]
}

// AllSubresources addresses every subresource of a resource in a transition barrier
const AllSubresources uint32 = math.MaxUint32

// Barrier is a single synchronization declaration recorded into a command list
type Barrier struct {
	Type  BarrierType
	Flags BarrierFlags

	// Resource is the transitioned resource, the UAV resource, or the aliasing "before" resource. A nil
	// UAV resource means every UAV access must complete.
	Resource Resource
	// ResourceAfter is the aliasing "after" resource
	ResourceAfter Resource

	Subresource uint32
	StateBefore ResourceState
	StateAfter  ResourceState
}

// Transition builds a full transition barrier covering every subresource
func Transition(resource Resource, before, after ResourceState) Barrier {
	return Barrier{
		Type:        BarrierTransition,
		Resource:    resource,
		Subresource: AllSubresources,
		StateBefore: before,
		StateAfter:  after,
	}
}

// HeapType selects where a committed resource's memory lives
type HeapType int32

const (
	// HeapDefault is device-local memory the CPU cannot see
	HeapDefault HeapType = iota
	// HeapUpload is CPU-writable, GPU-readable memory
	HeapUpload
	// HeapReadback is GPU-writable, CPU-readable memory
	HeapReadback
)

var heapTypeMapping = make(map[HeapType]string)

func (t HeapType) String() string {
	return heapTypeMapping[t]
}

// Dimension is the shape of a resource
type Dimension int32

const (
	DimensionBuffer Dimension = iota
	DimensionTexture1D
	DimensionTexture2D
	DimensionTexture3D
)

var dimensionMapping = make(map[Dimension]string)

func (d Dimension) String() string {
	return dimensionMapping[d]
}

// ResourceFlags permit view types beyond shader resource views
type ResourceFlags uint32

const (
	ResourceFlagAllowRenderTarget ResourceFlags = 1 << iota
	ResourceFlagAllowDepthStencil
	ResourceFlagAllowUnorderedAccess
	ResourceFlagDenyShaderResource

	ResourceFlagNone ResourceFlags = 0
)

// ResourceDesc describes a committed resource
type ResourceDesc struct {
	Label     string
	Dimension Dimension
	Heap      HeapType
	// Width is in bytes for buffers and texels for textures
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           Format
	SampleCount      uint32
	SampleQuality    uint32
	Flags            ResourceFlags
}

// ClearValue is the optimized clear value of a render target or depth buffer
type ClearValue struct {
	Format  Format
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

func init() {
	commandListTypeMapping[CommandListDirect] = "CommandListDirect"
	commandListTypeMapping[CommandListCompute] = "CommandListCompute"
	commandListTypeMapping[CommandListCopy] = "CommandListCopy"

	resourceStateMapping[ResourceStateCommon] = "ResourceStateCommon"
	resourceStateMapping[ResourceStateVertexAndConstantBuffer] = "ResourceStateVertexAndConstantBuffer"
	resourceStateMapping[ResourceStateIndexBuffer] = "ResourceStateIndexBuffer"
	resourceStateMapping[ResourceStateRenderTarget] = "ResourceStateRenderTarget"
	resourceStateMapping[ResourceStateUnorderedAccess] = "ResourceStateUnorderedAccess"
	resourceStateMapping[ResourceStateDepthWrite] = "ResourceStateDepthWrite"
	resourceStateMapping[ResourceStateDepthRead] = "ResourceStateDepthRead"
	resourceStateMapping[ResourceStateNonPixelShaderResource] = "ResourceStateNonPixelShaderResource"
	resourceStateMapping[ResourceStatePixelShaderResource] = "ResourceStatePixelShaderResource"
	resourceStateMapping[ResourceStateShaderResource] = "ResourceStateShaderResource"
	resourceStateMapping[ResourceStateIndirectArgument] = "ResourceStateIndirectArgument"
	resourceStateMapping[ResourceStateCopyDest] = "ResourceStateCopyDest"
	resourceStateMapping[ResourceStateCopySource] = "ResourceStateCopySource"
	resourceStateMapping[ResourceStateResolveDest] = "ResourceStateResolveDest"
	resourceStateMapping[ResourceStateResolveSource] = "ResourceStateResolveSource"
	resourceStateMapping[ResourceStateGenericRead] = "ResourceStateGenericRead"
	resourceStateMapping[ResourceStatePresent] = "ResourceStatePresent"
	resourceStateMapping[ResourceStateInvalid] = "ResourceStateInvalid"

	barrierTypeMapping[BarrierTransition] = "BarrierTransition"
	barrierTypeMapping[BarrierAliasing] = "BarrierAliasing"
	barrierTypeMapping[BarrierUAV] = "BarrierUAV"

	barrierFlagsMapping[BarrierFlagNone] = "BarrierFlagNone"
	barrierFlagsMapping[BarrierFlagBeginOnly] = "BarrierFlagBeginOnly"
	barrierFlagsMapping[BarrierFlagEndOnly] = "BarrierFlagEndOnly"

	heapTypeMapping[HeapDefault] = "HeapDefault"
	heapTypeMapping[HeapUpload] = "HeapUpload"
	heapTypeMapping[HeapReadback] = "HeapReadback"

	dimensionMapping[DimensionBuffer] = "DimensionBuffer"
	dimensionMapping[DimensionTexture1D] = "DimensionTexture1D"
	dimensionMapping[DimensionTexture2D] = "DimensionTexture2D"
	dimensionMapping[DimensionTexture3D] = "DimensionTexture3D"
}
