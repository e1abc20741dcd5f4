package driver

import "math"

// DescriptorHeapType is the kind of descriptor a heap holds
type DescriptorHeapType int32

const (
	DescriptorHeapCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapSampler
	DescriptorHeapRTV
	DescriptorHeapDSV

	DescriptorHeapTypeCount = 4
)

var descriptorHeapTypeMapping = make(map[DescriptorHeapType]string)

func (t DescriptorHeapType) String() string {
	return descriptorHeapTypeMapping[t]
}

// CanBeShaderVisible reports whether heaps of this type may be bound for shader access
func (t DescriptorHeapType) CanBeShaderVisible() bool {
	return t == DescriptorHeapCBVSRVUAV || t == DescriptorHeapSampler
}

// UnknownAddress is the value of a CPU or GPU descriptor handle that does not point anywhere
const UnknownAddress uint64 = math.MaxUint64

// CPUDescriptorHandle addresses one descriptor slot from the CPU side
type CPUDescriptorHandle struct {
	Ptr uint64
}

// IsNull reports whether the handle is unassigned
func (h CPUDescriptorHandle) IsNull() bool {
	return h.Ptr == UnknownAddress
}

// Offset returns the handle offsetBytes further into the heap
func (h CPUDescriptorHandle) Offset(offsetBytes int64) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: uint64(int64(h.Ptr) + offsetBytes)}
}

// NullCPUDescriptorHandle is an unassigned CPU handle
var NullCPUDescriptorHandle = CPUDescriptorHandle{Ptr: UnknownAddress}

// GPUDescriptorHandle addresses one descriptor slot of a shader-visible heap from the GPU side
type GPUDescriptorHandle struct {
	Ptr uint64
}

// IsNull reports whether the handle is unassigned
func (h GPUDescriptorHandle) IsNull() bool {
	return h.Ptr == UnknownAddress
}

// Offset returns the handle offsetBytes further into the heap
func (h GPUDescriptorHandle) Offset(offsetBytes int64) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: uint64(int64(h.Ptr) + offsetBytes)}
}

// NullGPUDescriptorHandle is an unassigned GPU handle
var NullGPUDescriptorHandle = GPUDescriptorHandle{Ptr: UnknownAddress}

// DescriptorHeapDesc describes a descriptor heap to create
type DescriptorHeapDesc struct {
	Label         string
	Type          DescriptorHeapType
	Count         uint32
	ShaderVisible bool
}

// DescriptorHeap is a contiguous array of descriptor slots
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	// CPUStart is the handle of slot zero
	CPUStart() CPUDescriptorHandle
	// GPUStart is the GPU handle of slot zero, or NullGPUDescriptorHandle for CPU-only heaps
	GPUStart() GPUDescriptorHandle
	Destroy()
}

// ViewDimension is the shape a view interprets its resource as
type ViewDimension int32

const (
	ViewDimensionBuffer ViewDimension = iota
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
	ViewDimensionTexture2DMS
	ViewDimensionTexture2DMSArray
	ViewDimensionTexture3D
)

var viewDimensionMapping = make(map[ViewDimension]string)

func (d ViewDimension) String() string {
	return viewDimensionMapping[d]
}

// ViewDesc describes a render target, depth stencil, shader resource or unordered access view
type ViewDesc struct {
	Format    Format
	Dimension ViewDimension

	// MostDetailedMip and MipLevels select the mip range of shader resource views. A MipLevels of 0
	// covers every remaining mip.
	MostDetailedMip uint32
	MipLevels       uint32
	// MipSlice selects the single mip written by render target, depth stencil and unordered access views
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
	// PlaneSlice selects the stencil plane (1) of a depth/stencil format
	PlaneSlice uint32

	ReadOnlyDepth   bool
	ReadOnlyStencil bool

	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
}

func init() {
	descriptorHeapTypeMapping[DescriptorHeapCBVSRVUAV] = "DescriptorHeapCBVSRVUAV"
	descriptorHeapTypeMapping[DescriptorHeapSampler] = "DescriptorHeapSampler"
	descriptorHeapTypeMapping[DescriptorHeapRTV] = "DescriptorHeapRTV"
	descriptorHeapTypeMapping[DescriptorHeapDSV] = "DescriptorHeapDSV"

	viewDimensionMapping[ViewDimensionBuffer] = "ViewDimensionBuffer"
	viewDimensionMapping[ViewDimensionTexture2D] = "ViewDimensionTexture2D"
	viewDimensionMapping[ViewDimensionTexture2DArray] = "ViewDimensionTexture2DArray"
	viewDimensionMapping[ViewDimensionTexture2DMS] = "ViewDimensionTexture2DMS"
	viewDimensionMapping[ViewDimensionTexture2DMSArray] = "ViewDimensionTexture2DMSArray"
	viewDimensionMapping[ViewDimensionTexture3D] = "ViewDimensionTexture3D"
}
