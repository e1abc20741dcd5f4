package driver

// Device creates every driver object. Methods may be called concurrently.
type Device interface {
	CreateCommandQueue(listType CommandListType) (Queue, error)
	// CreateFence creates a fence whose completed value starts at initialValue
	CreateFence(initialValue uint64) (Fence, error)
	CreateCommandAllocator(listType CommandListType) (CommandAllocator, error)
	// CreateCommandList creates a list in the recording state, backed by allocator
	CreateCommandList(listType CommandListType, allocator CommandAllocator) (CommandList, error)

	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	// DescriptorHandleIncrementSize is the stride in bytes between two slots of a heap of the given type
	DescriptorHandleIncrementSize(heapType DescriptorHeapType) uint32

	// CreateCommittedResource creates a resource with its own memory, in initialState. clearValue may be nil.
	CreateCommittedResource(desc ResourceDesc, initialState ResourceState, clearValue *ClearValue) (Resource, error)

	// The view creation methods write a descriptor for resource into dest. A nil desc derives the view
	// from the resource description.
	CreateRenderTargetView(resource Resource, desc *ViewDesc, dest CPUDescriptorHandle) error
	CreateDepthStencilView(resource Resource, desc *ViewDesc, dest CPUDescriptorHandle) error
	CreateShaderResourceView(resource Resource, desc *ViewDesc, dest CPUDescriptorHandle) error
	CreateUnorderedAccessView(resource Resource, desc *ViewDesc, dest CPUDescriptorHandle) error

	Destroy()
}

// Queue executes command lists in submission order
type Queue interface {
	Type() CommandListType
	// ExecuteCommandLists submits closed command lists
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once every previously submitted list has completed
	Signal(fence Fence, value uint64) error
	// Wait makes subsequently submitted work wait until fence reaches value
	Wait(fence Fence, value uint64) error
	Destroy()
}

// Fence is a GPU timeline: a 64-bit value that only increases as the GPU signals it
type Fence interface {
	CompletedValue() uint64
	// WaitForValue blocks the calling goroutine until the completed value is at least value. There is
	// no timeout.
	WaitForValue(value uint64) error
	Destroy()
}

// CommandAllocator owns the memory of the command lists recorded against it. Reset must only be called
// once the GPU has finished every list recorded from the allocator.
type CommandAllocator interface {
	Type() CommandListType
	Reset() error
	Destroy()
}

// CommandList records GPU commands. Implementations must not retain the slices passed to them.
type CommandList interface {
	Type() CommandListType
	SetName(name string)
	// Close ends recording
	Close() error
	// Reset puts a closed list back into the recording state, recording into allocator
	Reset(allocator CommandAllocator) error

	ResourceBarrier(barriers []Barrier)
	CopyBufferRegion(dest Resource, destOffset uint64, source Resource, sourceOffset uint64, size uint64)
	CopyResource(dest Resource, source Resource)

	// Native exposes the backend object so higher-level passes can record draws and dispatches
	Native() any
	Destroy()
}

// Resource is a committed buffer or texture
type Resource interface {
	Desc() ResourceDesc
	// GPUVirtualAddress is the address of a buffer, or 0 for textures
	GPUVirtualAddress() uint64
	// Map returns the CPU view of an upload or readback resource
	Map() ([]byte, error)
	Unmap()
	Destroy()
	Native() any
}

// SwapChain owns the presentable back buffers of a window or offscreen surface
type SwapChain interface {
	BufferCount() int
	// Buffer returns back buffer index. The swap chain keeps ownership of the returned resource.
	Buffer(index int) (Resource, error)
	CurrentBackBufferIndex() int
	Format() Format
	// Present queues the current back buffer for display after all work submitted to queue
	Present(queue Queue, syncInterval int) error
	// ResizeBuffers recreates the back buffers. Every reference to the previous buffers must be released.
	ResizeBuffers(width, height uint32) error
	Destroy()
}
