package linear

import (
	"github.com/vkngwrapper/forge/driver"
)

// AllocatorType selects the heap a PageManager creates its pages in
type AllocatorType int

const (
	// GPUExclusive pages live in the default heap and are writable from shaders
	GPUExclusive AllocatorType = iota
	// CPUWritable pages live in the upload heap and stay mapped for their lifetime
	CPUWritable

	AllocatorTypeCount = 2
)

const (
	GPUPageSize  uint64 = 0x10000
	CPUPageSize  uint64 = 0x200000
	DefaultAlign uint64 = 256
)

var allocatorTypeMapping = map[AllocatorType]string{
	GPUExclusive: "GPUExclusive",
	CPUWritable:  "CPUWritable",
}

func (t AllocatorType) String() string {
	return allocatorTypeMapping[t]
}

// DefaultPageSize is the size of a regular page for the allocator type
func (t AllocatorType) DefaultPageSize() uint64 {
	if t == CPUWritable {
		return CPUPageSize
	}
	return GPUPageSize
}

// Page is one buffer that linear allocations are suballocated from
type Page struct {
	resource   driver.Resource
	data       []byte
	gpuAddress uint64
	size       uint64
}

func (p *Page) Resource() driver.Resource { return p.resource }
func (p *Page) Size() uint64              { return p.size }

// Data is the persistently mapped contents of a CPUWritable page and nil for a GPUExclusive one
func (p *Page) Data() []byte { return p.data }

func (p *Page) destroy() {
	if p.data != nil {
		p.resource.Unmap()
		p.data = nil
	}
	p.resource.Destroy()
	p.resource = nil
}

// Allocation is a region of a page. Data aliases the page's mapped memory and is only valid until the
// allocating context's submission retires.
type Allocation struct {
	Resource   driver.Resource
	Offset     uint64
	Size       uint64
	Data       []byte
	GPUAddress uint64
}
