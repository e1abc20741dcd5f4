package linear

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/memutils"
)

// Allocator bump-allocates from pages of one PageManager. It belongs to a single CommandContext and is
// not safe for concurrent use.
type Allocator struct {
	manager *PageManager

	current    *Page
	offset     uint64
	retired    []*Page
	largePages []*Page
}

func NewAllocator(manager *PageManager) *Allocator {
	return &Allocator{manager: manager}
}

func (a *Allocator) Type() AllocatorType {
	return a.manager.allocatorType
}

// Allocate returns size bytes aligned to alignment. An alignment of 0 selects DefaultAlign.
func (a *Allocator) Allocate(size uint64, alignment uint64) (Allocation, error) {
	if alignment == 0 {
		alignment = DefaultAlign
	}
	err := memutils.CheckPow2(alignment, "linear allocation alignment")
	if err != nil {
		return Allocation{}, err
	}

	alignedSize := memutils.AlignUp(size, alignment)
	if alignedSize > a.manager.pageSize {
		return a.allocateLarge(alignedSize)
	}

	a.offset = memutils.AlignUp(a.offset, alignment)
	if a.current != nil && a.offset+alignedSize > a.current.size {
		a.retired = append(a.retired, a.current)
		a.current = nil
	}

	if a.current == nil {
		page, err := a.manager.RequestPage()
		if err != nil {
			return Allocation{}, err
		}
		a.current = page
		a.offset = 0
	}

	allocation := a.allocationOf(a.current, a.offset, size)
	a.offset += alignedSize
	return allocation, nil
}

func (a *Allocator) allocateLarge(size uint64) (Allocation, error) {
	page, err := a.manager.CreateNewPage(size)
	if err != nil {
		return Allocation{}, errors.Wrap(err, "allocating large linear page")
	}
	a.largePages = append(a.largePages, page)

	return a.allocationOf(page, 0, size), nil
}

func (a *Allocator) allocationOf(page *Page, offset uint64, size uint64) Allocation {
	allocation := Allocation{
		Resource:   page.resource,
		Offset:     offset,
		Size:       size,
		GPUAddress: page.gpuAddress + offset,
	}
	if page.data != nil {
		allocation.Data = page.data[offset : offset+size : offset+size]
	}
	return allocation
}

// CleanupUsedPages hands every page this allocator touched back to the manager, to be reused or freed
// once fenceValue completes
func (a *Allocator) CleanupUsedPages(fenceValue uint64) {
	if a.current != nil {
		a.retired = append(a.retired, a.current)
		a.current = nil
		a.offset = 0
	}

	if len(a.retired) > 0 {
		a.manager.DiscardPages(fenceValue, a.retired)
		a.retired = a.retired[:0]
	}

	a.manager.FreeLargePages(fenceValue, a.largePages)
	a.largePages = a.largePages[:0]
}
