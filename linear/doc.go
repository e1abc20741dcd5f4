// Package linear implements the per-context linear allocators behind CommandContext.ReserveUploadMemory.
//
// Memory is carved out of large pages with a bump pointer. A context retires the pages it filled at the
// fence value of its submission, and the PageManager hands a retired page out again only once that fence
// has completed. Requests larger than a page get a dedicated page that is destroyed, rather than
// recycled, when its fence completes.
package linear
