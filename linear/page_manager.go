package linear

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/command"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

// FenceTracker reports whether the GPU has passed a fence value
type FenceTracker interface {
	IsFenceComplete(fenceValue uint64) bool
}

type retiredPage struct {
	fenceValue uint64
	page       *Page
}

// PageManager creates and recycles the pages of one AllocatorType. It is shared by every context of a
// device. Pages are retired per queue, so a page waiting on a slow copy or compute fence never holds
// back pages whose graphics fence has already passed.
type PageManager struct {
	logger        *slog.Logger
	allocatorType AllocatorType
	pageSize      uint64

	device driver.Device
	fences FenceTracker

	mutex        utils.OptionalMutex
	pages        []*Page
	available    utils.Queue[*Page]
	retired      [driver.CommandListTypeCount]utils.Queue[retiredPage]
	deletion     [driver.CommandListTypeCount]utils.Queue[retiredPage]
	largePages   int
	largeBytes   uint64
	pageRequests int
}

// NewPageManager creates a manager for pages of allocatorType. A pageSize of 0 selects the type's
// default page size.
func NewPageManager(logger *slog.Logger, allocatorType AllocatorType, pageSize uint64, useMutex bool) *PageManager {
	if pageSize == 0 {
		pageSize = allocatorType.DefaultPageSize()
	}
	memutils.DebugCheckPow2(pageSize, "linear page size")

	return &PageManager{
		logger:        logger,
		allocatorType: allocatorType,
		pageSize:      pageSize,
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
	}
}

// Create binds the manager to a device and the fence tracker that retires its pages
func (m *PageManager) Create(device driver.Device, fences FenceTracker) {
	m.device = device
	m.fences = fences
}

func (m *PageManager) Type() driver.HeapType {
	if m.allocatorType == CPUWritable {
		return driver.HeapUpload
	}
	return driver.HeapDefault
}

func (m *PageManager) AllocatorType() AllocatorType {
	return m.allocatorType
}

func (m *PageManager) PageSize() uint64 {
	return m.pageSize
}

// RequestPage returns a regular page whose previous contents have retired, creating one if none has
func (m *PageManager) RequestPage() (*Page, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.device == nil {
		panic("called PageManager::RequestPage before Create")
	}

	m.pageRequests++
	for queueType := range m.retired {
		retired := &m.retired[queueType]
		for {
			front, ok := retired.Front()
			if !ok || !m.fences.IsFenceComplete(front.fenceValue) {
				break
			}
			retired.Pop()
			m.available.Push(front.page)
		}
	}

	page, ok := m.available.Pop()
	if ok {
		return page, nil
	}

	page, err := m.createPage(m.pageSize)
	if err != nil {
		return nil, err
	}
	m.pages = append(m.pages, page)

	return page, nil
}

// CreateNewPage creates a dedicated page of at least size bytes for a request that does not fit a
// regular page
func (m *PageManager) CreateNewPage(size uint64) (*Page, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	page, err := m.createPage(memutils.AlignUp(size, m.pageSize))
	if err != nil {
		return nil, err
	}

	m.largePages++
	m.largeBytes += page.size
	return page, nil
}

func (m *PageManager) createPage(size uint64) (*Page, error) {
	desc := driver.ResourceDesc{
		Label:            "Linear Allocator Page",
		Dimension:        driver.DimensionBuffer,
		Heap:             m.Type(),
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleCount:      1,
	}
	state := driver.ResourceStateGenericRead
	if m.allocatorType == GPUExclusive {
		desc.Flags = driver.ResourceFlagAllowUnorderedAccess
		state = driver.ResourceStateUnorderedAccess
	}

	resource, err := m.device.CreateCommittedResource(desc, state, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s linear allocator page of %d bytes", m.allocatorType, size)
	}

	page := &Page{
		resource:   resource,
		gpuAddress: resource.GPUVirtualAddress(),
		size:       size,
	}

	if m.allocatorType == CPUWritable {
		page.data, err = resource.Map()
		if err != nil {
			resource.Destroy()
			return nil, errors.Wrapf(err, "mapping linear allocator page of %d bytes", size)
		}
	}

	m.logger.Debug("PageManager::createPage",
		slog.String("Type", m.allocatorType.String()),
		slog.Uint64("Size", size),
	)
	return page, nil
}

// DiscardPages makes regular pages available again once fenceValue completes
func (m *PageManager) DiscardPages(fenceValue uint64, pages []*Page) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	retired := &m.retired[command.FenceValueType(fenceValue)]
	for _, page := range pages {
		retired.Push(retiredPage{fenceValue: fenceValue, page: page})
	}
}

// FreeLargePages destroys dedicated pages once fenceValue completes
func (m *PageManager) FreeLargePages(fenceValue uint64, pages []*Page) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for queueType := range m.deletion {
		deletion := &m.deletion[queueType]
		for {
			doomed, ok := deletion.Front()
			if !ok || !m.fences.IsFenceComplete(doomed.fenceValue) {
				break
			}
			deletion.Pop()
			m.largePages--
			m.largeBytes -= doomed.page.size
			doomed.page.destroy()
		}
	}

	deletion := &m.deletion[command.FenceValueType(fenceValue)]
	for _, page := range pages {
		deletion.Push(retiredPage{fenceValue: fenceValue, page: page})
	}
}

// PageCount is the number of regular pages the manager has created
func (m *PageManager) PageCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.pages)
}

// LargePageCount is the number of dedicated pages not yet destroyed
func (m *PageManager) LargePageCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.largePages
}

func (m *PageManager) Statistics() memutils.Statistics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.statisticsLocked()
}

func (m *PageManager) retiredCountLocked() int {
	count := 0
	for queueType := range m.retired {
		count += m.retired[queueType].Len()
	}
	return count
}

func (m *PageManager) statisticsLocked() memutils.Statistics {
	inUse := len(m.pages) - m.available.Len() - m.retiredCountLocked()
	return memutils.Statistics{
		BlockCount:      len(m.pages) + m.largePages,
		BlockBytes:      int(uint64(len(m.pages))*m.pageSize + m.largeBytes),
		AllocationCount: inUse + m.largePages,
		AllocationBytes: int(uint64(inUse)*m.pageSize + m.largeBytes),
	}
}

func (m *PageManager) BuildStatsString(writer *jwriter.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Type").String(m.allocatorType.String())
	obj.Name("PageSize").Int(int(m.pageSize))
	obj.Name("Pages").Int(len(m.pages))
	obj.Name("Available").Int(m.available.Len())
	obj.Name("Retired").Int(m.retiredCountLocked())
	obj.Name("LargePages").Int(m.largePages)
	obj.Name("PageRequests").Int(m.pageRequests)

	stats := m.statisticsLocked()
	stats.WriteJson(&obj)
}

// Destroy destroys every page. The GPU must be idle.
func (m *PageManager) Destroy() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, page := range m.pages {
		page.destroy()
	}
	for queueType := range m.deletion {
		m.deletion[queueType].Each(func(doomed retiredPage) {
			doomed.page.destroy()
		})
		m.retired[queueType].Clear()
		m.deletion[queueType].Clear()
	}

	m.logger.Debug("PageManager::Destroy",
		slog.String("Type", m.allocatorType.String()),
		slog.Int("Pages", len(m.pages)),
		slog.Int("LargePages", m.largePages),
	)

	m.pages = nil
	m.available.Clear()
	m.largePages = 0
	m.largeBytes = 0
}
