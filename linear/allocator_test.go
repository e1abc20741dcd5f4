package linear

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/command"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/mocks"
	"github.com/vkngwrapper/forge/memutils"
	"go.uber.org/mock/gomock"
)

type fakeFences struct {
	completed uint64
}

func (f *fakeFences) IsFenceComplete(fenceValue uint64) bool {
	return fenceValue <= f.completed
}

// queueFences tracks a completed value per queue, the way the queue manager routes fence values
type queueFences struct {
	completed [driver.CommandListTypeCount]uint64
}

func (f *queueFences) IsFenceComplete(fenceValue uint64) bool {
	listType := command.FenceValueType(fenceValue)
	return fenceValue <= f.completed[listType]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func createManager(device driver.Device, allocatorType AllocatorType, pageSize uint64) (*PageManager, *fakeFences) {
	fences := &fakeFences{}
	manager := NewPageManager(testLogger(), allocatorType, pageSize, true)
	manager.Create(device, fences)
	return manager, fences
}

func TestCPUWritableAllocations(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	manager, _ := createManager(device, CPUWritable, 1024)
	allocator := NewAllocator(manager)

	first, err := allocator.Allocate(100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.Offset)
	require.Len(t, first.Data, 100)
	copy(first.Data, []byte("upload"))

	second, err := allocator.Allocate(16, 64)
	require.NoError(t, err)
	require.Same(t, first.Resource, second.Resource)
	require.Equal(t, uint64(256), second.Offset)
	require.Equal(t, first.GPUAddress+256, second.GPUAddress)

	contents := first.Resource.(*noop.Resource).Contents()
	require.Equal(t, []byte("upload"), contents[:6])

	// 256+64 used, a 768 byte request no longer fits
	third, err := allocator.Allocate(768, 0)
	require.NoError(t, err)
	require.NotSame(t, first.Resource, third.Resource)
	require.Equal(t, uint64(0), third.Offset)
	require.Equal(t, 2, manager.PageCount())
}

func TestPagesRetireAtFence(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	manager, fences := createManager(device, CPUWritable, 1024)
	allocator := NewAllocator(manager)

	first, err := allocator.Allocate(512, 0)
	require.NoError(t, err)
	allocator.CleanupUsedPages(7)

	inFlight, err := allocator.Allocate(512, 0)
	require.NoError(t, err)
	require.NotSame(t, first.Resource, inFlight.Resource)
	allocator.CleanupUsedPages(8)
	require.Equal(t, 2, manager.PageCount())

	fences.completed = 7
	reused, err := allocator.Allocate(512, 0)
	require.NoError(t, err)
	require.Same(t, first.Resource, reused.Resource)
	require.Equal(t, 2, manager.PageCount())

	stats := manager.Statistics()
	require.Equal(t, 2, stats.BlockCount)
	require.Equal(t, 1, stats.AllocationCount)
}

func TestPagesRetirePerQueue(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	fences := &queueFences{}
	for listType := range fences.completed {
		fences.completed[listType] = uint64(listType) << 56
	}
	manager := NewPageManager(testLogger(), CPUWritable, 1024, true)
	manager.Create(device, fences)

	copyFence := uint64(driver.CommandListCopy)<<56 | 1
	directFence := uint64(driver.CommandListDirect)<<56 | 1

	copyAllocator := NewAllocator(manager)
	slow, err := copyAllocator.Allocate(512, 0)
	require.NoError(t, err)
	copyAllocator.CleanupUsedPages(copyFence)

	directAllocator := NewAllocator(manager)
	fast, err := directAllocator.Allocate(512, 0)
	require.NoError(t, err)
	directAllocator.CleanupUsedPages(directFence)
	require.Equal(t, 2, manager.PageCount())

	// The graphics page is reusable although the copy page queued before it is still in flight
	fences.completed[driver.CommandListDirect] = directFence
	reused, err := directAllocator.Allocate(512, 0)
	require.NoError(t, err)
	require.Same(t, fast.Resource, reused.Resource)
	require.NotSame(t, slow.Resource, reused.Resource)
	require.Equal(t, 2, manager.PageCount())

	stats := manager.Statistics()
	require.Equal(t, 1, stats.AllocationCount)
}

func TestLargePages(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	manager, fences := createManager(device, CPUWritable, 1024)
	allocator := NewAllocator(manager)

	large, err := allocator.Allocate(3000, 0)
	require.NoError(t, err)
	require.Len(t, large.Data, 3000)
	require.Equal(t, uint64(3072), large.Resource.Desc().Width)
	require.Equal(t, 0, manager.PageCount())
	require.Equal(t, 1, manager.LargePageCount())

	allocator.CleanupUsedPages(3)
	require.Equal(t, 1, manager.LargePageCount())

	fences.completed = 3
	allocator.CleanupUsedPages(4)
	require.Equal(t, 0, manager.LargePageCount())
	require.Equal(t, int64(0), device.LiveObjects())
}

func TestGPUExclusivePages(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	manager, _ := createManager(device, GPUExclusive, 0)
	require.Equal(t, GPUPageSize, manager.PageSize())
	require.Equal(t, driver.HeapDefault, manager.Type())

	allocator := NewAllocator(manager)
	allocation, err := allocator.Allocate(128, 0)
	require.NoError(t, err)
	require.Nil(t, allocation.Data)
	require.Equal(t, driver.ResourceStateUnorderedAccess, allocation.Resource.(*noop.Resource).State())

	_, err = allocator.Allocate(16, 48)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	allocator.CleanupUsedPages(1)
	manager.Destroy()
	require.Equal(t, int64(0), device.LiveObjects())
}

func TestPageCreationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().CreateCommittedResource(gomock.Any(), driver.ResourceStateGenericRead, gomock.Nil()).
		Return(nil, driver.ErrOutOfDeviceMemory)

	manager, _ := createManager(device, CPUWritable, 0)
	allocator := NewAllocator(manager)

	_, err := allocator.Allocate(64, 0)
	require.True(t, errors.Is(err, driver.ErrOutOfDeviceMemory))
	require.Equal(t, 0, manager.PageCount())
}

func TestPageManagerStats(t *testing.T) {
	device := noop.New(testLogger(), noop.Options{})
	manager, _ := createManager(device, CPUWritable, 1024)
	allocator := NewAllocator(manager)

	_, err := allocator.Allocate(100, 0)
	require.NoError(t, err)
	_, err = allocator.Allocate(2000, 0)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	manager.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	var stats struct {
		Type       string
		Pages      int
		LargePages int
		BlockBytes int
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &stats))
	require.Equal(t, "CPUWritable", stats.Type)
	require.Equal(t, 1, stats.Pages)
	require.Equal(t, 1, stats.LargePages)
	require.Equal(t, 1024+2048, stats.BlockBytes)
}
