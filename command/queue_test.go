package command

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"
)

func createManager(t *testing.T, options noop.Options) (*noop.Device, *QueueManager) {
	device := noop.New(testLogger(), options)
	manager := NewQueueManager(testLogger())
	require.NoError(t, manager.Create(device))
	return device, manager
}

func submitEmpty(t *testing.T, manager *QueueManager, listType driver.CommandListType) (uint64, driver.CommandAllocator) {
	list, allocator, err := manager.CreateNewCommandList(listType)
	require.NoError(t, err)

	queue := manager.Queue(listType)
	fence, err := queue.ExecuteCommandList(list, allocator)
	require.NoError(t, err)
	list.Destroy()

	return fence, allocator
}

func TestFenceValuesAreTagged(t *testing.T) {
	_, manager := createManager(t, noop.Options{})

	for listType := driver.CommandListType(0); listType < driver.CommandListTypeCount; listType++ {
		queue := manager.Queue(listType)
		require.Equal(t, uint64(listType)<<56|1, queue.NextFenceValue())
		require.Equal(t, uint64(listType)<<56, queue.LastCompletedFenceValue())

		fence, _ := submitEmpty(t, manager, listType)
		require.Equal(t, listType, FenceValueType(fence))
		require.Same(t, queue, manager.QueueForFence(fence))
	}

	require.Panics(t, func() {
		manager.Queue(driver.CommandListTypeCount)
	})
}

func TestFenceOrdering(t *testing.T) {
	_, manager := createManager(t, noop.Options{ManualFenceCompletion: true})
	queue := manager.ComputeQueue()

	var previous uint64
	for i := 0; i < 20; i++ {
		var fence uint64
		if i%3 == 0 {
			var err error
			fence, err = queue.IncrementFence()
			require.NoError(t, err)
		} else {
			fence, _ = submitEmpty(t, manager, driver.CommandListCompute)
		}

		require.Greater(t, fence, previous)
		require.False(t, manager.IsFenceComplete(fence))
		previous = fence
	}

	require.NoError(t, manager.WaitForFence(previous))
	require.True(t, manager.IsFenceComplete(previous))
	require.Equal(t, previous, queue.LastCompletedFenceValue())
}

func TestAllocatorReuseFollowsFence(t *testing.T) {
	device, manager := createManager(t, noop.Options{ManualFenceCompletion: true})
	queue := manager.GraphicsQueue()

	_, first := submitEmpty(t, manager, driver.CommandListDirect)
	require.Equal(t, 1, queue.AllocatorPool().Size())

	// The first submission is still executing, so its allocator cannot be handed out
	_, second := submitEmpty(t, manager, driver.CommandListDirect)
	require.NotSame(t, first, second)
	require.Equal(t, 2, queue.AllocatorPool().Size())

	device.CompleteFences()

	list, reused, err := manager.CreateNewCommandList(driver.CommandListDirect)
	require.NoError(t, err)
	require.Same(t, first, reused)
	require.Equal(t, 2, queue.AllocatorPool().Size())
	require.Equal(t, 1, reused.(*noop.CommandAllocator).Resets())

	_, err = queue.ExecuteCommandList(list, reused)
	require.NoError(t, err)
	list.Destroy()
}

func TestIdleGPU(t *testing.T) {
	_, manager := createManager(t, noop.Options{ManualFenceCompletion: true})

	var fences []uint64
	for listType := driver.CommandListType(0); listType < driver.CommandListTypeCount; listType++ {
		fence, _ := submitEmpty(t, manager, listType)
		fences = append(fences, fence)
	}

	require.NoError(t, manager.IdleGPU())
	for _, fence := range fences {
		require.True(t, manager.IsFenceComplete(fence))
	}

	manager.Shutdown()
}

func TestStallForFence(t *testing.T) {
	_, manager := createManager(t, noop.Options{ManualFenceCompletion: true})

	copyFence, _ := submitEmpty(t, manager, driver.CommandListCopy)
	require.NoError(t, manager.StallForFence(driver.CommandListDirect, copyFence))
	require.NoError(t, manager.StallForFence(driver.CommandListCopy, copyFence))

	err := manager.StallForFence(driver.CommandListCompute, copyFence+1)
	require.True(t, errors.Is(err, driver.ErrDeviceLost))

	require.NoError(t, manager.GraphicsQueue().StallForProducer(manager.CopyQueue()))
}

func TestWaitForUnsignaledFence(t *testing.T) {
	_, manager := createManager(t, noop.Options{ManualFenceCompletion: true})

	queue := manager.CopyQueue()
	err := queue.WaitForFence(queue.NextFenceValue())
	require.True(t, errors.Is(err, driver.ErrDeviceLost))
}

func TestQueueManagerStats(t *testing.T) {
	_, manager := createManager(t, noop.Options{})
	submitEmpty(t, manager, driver.CommandListDirect)
	submitEmpty(t, manager, driver.CommandListDirect)

	writer := jwriter.NewWriter()
	manager.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	var stats map[string]struct {
		Type               string
		Submissions        int
		NextFence          int
		LastCompletedFence int
		AllocatorPool      struct {
			Allocators int
			Ready      int
			Reused     int
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &stats))
	require.Len(t, stats, int(driver.CommandListTypeCount))

	direct := stats[driver.CommandListDirect.String()]
	require.Equal(t, 2, direct.Submissions)
	require.Equal(t, 3, direct.NextFence)
	// Completion is only observed when an allocator is requested or a fence is queried
	require.Equal(t, 1, direct.LastCompletedFence)
	require.Equal(t, 1, direct.AllocatorPool.Allocators)
	require.Equal(t, 1, direct.AllocatorPool.Reused)
	require.Equal(t, 1, direct.AllocatorPool.Ready)
}

func TestQueueManagerCreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	queue := mocks.NewMockQueue(ctrl)
	fence := mocks.NewMockFence(ctrl)

	device.EXPECT().CreateCommandQueue(driver.CommandListDirect).Return(queue, nil)
	device.EXPECT().CreateFence(uint64(0)).Return(fence, nil)
	device.EXPECT().CreateCommandQueue(driver.CommandListCompute).Return(nil, driver.ErrUnsupported)
	fence.EXPECT().Destroy()
	queue.EXPECT().Destroy()

	manager := NewQueueManager(testLogger())
	err := manager.Create(device)
	require.True(t, errors.Is(err, driver.ErrUnsupported))
	require.False(t, manager.GraphicsQueue().IsReady())
}

func TestExecuteFailureDoesNotAdvanceFence(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	queue := mocks.NewMockQueue(ctrl)
	fence := mocks.NewMockFence(ctrl)
	list := mocks.NewMockCommandList(ctrl)

	device.EXPECT().CreateCommandQueue(driver.CommandListCopy).Return(queue, nil)
	device.EXPECT().CreateFence(uint64(driver.CommandListCopy)<<56).Return(fence, nil)
	list.EXPECT().Close().Return(nil)
	queue.EXPECT().ExecuteCommandLists(list).Return(driver.ErrDeviceLost)

	commandQueue := NewCommandQueue(testLogger(), driver.CommandListCopy)
	require.NoError(t, commandQueue.Create(device))

	next := commandQueue.NextFenceValue()
	_, err := commandQueue.ExecuteCommandList(list, nil)
	require.True(t, errors.Is(err, driver.ErrDeviceLost))
	require.Equal(t, next, commandQueue.NextFenceValue())
}

func TestConcurrentSubmissionsDiscardInFenceOrder(t *testing.T) {
	_, manager := createManager(t, noop.Options{})
	queue := manager.GraphicsQueue()

	group := errgroup.Group{}
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			for round := 0; round < 200; round++ {
				list, allocator, err := manager.CreateNewCommandList(driver.CommandListDirect)
				if err != nil {
					return err
				}
				_, err = queue.ExecuteCommandList(list, allocator)
				list.Destroy()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	fences := queue.AllocatorPool().ReadyFenceValues()
	require.True(t, slices.IsSorted(fences), "ready allocators out of fence order: %#x", fences)
	require.Equal(t, queue.AllocatorPool().Size(), len(fences))
}

func TestCreateCommandListFailureReturnsAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	queue := mocks.NewMockQueue(ctrl)
	fence := mocks.NewMockFence(ctrl)
	submitted := mocks.NewMockCommandAllocator(ctrl)
	fresh := mocks.NewMockCommandAllocator(ctrl)

	completed := uint64(driver.CommandListCopy) << 56
	device.EXPECT().CreateCommandQueue(gomock.Any()).Return(queue, nil).AnyTimes()
	device.EXPECT().CreateFence(gomock.Any()).Return(fence, nil).AnyTimes()
	fence.EXPECT().CompletedValue().Return(completed).AnyTimes()
	submitted.EXPECT().Type().Return(driver.CommandListCopy).AnyTimes()
	fresh.EXPECT().Type().Return(driver.CommandListCopy).AnyTimes()
	device.EXPECT().CreateCommandAllocator(driver.CommandListCopy).Return(fresh, nil)
	device.EXPECT().CreateCommandList(driver.CommandListCopy, fresh).Return(nil, driver.ErrOutOfDeviceMemory)

	manager := NewQueueManager(testLogger())
	require.NoError(t, manager.Create(device))

	pending := completed | 5
	manager.CopyQueue().DiscardAllocator(pending, submitted)

	_, _, err := manager.CreateNewCommandList(driver.CommandListCopy)
	require.True(t, errors.Is(err, driver.ErrOutOfDeviceMemory))
	require.Equal(t, []uint64{pending, pending}, manager.CopyQueue().AllocatorPool().ReadyFenceValues())
}
