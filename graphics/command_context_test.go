package graphics

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/command"
	"github.com/vkngwrapper/forge/descriptor"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/linear"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/sync/errgroup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func createDevice(t *testing.T, options noop.Options) (*noop.Device, *Device) {
	drv := noop.New(testLogger(), options)
	device, err := New(testLogger(), drv, CreateOptions{
		ShaderVisibleDescriptors: 64,
		ShaderVisibleSamplers:    16,
		CPUPageSize:              4096,
		GPUPageSize:              4096,
	})
	require.NoError(t, err)
	return drv, device
}

func createBuffer(t *testing.T, device *Device, name string, size uint32, data []byte) *GpuBuffer {
	buffer := &GpuBuffer{}
	require.NoError(t, buffer.Create(device, name, size/4, 4, data))
	return buffer
}

func noopList(context *CommandContext) *noop.CommandList {
	return context.CommandList().(*noop.CommandList)
}

func TestContextRoundTrip(t *testing.T) {
	_, device := createDevice(t, noop.Options{ManualFenceCompletion: true})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Round Trip", 256, nil)
	defer buffer.Destroy()

	context, err := device.Begin("First")
	require.NoError(t, err)
	require.True(t, context.IsRecording())
	require.Equal(t, 1, device.Contexts().CheckedOutCount())

	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, false)
	require.Equal(t, 1, context.PendingBarrierCount())

	fence, err := context.Finish(false)
	require.NoError(t, err)
	require.Equal(t, driver.CommandListDirect, command.FenceValueType(fence))
	require.False(t, context.IsRecording())
	require.Equal(t, 0, device.Contexts().CheckedOutCount())

	again, err := device.Begin("Second")
	require.NoError(t, err)
	require.Same(t, context, again)
	require.Equal(t, 0, again.PendingBarrierCount())
	require.Equal(t, "Second", noopList(again).Name())
	require.Equal(t, 1, device.Contexts().ContextCount(driver.CommandListDirect))

	// The first allocator is still in flight, so the recycled context records into a new one
	require.Equal(t, 2, device.Queues().GraphicsQueue().AllocatorPool().Size())

	second, err := again.Finish(false)
	require.NoError(t, err)
	require.Greater(t, second, fence)
}

func TestConcurrentContexts(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	first, err := device.Begin("First")
	require.NoError(t, err)
	second, err := device.Begin("Second")
	require.NoError(t, err)
	require.NotSame(t, first, second)

	compute, err := device.BeginCompute("Compute")
	require.NoError(t, err)
	require.Equal(t, driver.CommandListCompute, compute.Type())

	copyContext, err := device.BeginCopy("Copy")
	require.NoError(t, err)
	require.Equal(t, driver.CommandListCopy, copyContext.Type())

	for _, context := range []*CommandContext{first, second, compute, copyContext} {
		_, err = context.Finish(true)
		require.NoError(t, err)
	}

	require.Equal(t, 2, device.Contexts().ContextCount(driver.CommandListDirect))
	require.Equal(t, 1, device.Contexts().ContextCount(driver.CommandListCompute))
	require.Equal(t, 1, device.Contexts().ContextCount(driver.CommandListCopy))
}

func TestParallelFinishKeepsAllocatorsInFenceOrder(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	group := errgroup.Group{}
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			for round := 0; round < 250; round++ {
				context, err := device.Begin(fmt.Sprintf("Recorder %d", i))
				if err != nil {
					return err
				}
				_, err = context.Finish(false)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	require.Equal(t, 0, device.Contexts().CheckedOutCount())

	pool := device.Queues().GraphicsQueue().AllocatorPool()
	fences := pool.ReadyFenceValues()
	require.True(t, slices.IsSorted(fences), "ready allocators out of fence order: %#x", fences)
	// Every allocator is back in the pool
	require.Equal(t, pool.Size(), len(fences))
}

func TestTransitionIdempotence(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Idempotent", 256, nil)
	defer buffer.Destroy()

	context, err := device.Begin("Transitions")
	require.NoError(t, err)

	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, false)
	require.Equal(t, 1, context.PendingBarrierCount())
	require.Equal(t, driver.ResourceStateUnorderedAccess, buffer.UsageState())

	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, false)
	require.Equal(t, 1, context.PendingBarrierCount())

	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, true)
	require.Equal(t, 0, context.PendingBarrierCount())
	require.Len(t, noopList(context).Barriers(), 1)

	_, err = context.Finish(true)
	require.NoError(t, err)
	require.Equal(t, driver.ResourceStateUnorderedAccess, buffer.Native().(*noop.Resource).State())
}

func TestBarrierBatching(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	var buffers []*GpuBuffer
	for i := 0; i < barrierBatchCapacity+1; i++ {
		buffers = append(buffers, createBuffer(t, device, fmt.Sprintf("Batched %d", i), 64, nil))
	}

	context, err := device.Begin("Batching")
	require.NoError(t, err)
	list := noopList(context)

	for i, buffer := range buffers {
		context.TransitionResource(buffer, driver.ResourceStateCopyDest, false)

		if i < barrierBatchCapacity-1 {
			require.Equal(t, 0, list.BarrierCalls())
			require.Equal(t, i+1, context.PendingBarrierCount())
		}
	}
	require.Equal(t, 1, list.BarrierCalls())
	require.Equal(t, 1, context.PendingBarrierCount())

	_, err = context.Finish(true)
	require.NoError(t, err)
	require.Equal(t, 2, list.BarrierCalls())
	require.Len(t, list.Barriers(), barrierBatchCapacity+1)

	for _, buffer := range buffers {
		require.Equal(t, driver.ResourceStateCopyDest, buffer.Native().(*noop.Resource).State())
		buffer.Destroy()
	}
}

func TestComputeContextStates(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Compute", 64, nil)
	defer buffer.Destroy()

	context, err := device.BeginCompute("Compute States")
	require.NoError(t, err)

	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, false)
	context.TransitionResource(buffer, driver.ResourceStateNonPixelShaderResource, false)

	require.Panics(t, func() {
		context.TransitionResource(buffer, driver.ResourceStatePixelShaderResource, false)
	})
	require.Equal(t, driver.ResourceStateNonPixelShaderResource, buffer.UsageState())

	_, err = context.Finish(true)
	require.NoError(t, err)

	graphicsContext, err := device.Begin("Graphics States")
	require.NoError(t, err)
	graphicsContext.TransitionResource(buffer, driver.ResourceStatePixelShaderResource, false)
	_, err = graphicsContext.Finish(true)
	require.NoError(t, err)
}

func TestSplitTransition(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Split", 64, nil)
	defer buffer.Destroy()

	context, err := device.Begin("Split")
	require.NoError(t, err)

	context.BeginResourceTransition(buffer, driver.ResourceStateCopySource, false)
	require.Equal(t, driver.ResourceStateCommon, buffer.UsageState())
	require.Equal(t, driver.ResourceStateCopySource, buffer.TransitioningState())

	context.TransitionResource(buffer, driver.ResourceStateCopySource, false)
	require.Equal(t, driver.ResourceStateCopySource, buffer.UsageState())
	require.Equal(t, driver.ResourceStateInvalid, buffer.TransitioningState())

	// A split that is superseded by a different transition is ended first
	context.BeginResourceTransition(buffer, driver.ResourceStateCopyDest, false)
	context.TransitionResource(buffer, driver.ResourceStateUnorderedAccess, true)

	var flags []driver.BarrierFlags
	for _, barrier := range noopList(context).Barriers() {
		flags = append(flags, barrier.Flags)
	}
	require.Equal(t, []driver.BarrierFlags{
		driver.BarrierFlagBeginOnly,
		driver.BarrierFlagEndOnly,
		driver.BarrierFlagBeginOnly,
		driver.BarrierFlagEndOnly,
		driver.BarrierFlagNone,
	}, flags)

	_, err = context.Finish(true)
	require.NoError(t, err)
	require.Equal(t, driver.ResourceStateUnorderedAccess, buffer.Native().(*noop.Resource).State())
}

func TestUAVAndAliasBarriers(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	before := createBuffer(t, device, "Before", 64, nil)
	defer before.Destroy()
	after := createBuffer(t, device, "After", 64, nil)
	defer after.Destroy()

	context, err := device.Begin("Barriers")
	require.NoError(t, err)

	context.InsertUAVBarrier(before, false)
	context.InsertUAVBarrier(nil, false)
	context.InsertAliasBarrier(before, after, true)

	barriers := noopList(context).Barriers()
	require.Len(t, barriers, 3)
	require.Equal(t, driver.BarrierUAV, barriers[0].Type)
	require.Same(t, before.Native(), barriers[0].Resource)
	require.Nil(t, barriers[1].Resource)
	require.Equal(t, driver.BarrierAliasing, barriers[2].Type)
	require.Same(t, after.Native(), barriers[2].ResourceAfter)

	_, err = context.Finish(true)
	require.NoError(t, err)
}

func TestDoubleFinishPanics(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	context, err := device.Begin("Once")
	require.NoError(t, err)
	_, err = context.Finish(false)
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = context.Finish(false)
	})
	require.Panics(t, func() {
		context.TransitionResource(&GpuResource{}, driver.ResourceStateCopyDest, false)
	})
	require.Equal(t, 0, device.Contexts().CheckedOutCount())
}

func TestFlushKeepsRecording(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Flushed", 64, nil)
	defer buffer.Destroy()

	context, err := device.Begin("Flush")
	require.NoError(t, err)

	context.TransitionResource(buffer, driver.ResourceStateCopyDest, false)
	flushed, err := context.Flush(true)
	require.NoError(t, err)
	require.True(t, context.IsRecording())
	require.Equal(t, driver.ResourceStateCopyDest, buffer.Native().(*noop.Resource).State())

	context.TransitionResource(buffer, driver.ResourceStateGenericRead, false)
	finished, err := context.Finish(true)
	require.NoError(t, err)
	require.Greater(t, finished, flushed)
	require.Equal(t, driver.ResourceStateGenericRead, buffer.Native().(*noop.Resource).State())

	// The flush waited, so its allocator was reused for the rest of the recording
	require.Equal(t, 1, device.Queues().GraphicsQueue().AllocatorPool().Size())
}

func TestReserveUploadMemory(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Upload Target", 64, nil)
	defer buffer.Destroy()

	context, err := device.Begin("Upload")
	require.NoError(t, err)

	upload, err := context.ReserveUploadMemory(16)
	require.NoError(t, err)
	require.Len(t, upload.Data, 16)
	require.Zero(t, upload.Offset%linear.DefaultAlign)
	copy(upload.Data, "forge upload 123")

	context.CopyFromUpload(buffer, 32, upload)
	_, err = context.Finish(true)
	require.NoError(t, err)

	contents := buffer.Native().(*noop.Resource).Contents()
	require.Equal(t, []byte("forge upload 123"), contents[32:48])
}

func TestUploadPagesRetireWithContext(t *testing.T) {
	drv, device := createDevice(t, noop.Options{ManualFenceCompletion: true})
	defer device.Destroy()
	pages := device.PageManager(linear.CPUWritable)

	context, err := device.Begin("First Upload")
	require.NoError(t, err)
	_, err = context.ReserveUploadMemory(1024)
	require.NoError(t, err)
	_, err = context.Finish(false)
	require.NoError(t, err)

	context, err = device.Begin("Second Upload")
	require.NoError(t, err)
	_, err = context.ReserveUploadMemory(1024)
	require.NoError(t, err)
	require.Equal(t, 2, pages.PageCount())
	_, err = context.Finish(false)
	require.NoError(t, err)

	drv.CompleteFences()

	context, err = device.Begin("Third Upload")
	require.NoError(t, err)
	_, err = context.ReserveUploadMemory(1024)
	require.NoError(t, err)
	require.Equal(t, 2, pages.PageCount())
	_, err = context.Finish(true)
	require.NoError(t, err)
}

func TestInitializeBuffer(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	data := []byte("0123456789abcdef")
	buffer := createBuffer(t, device, "Initialized", 16, data)
	defer buffer.Destroy()

	require.Equal(t, data, buffer.Native().(*noop.Resource).Contents())
	require.Equal(t, driver.ResourceStateGenericRead, buffer.UsageState())
	require.Equal(t, uint32(4), buffer.ElementCount())

	require.Panics(t, func() {
		_ = (&GpuBuffer{}).Create(device, "Too Small", 1, 4, data)
	})
}

func TestDeviceStats(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	context, err := device.Begin("Stats")
	require.NoError(t, err)
	_, err = context.ReserveUploadMemory(64)
	require.NoError(t, err)
	_, err = context.Finish(true)
	require.NoError(t, err)

	var stats struct {
		Queues map[string]struct {
			Submissions int
		}
		Contexts struct {
			CheckedOut int
		}
		ShaderVisibleHeaps struct {
			Textures struct {
				Capacity int
			}
		}
		DescriptorAllocators map[string]json.RawMessage
		LinearPages          map[string]struct {
			Pages int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(device.BuildStatsString(true)), &stats))
	require.Equal(t, 1, stats.Queues[driver.CommandListDirect.String()].Submissions)
	require.Equal(t, 0, stats.Contexts.CheckedOut)
	require.Equal(t, 64, stats.ShaderVisibleHeaps.Textures.Capacity)
	require.Len(t, stats.DescriptorAllocators, int(driver.DescriptorHeapTypeCount))
	require.Equal(t, 1, stats.LinearPages[linear.CPUWritable.String()].Pages)

	require.True(t, json.Valid([]byte(device.BuildStatsString(false))))
}

func TestDynamicDescriptorsRetireWithFence(t *testing.T) {
	drv, device := createDevice(t, noop.Options{ManualFenceCompletion: true})
	defer device.Destroy()

	require.Equal(t, uint32(48), device.TextureHeap().FreeCount())

	handles := make([]descriptor.DescriptorHandle, 0, 16)
	for range 16 {
		handle, err := device.AllocateDynamicDescriptor()
		require.NoError(t, err)
		require.True(t, handle.IsShaderVisible())
		require.True(t, device.TextureHeap().ValidateHandle(handle))
		handles = append(handles, handle)
	}

	_, err := device.AllocateDynamicDescriptor()
	require.True(t, errors.Is(err, memutils.ExhaustedError))

	context, err := device.Begin("Dynamic")
	require.NoError(t, err)
	fence, err := context.Finish(false)
	require.NoError(t, err)

	device.ReleaseDynamicDescriptor(handles[3], fence)
	_, err = device.AllocateDynamicDescriptor()
	require.True(t, errors.Is(err, memutils.ExhaustedError))

	drv.CompleteFences()
	reused, err := device.AllocateDynamicDescriptor()
	require.NoError(t, err)
	require.Equal(t, handles[3], reused)

	var stats struct {
		ShaderVisibleHeaps struct {
			Dynamic struct {
				Capacity          int
				InUse             int
				PendingRetirement int
			}
		}
	}
	require.NoError(t, json.Unmarshal([]byte(device.BuildStatsString(false)), &stats))
	require.Equal(t, 16, stats.ShaderVisibleHeaps.Dynamic.Capacity)
	require.Equal(t, 16, stats.ShaderVisibleHeaps.Dynamic.InUse)
	require.Equal(t, 0, stats.ShaderVisibleHeaps.Dynamic.PendingRetirement)
}

func TestDestroyAllContextsForgetsCheckedOut(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	_, err := device.Begin("Abandoned")
	require.NoError(t, err)
	require.Equal(t, 1, device.Contexts().CheckedOutCount())

	require.NoError(t, device.IdleGPU())
	device.Contexts().DestroyAllContexts()
	require.Equal(t, 0, device.Contexts().CheckedOutCount())

	context, err := device.Begin("Fresh")
	require.NoError(t, err)
	require.Equal(t, 1, device.Contexts().CheckedOutCount())
	_, err = context.Finish(true)
	require.NoError(t, err)
	require.Equal(t, 0, device.Contexts().CheckedOutCount())
}

func TestDeviceDestroyReleasesEverything(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})

	buffer := createBuffer(t, device, "Released", 64, []byte{1, 2, 3, 4})
	context, err := device.BeginCopy("Copy")
	require.NoError(t, err)
	_, err = context.Finish(false)
	require.NoError(t, err)

	buffer.Destroy()
	device.Destroy()
	require.Equal(t, int64(0), drv.LiveObjects())
}
