package graphics

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/linear"
)

// CommandContext records one command list. A context is checked out of the ContextManager by
// Device.Begin, recorded from a single goroutine, and handed back by Finish.
type CommandContext struct {
	logger   *slog.Logger
	device   *Device
	manager  *ContextManager
	listType driver.CommandListType

	list      driver.CommandList
	allocator driver.CommandAllocator
	barriers  barrierBatch
	label     string

	cpuLinear *linear.Allocator
	gpuLinear *linear.Allocator
}

func newCommandContext(device *Device, manager *ContextManager, listType driver.CommandListType) *CommandContext {
	return &CommandContext{
		logger:    device.logger,
		device:    device,
		manager:   manager,
		listType:  listType,
		cpuLinear: linear.NewAllocator(device.pageManagers[linear.CPUWritable]),
		gpuLinear: linear.NewAllocator(device.pageManagers[linear.GPUExclusive]),
	}
}

// Initialize creates the context's command list together with the allocator it first records into
func (c *CommandContext) Initialize() error {
	if c.list != nil {
		panic("called CommandContext::Initialize on a context that already has a command list")
	}

	list, allocator, err := c.device.queues.CreateNewCommandList(c.listType)
	if err != nil {
		return err
	}

	c.list = list
	c.allocator = allocator
	return nil
}

// Reset prepares a finished context for recording again with an allocator whose previous work has
// retired
func (c *CommandContext) Reset() error {
	if c.list == nil || c.allocator != nil {
		panic("called CommandContext::Reset on a context that is uninitialized or still recording")
	}

	queue := c.device.queues.Queue(c.listType)
	allocator, err := queue.RequestAllocator()
	if err != nil {
		return err
	}

	err = c.list.Reset(allocator)
	if err != nil {
		queue.ReturnAllocator(allocator)
		return errors.Wrapf(err, "resetting %s command list", c.listType)
	}

	c.allocator = allocator
	c.barriers.clear()
	return nil
}

func (c *CommandContext) Type() driver.CommandListType    { return c.listType }
func (c *CommandContext) CommandList() driver.CommandList { return c.list }
func (c *CommandContext) Label() string                   { return c.label }

// IsRecording reports whether the context is checked out and has not been finished
func (c *CommandContext) IsRecording() bool {
	return c.allocator != nil
}

func (c *CommandContext) SetLabel(label string) {
	c.label = label
	c.list.SetName(label)
}

func (c *CommandContext) assertRecording(method string) {
	if c.allocator == nil {
		panic(errors.AssertionFailedf("called CommandContext::%s on a context that is not recording", method))
	}
}

// Flush submits everything recorded so far and keeps recording into the same command list with a
// fresh allocator. With wait it blocks until the GPU has finished the submitted work.
func (c *CommandContext) Flush(wait bool) (uint64, error) {
	c.assertRecording("Flush")
	c.FlushResourceBarriers()

	queue := c.device.queues.Queue(c.listType)
	fenceValue, err := queue.ExecuteCommandList(c.list, c.allocator)
	if err != nil {
		return 0, err
	}
	c.allocator = nil

	if wait {
		err = queue.WaitForFence(fenceValue)
		if err != nil {
			return 0, err
		}
	}

	allocator, err := queue.RequestAllocator()
	if err != nil {
		return 0, err
	}
	err = c.list.Reset(allocator)
	if err != nil {
		queue.ReturnAllocator(allocator)
		return 0, errors.Wrapf(err, "resetting %s command list after flush", c.listType)
	}
	c.allocator = allocator

	return fenceValue, nil
}

// Finish submits the context, retires its allocator and upload memory at the returned fence value and
// returns the context to its manager. With wait it blocks until the GPU has finished the work. The
// context must not be used after Finish.
func (c *CommandContext) Finish(wait bool) (uint64, error) {
	c.assertRecording("Finish")
	c.FlushResourceBarriers()

	queue := c.device.queues.Queue(c.listType)
	fenceValue, err := queue.ExecuteCommandList(c.list, c.allocator)
	if err != nil {
		return 0, err
	}
	c.allocator = nil

	c.cpuLinear.CleanupUsedPages(fenceValue)
	c.gpuLinear.CleanupUsedPages(fenceValue)

	if wait {
		err = queue.WaitForFence(fenceValue)
	}

	c.logger.Debug("CommandContext::Finish",
		slog.String("Label", c.label),
		slog.String("Type", c.listType.String()),
		slog.Uint64("FenceValue", fenceValue),
	)

	c.manager.FreeContext(c)
	return fenceValue, err
}

func (c *CommandContext) pushBarrier(barrier driver.Barrier, flushImmediate bool) {
	full := c.barriers.push(barrier)
	if full || flushImmediate {
		c.FlushResourceBarriers()
	}
}

func (c *CommandContext) checkComputeState(resource *GpuResource, newState driver.ResourceState) {
	if c.listType != driver.CommandListCompute {
		return
	}

	if !resource.usageState.IsValidOnComputeQueue() || !newState.IsValidOnComputeQueue() {
		panic(errors.AssertionFailedf("called CommandContext::TransitionResource on a compute context from %s to %s",
			resource.usageState, newState))
	}
}

// TransitionResource moves resource into newState. Nothing is recorded when it is already there. A
// split transition begun by BeginResourceTransition is ended here.
func (c *CommandContext) TransitionResource(resource Resource, newState driver.ResourceState, flushImmediate bool) {
	c.assertRecording("TransitionResource")
	res := resource.gpuResource()
	c.checkComputeState(res, newState)

	if res.transitioningState != driver.ResourceStateInvalid && res.transitioningState != newState {
		c.endSplitTransition(res)
	}

	oldState := res.usageState
	if oldState != newState {
		barrier := driver.Transition(res.Native(), oldState, newState)
		if newState == res.transitioningState {
			barrier.Flags = driver.BarrierFlagEndOnly
			res.transitioningState = driver.ResourceStateInvalid
		}
		res.usageState = newState

		c.pushBarrier(barrier, flushImmediate)
		return
	}

	if flushImmediate {
		c.FlushResourceBarriers()
	}
}

func (c *CommandContext) endSplitTransition(res *GpuResource) {
	barrier := driver.Transition(res.Native(), res.usageState, res.transitioningState)
	barrier.Flags = driver.BarrierFlagEndOnly
	res.usageState = res.transitioningState
	res.transitioningState = driver.ResourceStateInvalid

	c.pushBarrier(barrier, false)
}

// BeginResourceTransition starts a split transition of resource into newState. The resource keeps its
// current state until the next TransitionResource into newState ends the split.
func (c *CommandContext) BeginResourceTransition(resource Resource, newState driver.ResourceState, flushImmediate bool) {
	c.assertRecording("BeginResourceTransition")
	res := resource.gpuResource()
	c.checkComputeState(res, newState)

	if res.transitioningState != driver.ResourceStateInvalid {
		c.endSplitTransition(res)
	}

	oldState := res.usageState
	if oldState != newState {
		barrier := driver.Transition(res.Native(), oldState, newState)
		barrier.Flags = driver.BarrierFlagBeginOnly
		res.transitioningState = newState

		c.pushBarrier(barrier, flushImmediate)
		return
	}

	if flushImmediate {
		c.FlushResourceBarriers()
	}
}

// InsertUAVBarrier orders unordered-access work on resource. A nil resource orders every UAV access.
func (c *CommandContext) InsertUAVBarrier(resource Resource, flushImmediate bool) {
	c.assertRecording("InsertUAVBarrier")

	barrier := driver.Barrier{Type: driver.BarrierUAV}
	if resource != nil {
		barrier.Resource = resource.gpuResource().Native()
	}

	c.pushBarrier(barrier, flushImmediate)
}

// InsertAliasBarrier switches usage of shared memory from before to after
func (c *CommandContext) InsertAliasBarrier(before Resource, after Resource, flushImmediate bool) {
	c.assertRecording("InsertAliasBarrier")

	c.pushBarrier(driver.Barrier{
		Type:          driver.BarrierAliasing,
		Resource:      before.gpuResource().Native(),
		ResourceAfter: after.gpuResource().Native(),
	}, flushImmediate)
}

// FlushResourceBarriers records every pending barrier into the command list
func (c *CommandContext) FlushResourceBarriers() {
	if c.barriers.len() == 0 {
		return
	}

	c.list.ResourceBarrier(c.barriers.pending())
	c.barriers.clear()
}

// PendingBarrierCount is the number of barriers waiting to be flushed
func (c *CommandContext) PendingBarrierCount() int {
	return c.barriers.len()
}

// ReserveUploadMemory returns CPU-writable memory that lives until this context's submission retires
func (c *CommandContext) ReserveUploadMemory(size uint64) (linear.Allocation, error) {
	c.assertRecording("ReserveUploadMemory")
	return c.cpuLinear.Allocate(size, linear.DefaultAlign)
}

// ReserveScratchMemory returns GPU-only memory that lives until this context's submission retires
func (c *CommandContext) ReserveScratchMemory(size uint64, alignment uint64) (linear.Allocation, error) {
	c.assertRecording("ReserveScratchMemory")
	return c.gpuLinear.Allocate(size, alignment)
}

// CopyBuffer copies the whole of src into dest
func (c *CommandContext) CopyBuffer(dest Resource, src Resource) {
	c.TransitionResource(dest, driver.ResourceStateCopyDest, false)
	c.TransitionResource(src, driver.ResourceStateCopySource, false)
	c.FlushResourceBarriers()

	c.list.CopyResource(dest.gpuResource().Native(), src.gpuResource().Native())
}

// CopyBufferRegion copies size bytes of src into dest. src must already be readable by a copy.
func (c *CommandContext) CopyBufferRegion(dest Resource, destOffset uint64, src Resource, srcOffset uint64, size uint64) {
	c.TransitionResource(dest, driver.ResourceStateCopyDest, false)
	c.FlushResourceBarriers()

	c.list.CopyBufferRegion(dest.gpuResource().Native(), destOffset, src.gpuResource().Native(), srcOffset, size)
}

// CopyFromUpload copies an allocation returned by ReserveUploadMemory into dest
func (c *CommandContext) CopyFromUpload(dest Resource, destOffset uint64, upload linear.Allocation) {
	c.TransitionResource(dest, driver.ResourceStateCopyDest, false)
	c.FlushResourceBarriers()

	c.list.CopyBufferRegion(dest.gpuResource().Native(), destOffset, upload.Resource, upload.Offset, upload.Size)
}
