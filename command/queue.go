package command

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
)

// fenceTypeShift places the command list type in the top byte of every fence value a queue signals, so
// a bare fence value identifies the queue that will complete it
const fenceTypeShift = 56

// FenceValueType is the type of the queue that issued fenceValue
func FenceValueType(fenceValue uint64) driver.CommandListType {
	return driver.CommandListType(fenceValue >> fenceTypeShift)
}

// CommandQueue is one hardware queue with its own fence. Fence values are issued at submission time and
// strictly increase.
type CommandQueue struct {
	logger   *slog.Logger
	listType driver.CommandListType

	queue         driver.Queue
	fence         driver.Fence
	allocatorPool *CommandAllocatorPool

	fenceMutex     sync.Mutex
	nextFenceValue uint64
	submissions    int

	lastCompletedFenceValue atomic.Uint64
}

func NewCommandQueue(logger *slog.Logger, listType driver.CommandListType) *CommandQueue {
	queue := &CommandQueue{
		logger:         logger,
		listType:       listType,
		allocatorPool:  NewCommandAllocatorPool(logger, listType),
		nextFenceValue: uint64(listType)<<fenceTypeShift | 1,
	}
	queue.lastCompletedFenceValue.Store(uint64(listType) << fenceTypeShift)
	return queue
}

// Create creates the driver queue and fence
func (q *CommandQueue) Create(device driver.Device) error {
	if q.IsReady() {
		panic(errors.AssertionFailedf("called CommandQueue::Create on a %s queue that already exists", q.listType))
	}

	queue, err := device.CreateCommandQueue(q.listType)
	if err != nil {
		return errors.Wrapf(err, "creating %s queue", q.listType)
	}

	fence, err := device.CreateFence(q.lastCompletedFenceValue.Load())
	if err != nil {
		queue.Destroy()
		return errors.Wrapf(err, "creating %s queue fence", q.listType)
	}

	q.queue = queue
	q.fence = fence
	q.allocatorPool.Create(device)

	q.logger.Debug("CommandQueue::Create", slog.String("Type", q.listType.String()))
	return nil
}

func (q *CommandQueue) IsReady() bool {
	return q.queue != nil
}

func (q *CommandQueue) Type() driver.CommandListType         { return q.listType }
func (q *CommandQueue) Native() driver.Queue                 { return q.queue }
func (q *CommandQueue) Fence() driver.Fence                  { return q.fence }
func (q *CommandQueue) AllocatorPool() *CommandAllocatorPool { return q.allocatorPool }

// NextFenceValue is the value the next submission will signal
func (q *CommandQueue) NextFenceValue() uint64 {
	q.fenceMutex.Lock()
	defer q.fenceMutex.Unlock()

	return q.nextFenceValue
}

// LastCompletedFenceValue is the highest completed value this queue has observed
func (q *CommandQueue) LastCompletedFenceValue() uint64 {
	return q.lastCompletedFenceValue.Load()
}

func (q *CommandQueue) observeCompleted(value uint64) {
	for {
		current := q.lastCompletedFenceValue.Load()
		if value <= current || q.lastCompletedFenceValue.CompareAndSwap(current, value) {
			return
		}
	}
}

func (q *CommandQueue) signalLocked() (uint64, error) {
	value := q.nextFenceValue
	err := q.queue.Signal(q.fence, value)
	if err != nil {
		return 0, errors.Wrapf(err, "signaling %s queue fence value %#x", q.listType, value)
	}

	q.nextFenceValue++
	return value, nil
}

// ExecuteCommandList closes list, submits it and returns the fence value that completes when the GPU
// has finished it. A non-nil allocator is discarded at that value before any other submission on this
// queue can be issued, which keeps the allocator pool in fence order when several goroutines submit.
// On failure the allocator is not discarded.
func (q *CommandQueue) ExecuteCommandList(list driver.CommandList, allocator driver.CommandAllocator) (uint64, error) {
	q.fenceMutex.Lock()
	defer q.fenceMutex.Unlock()

	err := list.Close()
	if err != nil {
		return 0, errors.Wrapf(err, "closing %s command list", q.listType)
	}

	err = q.queue.ExecuteCommandLists(list)
	if err != nil {
		return 0, errors.Wrapf(err, "executing %s command list", q.listType)
	}

	q.submissions++
	value, err := q.signalLocked()
	if err != nil {
		return 0, err
	}

	if allocator != nil {
		q.allocatorPool.DiscardAllocator(value, allocator)
	}
	return value, nil
}

// IncrementFence signals the next fence value without submitting work and returns it
func (q *CommandQueue) IncrementFence() (uint64, error) {
	q.fenceMutex.Lock()
	defer q.fenceMutex.Unlock()

	return q.signalLocked()
}

// IsFenceComplete reports whether the GPU has passed fenceValue without blocking
func (q *CommandQueue) IsFenceComplete(fenceValue uint64) bool {
	if fenceValue > q.lastCompletedFenceValue.Load() {
		q.observeCompleted(q.fence.CompletedValue())
	}

	return fenceValue <= q.lastCompletedFenceValue.Load()
}

// StallForFence makes this queue's later submissions wait on the GPU until producer reaches fenceValue
func (q *CommandQueue) StallForFence(producer *CommandQueue, fenceValue uint64) error {
	err := q.queue.Wait(producer.fence, fenceValue)
	if err != nil {
		return errors.Wrapf(err, "%s queue waiting on %s fence value %#x", q.listType, producer.listType, fenceValue)
	}
	return nil
}

// StallForProducer makes this queue wait for everything producer has submitted so far
func (q *CommandQueue) StallForProducer(producer *CommandQueue) error {
	return q.StallForFence(producer, producer.NextFenceValue()-1)
}

// WaitForFence blocks the calling goroutine until the GPU has passed fenceValue. There is no timeout.
func (q *CommandQueue) WaitForFence(fenceValue uint64) error {
	if q.IsFenceComplete(fenceValue) {
		return nil
	}

	q.logger.Debug("CommandQueue::WaitForFence",
		slog.String("Type", q.listType.String()),
		slog.Uint64("FenceValue", fenceValue),
	)

	err := q.fence.WaitForValue(fenceValue)
	if err != nil {
		return errors.Wrapf(err, "waiting for %s fence value %#x", q.listType, fenceValue)
	}

	q.observeCompleted(fenceValue)
	return nil
}

// WaitForIdle blocks until every submission made so far has completed
func (q *CommandQueue) WaitForIdle() error {
	value, err := q.IncrementFence()
	if err != nil {
		return err
	}
	return q.WaitForFence(value)
}

// RequestAllocator returns an allocator whose previous work has retired
func (q *CommandQueue) RequestAllocator() (driver.CommandAllocator, error) {
	completed := q.fence.CompletedValue()
	q.observeCompleted(completed)

	return q.allocatorPool.RequestAllocator(completed)
}

// DiscardAllocator returns allocator to the pool once fenceValue completes. Submissions should hand
// their allocator to ExecuteCommandList instead, so the discard cannot race another submission.
func (q *CommandQueue) DiscardAllocator(fenceValue uint64, allocator driver.CommandAllocator) {
	q.allocatorPool.DiscardAllocator(fenceValue, allocator)
}

// ReturnAllocator returns an allocator that was requested but never submitted
func (q *CommandQueue) ReturnAllocator(allocator driver.CommandAllocator) {
	q.allocatorPool.ReturnAllocator(allocator)
}

func (q *CommandQueue) BuildStatsString(writer *jwriter.Writer) {
	q.fenceMutex.Lock()
	nextFence := q.nextFenceValue
	submissions := q.submissions
	q.fenceMutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	mask := uint64(1)<<fenceTypeShift - 1
	obj.Name("Type").String(q.listType.String())
	obj.Name("Submissions").Int(submissions)
	obj.Name("NextFence").Int(int(nextFence & mask))
	obj.Name("LastCompletedFence").Int(int(q.lastCompletedFenceValue.Load() & mask))
	q.allocatorPool.BuildStatsString(obj.Name("AllocatorPool"))
}

// Shutdown destroys the allocators, fence and queue. The queue must be idle.
func (q *CommandQueue) Shutdown() {
	if !q.IsReady() {
		return
	}

	q.allocatorPool.Shutdown()
	q.fence.Destroy()
	q.queue.Destroy()
	q.fence = nil
	q.queue = nil

	q.logger.Debug("CommandQueue::Shutdown", slog.String("Type", q.listType.String()))
}
