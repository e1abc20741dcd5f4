package command

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/internal/utils"
	"github.com/vkngwrapper/forge/memutils"
)

type discardedAllocator struct {
	fenceValue uint64
	allocator  driver.CommandAllocator
}

// CommandAllocatorPool recycles the command allocators of one queue. A discarded allocator is tagged
// with the fence value of the submission that used it last and is only handed out again once that fence
// has completed.
type CommandAllocatorPool struct {
	logger   *slog.Logger
	listType driver.CommandListType
	device   driver.Device

	mutex            sync.Mutex
	allocators       []driver.CommandAllocator
	ready            utils.Queue[discardedAllocator]
	lastDiscardFence uint64
	reuseCount       int
}

func NewCommandAllocatorPool(logger *slog.Logger, listType driver.CommandListType) *CommandAllocatorPool {
	return &CommandAllocatorPool{
		logger:   logger,
		listType: listType,
	}
}

// Create binds the pool to a device. The pool starts empty.
func (p *CommandAllocatorPool) Create(device driver.Device) {
	p.device = device
}

func (p *CommandAllocatorPool) Type() driver.CommandListType {
	return p.listType
}

// RequestAllocator returns a reset allocator. The oldest discarded allocator is reused when its fence is
// at or below completedFenceValue, otherwise a new allocator is created. It never waits on the GPU.
func (p *CommandAllocatorPool) RequestAllocator(completedFenceValue uint64) (driver.CommandAllocator, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.device == nil {
		panic("called CommandAllocatorPool::RequestAllocator before Create")
	}

	front, ok := p.ready.Front()
	if ok && front.fenceValue <= completedFenceValue {
		p.ready.Pop()

		err := front.allocator.Reset()
		if err != nil {
			return nil, errors.Wrapf(err, "resetting %s command allocator retired at fence %#x", p.listType, front.fenceValue)
		}

		p.reuseCount++
		return front.allocator, nil
	}

	allocator, err := p.device.CreateCommandAllocator(p.listType)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s command allocator", p.listType)
	}
	p.allocators = append(p.allocators, allocator)

	p.logger.Debug("CommandAllocatorPool::RequestAllocator created allocator",
		slog.String("Type", p.listType.String()),
		slog.Int("PoolSize", len(p.allocators)),
		slog.Uint64("CompletedFence", completedFenceValue),
	)
	return allocator, nil
}

// DiscardAllocator queues allocator for reuse once fenceValue completes. Allocators must be discarded in
// the order their fence values were signaled.
func (p *CommandAllocatorPool) DiscardAllocator(fenceValue uint64, allocator driver.CommandAllocator) {
	p.checkAllocator("DiscardAllocator", allocator)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.discardLocked(fenceValue, allocator)
}

// ReturnAllocator hands back an allocator that was requested but never submitted. It is queued behind
// the most recent discard so the ready queue stays in fence order.
func (p *CommandAllocatorPool) ReturnAllocator(allocator driver.CommandAllocator) {
	p.checkAllocator("ReturnAllocator", allocator)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.discardLocked(p.lastDiscardFence, allocator)
}

func (p *CommandAllocatorPool) checkAllocator(method string, allocator driver.CommandAllocator) {
	if allocator == nil {
		panic(errors.AssertionFailedf("called CommandAllocatorPool::%s with a nil allocator", method))
	}
	if allocator.Type() != p.listType {
		panic(errors.AssertionFailedf("called CommandAllocatorPool::%s with a %s allocator on the %s pool", method, allocator.Type(), p.listType))
	}
}

func (p *CommandAllocatorPool) discardLocked(fenceValue uint64, allocator driver.CommandAllocator) {
	p.ready.Push(discardedAllocator{fenceValue: fenceValue, allocator: allocator})

	memutils.DebugAssert(fenceValue >= p.lastDiscardFence, "allocator discarded at fence %#x after one discarded at %#x", fenceValue, p.lastDiscardFence)
	p.lastDiscardFence = max(p.lastDiscardFence, fenceValue)
}

// Size is the number of allocators the pool has created
func (p *CommandAllocatorPool) Size() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.allocators)
}

// ReadyCount is the number of discarded allocators awaiting reuse
func (p *CommandAllocatorPool) ReadyCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.ready.Len()
}

// ReadyFenceValues lists the fence value of every discarded allocator, oldest first
func (p *CommandAllocatorPool) ReadyFenceValues() []uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	values := make([]uint64, 0, p.ready.Len())
	p.ready.Each(func(item discardedAllocator) {
		values = append(values, item.fenceValue)
	})
	return values
}

func (p *CommandAllocatorPool) BuildStatsString(writer *jwriter.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Type").String(p.listType.String())
	obj.Name("Allocators").Int(len(p.allocators))
	obj.Name("Ready").Int(p.ready.Len())
	obj.Name("Reused").Int(p.reuseCount)
}

// Shutdown destroys every allocator the pool created. The GPU must be idle.
func (p *CommandAllocatorPool) Shutdown() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, allocator := range p.allocators {
		allocator.Destroy()
	}

	p.logger.Debug("CommandAllocatorPool::Shutdown",
		slog.String("Type", p.listType.String()),
		slog.Int("Destroyed", len(p.allocators)),
	)

	p.allocators = nil
	p.ready.Clear()
	p.lastDiscardFence = 0
}
