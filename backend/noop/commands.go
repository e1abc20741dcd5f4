package noop

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

type inFlight struct {
	fence *Fence
	value uint64
}

// CommandAllocator is the noop driver.CommandAllocator. It remembers the fence value each of its
// submissions retires at and refuses to reset before they complete.
type CommandAllocator struct {
	device   *Device
	listType driver.CommandListType

	mutex      sync.Mutex
	pending    []inFlight
	unsignaled int
	resets     int
}

var _ driver.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) Type() driver.CommandListType {
	return a.listType
}

// Resets is the number of successful Reset calls
func (a *CommandAllocator) Resets() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.resets
}

func (a *CommandAllocator) submitted() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.unsignaled++
}

func (a *CommandAllocator) retireAt(fence *Fence, value uint64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.unsignaled--
	a.pending = append(a.pending, inFlight{fence: fence, value: value})
}

func (a *CommandAllocator) Reset() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.unsignaled > 0 {
		return errors.AssertionFailedf("command allocator reset with %d submissions that no fence will retire", a.unsignaled)
	}

	for _, submission := range a.pending {
		completed := submission.fence.CompletedValue()
		if completed < submission.value {
			return errors.AssertionFailedf("command allocator reset while its command lists are executing: fence is at %d, work retires at %d", completed, submission.value)
		}
	}

	a.pending = a.pending[:0]
	a.resets++
	return nil
}

func (a *CommandAllocator) Destroy() {
	a.device.destroyed()
}

// CommandKind is the type of a recorded command
type CommandKind int

const (
	CommandBarrier CommandKind = iota
	CommandCopyBufferRegion
	CommandCopyResource
)

// Command is one recorded command
type Command struct {
	Kind     CommandKind
	Barriers []driver.Barrier

	Dest         *Resource
	DestOffset   uint64
	Source       *Resource
	SourceOffset uint64
	Size         uint64
}

// CommandList is the noop driver.CommandList
type CommandList struct {
	device    *Device
	listType  driver.CommandListType
	allocator *CommandAllocator

	name     string
	closed   bool
	commands []Command
}

var _ driver.CommandList = &CommandList{}

func (l *CommandList) Type() driver.CommandListType {
	return l.listType
}

func (l *CommandList) SetName(name string) {
	l.name = name
}

// Name is the last name set on the list
func (l *CommandList) Name() string {
	return l.name
}

// IsClosed reports whether recording has ended
func (l *CommandList) IsClosed() bool {
	return l.closed
}

// Allocator is the allocator the list is currently recording into
func (l *CommandList) Allocator() *CommandAllocator {
	return l.allocator
}

// Commands returns the commands recorded since the last Reset
func (l *CommandList) Commands() []Command {
	return l.commands
}

// BarrierCalls is the number of ResourceBarrier calls recorded since the last Reset
func (l *CommandList) BarrierCalls() int {
	count := 0
	for _, command := range l.commands {
		if command.Kind == CommandBarrier {
			count++
		}
	}
	return count
}

// Barriers returns every barrier recorded since the last Reset, in order
func (l *CommandList) Barriers() []driver.Barrier {
	var barriers []driver.Barrier
	for _, command := range l.commands {
		if command.Kind == CommandBarrier {
			barriers = append(barriers, command.Barriers...)
		}
	}
	return barriers
}

func (l *CommandList) Close() error {
	if l.closed {
		return errors.Newf("command list %q closed twice", l.name)
	}
	l.closed = true
	return nil
}

func (l *CommandList) Reset(allocator driver.CommandAllocator) error {
	if !l.closed {
		return errors.Newf("command list %q reset while still recording", l.name)
	}
	alloc, ok := allocator.(*CommandAllocator)
	if !ok {
		return errors.Newf("noop command list cannot record into allocator of type %T", allocator)
	}
	if alloc.listType != l.listType {
		return errors.Newf("cannot reset a %s command list against a %s allocator", l.listType, alloc.listType)
	}

	l.allocator = alloc
	l.commands = l.commands[:0]
	l.closed = false
	return nil
}

func (l *CommandList) record(command Command) {
	if l.closed {
		panic("noop command list: recorded into a closed command list")
	}
	l.commands = append(l.commands, command)
}

func (l *CommandList) ResourceBarrier(barriers []driver.Barrier) {
	if len(barriers) == 0 {
		panic("called CommandList::ResourceBarrier with no barriers")
	}

	for _, barrier := range barriers {
		if barrier.Type == driver.BarrierTransition && barrier.StateBefore == barrier.StateAfter {
			panic(errors.AssertionFailedf("transition barrier with identical before and after state %s", barrier.StateBefore))
		}
	}

	l.record(Command{
		Kind:     CommandBarrier,
		Barriers: append([]driver.Barrier(nil), barriers...),
	})
}

func (l *CommandList) CopyBufferRegion(dest driver.Resource, destOffset uint64, source driver.Resource, sourceOffset uint64, size uint64) {
	l.record(Command{
		Kind:         CommandCopyBufferRegion,
		Dest:         dest.(*Resource),
		DestOffset:   destOffset,
		Source:       source.(*Resource),
		SourceOffset: sourceOffset,
		Size:         size,
	})
}

func (l *CommandList) CopyResource(dest driver.Resource, source driver.Resource) {
	l.record(Command{
		Kind:   CommandCopyResource,
		Dest:   dest.(*Resource),
		Source: source.(*Resource),
	})
}

func (l *CommandList) Native() any {
	return l
}

func (l *CommandList) Destroy() {
	l.device.destroyed()
}

func (l *CommandList) execute(skipStateValidation bool) error {
	for _, command := range l.commands {
		var err error

		switch command.Kind {
		case CommandBarrier:
			err = l.executeBarriers(command.Barriers, skipStateValidation)
		case CommandCopyBufferRegion:
			err = l.executeCopy(command, skipStateValidation)
		case CommandCopyResource:
			command.Size = uint64(len(command.Source.data))
			if uint64(len(command.Dest.data)) < command.Size {
				command.Size = uint64(len(command.Dest.data))
			}
			err = l.executeCopy(command, skipStateValidation)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (l *CommandList) executeBarriers(barriers []driver.Barrier, skipStateValidation bool) error {
	for _, barrier := range barriers {
		if barrier.Type != driver.BarrierTransition {
			continue
		}

		resource := barrier.Resource.(*Resource)
		err := resource.transition(barrier, skipStateValidation)
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *CommandList) executeCopy(command Command, skipStateValidation bool) error {
	if !skipStateValidation {
		destState := command.Dest.State()
		if destState != driver.ResourceStateCopyDest && destState != driver.ResourceStateCommon {
			return errors.AssertionFailedf("copy into resource %q in state %s", command.Dest.desc.Label, destState)
		}

		sourceState := command.Source.State()
		if sourceState != driver.ResourceStateCopySource && sourceState != driver.ResourceStateGenericRead && sourceState != driver.ResourceStateCommon {
			return errors.AssertionFailedf("copy from resource %q in state %s", command.Source.desc.Label, sourceState)
		}
	}

	if command.SourceOffset+command.Size > uint64(len(command.Source.data)) {
		return errors.Newf("copy of %d bytes at offset %d overruns source %q", command.Size, command.SourceOffset, command.Source.desc.Label)
	}
	if command.DestOffset+command.Size > uint64(len(command.Dest.data)) {
		return errors.Newf("copy of %d bytes at offset %d overruns destination %q", command.Size, command.DestOffset, command.Dest.desc.Label)
	}

	copy(command.Dest.data[command.DestOffset:command.DestOffset+command.Size],
		command.Source.data[command.SourceOffset:command.SourceOffset+command.Size])
	return nil
}
