package webgpu

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"
	"github.com/vkngwrapper/forge/driver"
)

// CommandAllocator owns the command buffers closed against it until it is reset
type CommandAllocator struct {
	device   *Device
	listType driver.CommandListType

	mutex   sync.Mutex
	buffers []hal.CommandBuffer
}

var _ driver.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) Type() driver.CommandListType {
	return a.listType
}

func (a *CommandAllocator) retain(buffer hal.CommandBuffer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.buffers = append(a.buffers, buffer)
}

func (a *CommandAllocator) Reset() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, buffer := range a.buffers {
		a.device.device.FreeCommandBuffer(buffer)
	}
	a.buffers = a.buffers[:0]
	return nil
}

func (a *CommandAllocator) Destroy() {
	err := a.Reset()
	if err != nil {
		a.device.logger.Warn("CommandAllocator::Destroy could not free command buffers", slog.Any("Error", err))
	}
}

// CommandList is the webgpu driver.CommandList. Each Reset begins a new hal command encoder and Close
// hands the finished command buffer to the allocator.
type CommandList struct {
	device   *Device
	listType driver.CommandListType
	name     string

	allocator *CommandAllocator
	encoder   hal.CommandEncoder
	buffer    hal.CommandBuffer
	recording bool
	err       error
}

var _ driver.CommandList = &CommandList{}

func (l *CommandList) Type() driver.CommandListType {
	return l.listType
}

func (l *CommandList) SetName(name string) {
	l.name = name
}

// Native is the hal.CommandEncoder being recorded
func (l *CommandList) Native() any {
	return l.encoder
}

func (l *CommandList) record(err error) {
	if err != nil && l.err == nil {
		l.err = errors.Wrapf(err, "recording command list %q", l.name)
	}
}

func (l *CommandList) Close() error {
	if !l.recording {
		return errors.Newf("command list %q closed twice", l.name)
	}
	l.recording = false

	if l.err != nil {
		l.encoder.DiscardEncoding()
		return l.err
	}

	buffer, err := l.encoder.EndEncoding()
	if err != nil {
		return errors.Wrapf(err, "ending command list %q", l.name)
	}
	l.buffer = buffer
	l.allocator.retain(buffer)
	return nil
}

func (l *CommandList) Reset(allocator driver.CommandAllocator) error {
	wgpuAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return errors.Newf("webgpu command list cannot record into allocator of type %T", allocator)
	}
	if wgpuAllocator.listType != l.listType {
		return errors.Newf("cannot reset a %s command list with a %s allocator", l.listType, wgpuAllocator.listType)
	}
	if l.recording {
		return errors.Newf("command list %q was reset while recording", l.name)
	}

	encoder, err := l.device.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: l.name,
	})
	if err != nil {
		return errors.Wrapf(err, "creating command encoder for %q", l.name)
	}
	err = encoder.BeginEncoding(l.name)
	if err != nil {
		return errors.Wrapf(err, "beginning command list %q", l.name)
	}

	l.allocator = wgpuAllocator
	l.encoder = encoder
	l.buffer = nil
	l.recording = true
	l.err = nil
	return nil
}

// ResourceBarrier records texture usage transitions. Buffer transitions, UAV and aliasing barriers have
// no WebGPU equivalent: the hal orders buffer access itself. The begin half of a split barrier is
// dropped and the end half performs the whole transition.
func (l *CommandList) ResourceBarrier(barriers []driver.Barrier) {
	var transitions []hal.TextureBarrier

	for _, barrier := range barriers {
		if barrier.Type != driver.BarrierTransition || barrier.Flags == driver.BarrierFlagBeginOnly {
			continue
		}

		resource, ok := barrier.Resource.(*Resource)
		if !ok {
			l.record(errors.Newf("webgpu command list cannot transition resource of type %T", barrier.Resource))
			continue
		}
		if resource.texture == nil {
			continue
		}

		oldUsage := usageForState(barrier.StateBefore)
		newUsage := usageForState(barrier.StateAfter)
		if oldUsage == newUsage {
			continue
		}

		transitions = append(transitions, hal.TextureBarrier{
			Texture: resource.texture,
			Usage: hal.TextureUsageTransition{
				OldUsage: oldUsage,
				NewUsage: newUsage,
			},
		})
	}

	if len(transitions) > 0 {
		l.encoder.TransitionTextures(transitions)
	}
}

func (l *CommandList) CopyBufferRegion(dest driver.Resource, destOffset uint64, source driver.Resource, sourceOffset uint64, size uint64) {
	destResource, sourceResource, err := copyResources(dest, source)
	if err != nil {
		l.record(err)
		return
	}
	if destResource.buffer == nil || sourceResource.buffer == nil {
		l.record(errors.New("CopyBufferRegion requires two buffers"))
		return
	}

	l.encoder.CopyBufferToBuffer(sourceResource.buffer, destResource.buffer, []hal.BufferCopy{
		{
			SrcOffset: sourceOffset,
			DstOffset: destOffset,
			Size:      size,
		},
	})
}

// CopyResource copies whole buffers. Texture to texture copies are not supported by this backend.
func (l *CommandList) CopyResource(dest driver.Resource, source driver.Resource) {
	destResource, sourceResource, err := copyResources(dest, source)
	if err != nil {
		l.record(err)
		return
	}

	if destResource.buffer == nil || sourceResource.buffer == nil {
		l.record(errors.Mark(errors.New("CopyResource only copies between buffers"), driver.ErrUnsupported))
		return
	}

	size := min(destResource.desc.Width, sourceResource.desc.Width)
	l.CopyBufferRegion(dest, 0, source, 0, size)
}

func copyResources(dest, source driver.Resource) (*Resource, *Resource, error) {
	destResource, ok := dest.(*Resource)
	if !ok {
		return nil, nil, errors.Newf("webgpu command list cannot copy into resource of type %T", dest)
	}
	sourceResource, ok := source.(*Resource)
	if !ok {
		return nil, nil, errors.Newf("webgpu command list cannot copy from resource of type %T", source)
	}
	return destResource, sourceResource, nil
}

func (l *CommandList) Destroy() {
	if l.recording {
		l.device.logger.Warn("CommandList::Destroy called while recording", slog.String("Name", l.name))
		l.encoder.DiscardEncoding()
		l.recording = false
	}
	l.encoder = nil
	l.buffer = nil
}
