package vulkan

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

// CommandAllocator is a VkCommandPool. It keeps the command buffers allocated from it and hands them out
// again after a Reset.
type CommandAllocator struct {
	device   *Device
	listType driver.CommandListType
	pool     core1_0.CommandPool

	buffers []core1_0.CommandBuffer
	next    int
}

var _ driver.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) Type() driver.CommandListType {
	return a.listType
}

func (a *CommandAllocator) acquireBuffer() (core1_0.CommandBuffer, error) {
	if a.next < len(a.buffers) {
		buffer := a.buffers[a.next]
		a.next++
		return buffer, nil
	}

	buffers, res, err := a.device.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        a.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, resultError(res, err, "allocating %s command buffer", a.listType)
	}

	a.buffers = append(a.buffers, buffers...)
	a.next = len(a.buffers)
	return buffers[0], nil
}

func (a *CommandAllocator) Reset() error {
	res, err := a.pool.Reset(0)
	if err != nil {
		return resultError(res, err, "resetting %s command pool", a.listType)
	}

	a.next = 0
	return nil
}

func (a *CommandAllocator) Destroy() {
	if len(a.buffers) > 0 {
		a.device.device.FreeCommandBuffers(a.buffers)
		a.buffers = nil
	}
	a.pool.Destroy(a.device.options.AllocationCallbacks)
}

// CommandList is the vulkan driver.CommandList. Each Reset records into a fresh command buffer from the
// given allocator. The first recording error is returned from Close.
type CommandList struct {
	device   *Device
	listType driver.CommandListType
	name     string

	buffer    core1_0.CommandBuffer
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

// Native is the core1_0.CommandBuffer being recorded
func (l *CommandList) Native() any {
	return l.buffer
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
		return l.err
	}

	res, err := l.buffer.End()
	if err != nil {
		return resultError(res, err, "ending command list %q", l.name)
	}
	return nil
}

func (l *CommandList) Reset(allocator driver.CommandAllocator) error {
	vkAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return errors.Newf("vulkan command list cannot record into allocator of type %T", allocator)
	}
	if vkAllocator.listType != l.listType {
		return errors.Newf("cannot reset a %s command list with a %s allocator", l.listType, vkAllocator.listType)
	}
	if l.recording {
		return errors.Newf("command list %q was reset while recording", l.name)
	}

	buffer, err := vkAllocator.acquireBuffer()
	if err != nil {
		return err
	}

	res, err := buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return resultError(res, err, "beginning %s command list", l.listType)
	}

	l.buffer = buffer
	l.recording = true
	l.err = nil
	return nil
}

// barrierSet accumulates the barriers of one ResourceBarrier call into a single vkCmdPipelineBarrier
type barrierSet struct {
	srcStages core1_0.PipelineStageFlags
	dstStages core1_0.PipelineStageFlags
	memory    []core1_0.MemoryBarrier
	buffers   []core1_0.BufferMemoryBarrier
	images    []core1_0.ImageMemoryBarrier
}

func (s *barrierSet) addMemory(src, dst stateUsage) {
	s.srcStages |= src.Stages
	s.dstStages |= dst.Stages
	s.memory = append(s.memory, core1_0.MemoryBarrier{
		SrcAccessMask: src.Access,
		DstAccessMask: dst.Access,
	})
}

func (l *CommandList) addTransition(set *barrierSet, barrier driver.Barrier) error {
	resource, ok := barrier.Resource.(*Resource)
	if !ok {
		return errors.Newf("vulkan command list cannot transition resource of type %T", barrier.Resource)
	}

	src := usageForState(barrier.StateBefore, l.listType)
	dst := usageForState(barrier.StateAfter, l.listType)
	set.srcStages |= src.Stages
	set.dstStages |= dst.Stages

	if resource.buffer != nil {
		set.buffers = append(set.buffers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       src.Access,
			DstAccessMask:       dst.Access,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Buffer:              resource.buffer,
			Offset:              0,
			Size:                int(resource.desc.Width),
		})
		return nil
	}

	set.images = append(set.images, core1_0.ImageMemoryBarrier{
		SrcAccessMask:       src.Access,
		DstAccessMask:       dst.Access,
		OldLayout:           src.Layout,
		NewLayout:           dst.Layout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Image:               resource.image,
		SubresourceRange:    resource.subresourceRange(barrier.Subresource),
	})
	return nil
}

// ResourceBarrier records every barrier in one pipeline barrier. Vulkan has no split barriers: the begin
// half is dropped and the end half performs the whole transition.
func (l *CommandList) ResourceBarrier(barriers []driver.Barrier) {
	var set barrierSet

	for _, barrier := range barriers {
		switch barrier.Type {
		case driver.BarrierTransition:
			if barrier.Flags == driver.BarrierFlagBeginOnly {
				continue
			}
			l.record(l.addTransition(&set, barrier))
		case driver.BarrierUAV:
			uav := usageForState(driver.ResourceStateUnorderedAccess, l.listType)
			set.addMemory(uav, uav)
		case driver.BarrierAliasing:
			aliased := usageForState(driver.ResourceStateCommon, l.listType)
			set.addMemory(aliased, aliased)
		}
	}

	if len(set.memory) == 0 && len(set.buffers) == 0 && len(set.images) == 0 {
		return
	}

	l.record(l.buffer.CmdPipelineBarrier(set.srcStages, set.dstStages, 0, set.memory, set.buffers, set.images))
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

	l.record(l.buffer.CmdCopyBuffer(sourceResource.buffer, destResource.buffer, []core1_0.BufferCopy{
		{
			SrcOffset: int(sourceOffset),
			DstOffset: int(destOffset),
			Size:      int(size),
		},
	}))
}

func (l *CommandList) CopyResource(dest driver.Resource, source driver.Resource) {
	destResource, sourceResource, err := copyResources(dest, source)
	if err != nil {
		l.record(err)
		return
	}

	if destResource.buffer != nil && sourceResource.buffer != nil {
		size := min(destResource.desc.Width, sourceResource.desc.Width)
		l.CopyBufferRegion(dest, 0, source, 0, size)
		return
	}
	if destResource.image == nil || sourceResource.image == nil {
		l.record(errors.New("CopyResource cannot copy between a buffer and a texture"))
		return
	}

	desc := sourceResource.desc
	aspect := aspectMask(desc.Format)
	regions := make([]core1_0.ImageCopy, 0, desc.MipLevels)
	for mip := 0; mip < int(max(desc.MipLevels, 1)); mip++ {
		layers := core1_0.ImageSubresourceLayers{
			AspectMask:     aspect,
			MipLevel:       mip,
			BaseArrayLayer: 0,
			LayerCount:     sourceResource.arrayLayers(),
		}
		regions = append(regions, core1_0.ImageCopy{
			SrcSubresource: layers,
			DstSubresource: layers,
			Extent:         sourceResource.mipExtent(mip),
		})
	}

	l.record(l.buffer.CmdCopyImage(
		sourceResource.image, core1_0.ImageLayoutTransferSrcOptimal,
		destResource.image, core1_0.ImageLayoutTransferDstOptimal,
		regions,
	))
}

func copyResources(dest, source driver.Resource) (*Resource, *Resource, error) {
	destResource, ok := dest.(*Resource)
	if !ok {
		return nil, nil, errors.Newf("vulkan command list cannot copy into resource of type %T", dest)
	}
	sourceResource, ok := source.(*Resource)
	if !ok {
		return nil, nil, errors.Newf("vulkan command list cannot copy from resource of type %T", source)
	}
	return destResource, sourceResource, nil
}

func (l *CommandList) Destroy() {
	if l.recording {
		l.device.logger.Warn("CommandList::Destroy called while recording", slog.String("Name", l.name))
	}
	l.buffer = nil
}
