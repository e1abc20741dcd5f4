package webgpu

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/memutils"
)

// Resource is a hal buffer or texture. Upload and readback buffers carry a CPU shadow that Map returns.
type Resource struct {
	device *Device
	desc   driver.ResourceDesc

	buffer  hal.Buffer
	texture hal.Texture
	address uint64

	mapMutex      sync.Mutex
	shadow        []byte
	mapReferences int

	viewMutex sync.Mutex
	views     []viewSlot

	destroyed atomic.Bool
}

type viewSlot struct {
	heap *DescriptorHeap
	slot int
}

var _ driver.Resource = &Resource{}

func (r *Resource) Desc() driver.ResourceDesc {
	return r.desc
}

func (r *Resource) GPUVirtualAddress() uint64 {
	return r.address
}

// Native is the hal.Buffer or hal.Texture
func (r *Resource) Native() any {
	if r.buffer != nil {
		return r.buffer
	}
	return r.texture
}

func (r *Resource) trackView(heap *DescriptorHeap, slot int) {
	r.viewMutex.Lock()
	defer r.viewMutex.Unlock()

	r.views = append(r.views, viewSlot{heap: heap, slot: slot})
}

func (r *Resource) releaseViews() {
	r.viewMutex.Lock()
	views := r.views
	r.views = nil
	r.viewMutex.Unlock()

	for _, view := range views {
		view.heap.clearResource(view.slot, r)
	}
}

// Map returns the shadow of an upload or readback buffer. Readback buffers are read back from the GPU
// when first mapped; mapped upload buffers are written to the GPU ahead of every submission.
func (r *Resource) Map() ([]byte, error) {
	if r.desc.Heap == driver.HeapDefault || r.buffer == nil {
		return nil, errors.Mark(errors.Newf("resource %q lives in the default heap and cannot be mapped", r.desc.Label), driver.ErrUnsupported)
	}

	r.mapMutex.Lock()
	defer r.mapMutex.Unlock()

	if r.mapReferences == 0 {
		if r.shadow == nil {
			r.shadow = make([]byte, r.desc.Width)
		}

		if r.desc.Heap == driver.HeapReadback {
			err := r.device.readBuffer(r.buffer, r.shadow)
			if err != nil {
				return nil, errors.Wrapf(err, "reading back %q", r.desc.Label)
			}
		} else {
			r.device.trackUpload(r)
		}
	}

	r.mapReferences++
	return r.shadow, nil
}

func (r *Resource) Unmap() {
	r.mapMutex.Lock()
	defer r.mapMutex.Unlock()

	if r.mapReferences == 0 {
		return
	}
	r.mapReferences--
	if r.mapReferences == 0 && r.desc.Heap == driver.HeapUpload {
		r.device.untrackUpload(r)
		r.device.writeBuffer(r.buffer, r.shadow)
	}
}

// Destroy frees the resource
func (r *Resource) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("resource %q destroyed twice", r.desc.Label))
	}

	r.releaseViews()

	if r.buffer != nil {
		r.device.untrackUpload(r)
		r.device.device.DestroyBuffer(r.buffer)
		r.device.liveBuffers.Add(-1)
		r.device.bufferBytes.Add(-int64(r.desc.Width))
	}
	if r.texture != nil {
		r.device.device.DestroyTexture(r.texture)
		r.device.liveTextures.Add(-1)
	}
}

// CreateCommittedResource creates a hal buffer or texture. Textures start out undefined; the clear
// value is ignored.
func (d *Device) CreateCommittedResource(desc driver.ResourceDesc, initialState driver.ResourceState, clearValue *driver.ClearValue) (driver.Resource, error) {
	if desc.Width == 0 {
		return nil, errors.Newf("cannot create resource %q with zero width", desc.Label)
	}
	if desc.Heap != driver.HeapDefault && desc.Dimension != driver.DimensionBuffer {
		return nil, errors.Mark(errors.Newf("texture %q must live in the default heap", desc.Label), driver.ErrUnsupported)
	}

	resource := &Resource{device: d, desc: desc}

	if desc.Dimension == driver.DimensionBuffer {
		buffer, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.Width,
			Usage: bufferUsage(desc),
		})
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "creating buffer %q", desc.Label), driver.ErrOutOfDeviceMemory)
		}
		resource.buffer = buffer

		size := memutils.AlignUp(desc.Width, bufferAddressAlign)
		resource.address = d.nextAddress.Add(size) - size
		d.liveBuffers.Add(1)
		d.bufferBytes.Add(int64(desc.Width))
	} else {
		format := TextureFormat(desc.Format)
		if format == gputypes.TextureFormatUndefined {
			return nil, errors.Mark(errors.Newf("format %s has no webgpu equivalent", desc.Format), driver.ErrUnsupported)
		}

		texture, err := d.device.CreateTexture(&hal.TextureDescriptor{
			Label: desc.Label,
			Size: hal.Extent3D{
				Width:              uint32(desc.Width),
				Height:             max(desc.Height, 1),
				DepthOrArrayLayers: uint32(max(desc.DepthOrArraySize, 1)),
			},
			MipLevelCount: uint32(max(desc.MipLevels, 1)),
			SampleCount:   max(desc.SampleCount, 1),
			Dimension:     textureDimension(desc.Dimension),
			Format:        format,
			Usage:         textureUsage(desc),
		})
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "creating texture %q", desc.Label), driver.ErrOutOfDeviceMemory)
		}
		resource.texture = texture
		d.liveTextures.Add(1)
	}

	d.logger.Debug("Device::CreateCommittedResource",
		slog.String("Label", desc.Label),
		slog.String("Dimension", desc.Dimension.String()),
		slog.String("Heap", desc.Heap.String()),
		slog.Uint64("Width", desc.Width),
	)
	return resource, nil
}
