package graphics

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// PixelBuffer is a texture with a fixed size and format
type PixelBuffer struct {
	GpuResource

	width     uint32
	height    uint32
	arraySize uint32
	format    driver.Format
}

func (b *PixelBuffer) Width() uint32         { return b.width }
func (b *PixelBuffer) Height() uint32        { return b.height }
func (b *PixelBuffer) Depth() uint32         { return b.arraySize }
func (b *PixelBuffer) Format() driver.Format { return b.format }

func describeTex2D(width, height uint32, depthOrArraySize uint32, numMips uint32, format driver.Format, flags driver.ResourceFlags) driver.ResourceDesc {
	return driver.ResourceDesc{
		Dimension:        driver.DimensionTexture2D,
		Heap:             driver.HeapDefault,
		Width:            uint64(width),
		Height:           height,
		DepthOrArraySize: uint16(depthOrArraySize),
		MipLevels:        uint16(numMips),
		Format:           format,
		SampleCount:      1,
		Flags:            flags,
	}
}

func (b *PixelBuffer) adopt(resource driver.Resource, state driver.ResourceState) {
	desc := resource.Desc()

	b.initialize(resource, state)
	b.width = uint32(desc.Width)
	b.height = desc.Height
	b.arraySize = uint32(desc.DepthOrArraySize)
	b.format = desc.Format
}

func (b *PixelBuffer) createTextureResource(device *Device, name string, desc driver.ResourceDesc, clearValue driver.ClearValue) error {
	b.Destroy()

	desc.Label = name
	resource, err := device.driver.CreateCommittedResource(desc, driver.ResourceStateCommon, &clearValue)
	if err != nil {
		return errors.Wrapf(err, "creating texture %q", name)
	}

	b.adopt(resource, driver.ResourceStateCommon)
	return nil
}
