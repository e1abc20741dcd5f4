package graphics

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// DepthBuffer is a depth/stencil target with writable and read-only views of each plane
type DepthBuffer struct {
	PixelBuffer

	clearDepth   float32
	clearStencil uint8
	sampleCount  uint32

	// writable, depth read-only, stencil read-only, both read-only
	dsv        [4]driver.CPUDescriptorHandle
	depthSRV   driver.CPUDescriptorHandle
	stencilSRV driver.CPUDescriptorHandle
}

func NewDepthBuffer(clearDepth float32, clearStencil uint8) *DepthBuffer {
	return &DepthBuffer{
		clearDepth:   clearDepth,
		clearStencil: clearStencil,
	}
}

func (b *DepthBuffer) ClearDepth() float32 { return b.clearDepth }
func (b *DepthBuffer) ClearStencil() uint8 { return b.clearStencil }

func (b *DepthBuffer) DSV() driver.CPUDescriptorHandle                { return b.dsv[0] }
func (b *DepthBuffer) DSVDepthReadOnly() driver.CPUDescriptorHandle   { return b.dsv[1] }
func (b *DepthBuffer) DSVStencilReadOnly() driver.CPUDescriptorHandle { return b.dsv[2] }
func (b *DepthBuffer) DSVReadOnly() driver.CPUDescriptorHandle        { return b.dsv[3] }
func (b *DepthBuffer) DepthSRV() driver.CPUDescriptorHandle           { return b.depthSRV }
func (b *DepthBuffer) StencilSRV() driver.CPUDescriptorHandle         { return b.stencilSRV }

// Create creates a single-sampled depth buffer
func (b *DepthBuffer) Create(device *Device, name string, width, height uint32, format driver.Format) error {
	return b.CreateMSAA(device, name, width, height, 1, format)
}

// CreateMSAA creates a depth buffer with numSamples samples per pixel
func (b *DepthBuffer) CreateMSAA(device *Device, name string, width, height uint32, numSamples uint32, format driver.Format) error {
	if !format.IsDepth() {
		panic(errors.AssertionFailedf("called DepthBuffer::Create with non-depth format %s", format))
	}

	desc := describeTex2D(width, height, 1, 1, format, driver.ResourceFlagAllowDepthStencil)
	desc.SampleCount = numSamples

	err := b.createTextureResource(device, name, desc, driver.ClearValue{
		Format:  format,
		Depth:   b.clearDepth,
		Stencil: b.clearStencil,
	})
	if err != nil {
		return err
	}
	b.sampleCount = numSamples

	return b.createDerivedViews(device, format)
}

func (b *DepthBuffer) createDerivedViews(device *Device, format driver.Format) error {
	dimension := driver.ViewDimensionTexture2D
	if b.sampleCount > 1 {
		dimension = driver.ViewDimensionTexture2DMS
	}
	resource := b.Native()
	hasStencil := format.HasStencil()

	if b.dsv[0].IsNull() {
		for i := 0; i < 2; i++ {
			handle, err := device.AllocateDescriptor(driver.DescriptorHeapDSV, 1)
			if err != nil {
				return err
			}
			b.dsv[i] = handle
		}
	}
	if hasStencil && (b.dsv[2].IsNull() || b.dsv[2] == b.dsv[0]) {
		for i := 2; i < 4; i++ {
			handle, err := device.AllocateDescriptor(driver.DescriptorHeapDSV, 1)
			if err != nil {
				return err
			}
			b.dsv[i] = handle
		}
	} else if !hasStencil {
		b.dsv[2] = b.dsv[0]
		b.dsv[3] = b.dsv[1]
	}

	views := 2
	if hasStencil {
		views = 4
	}
	for i := 0; i < views; i++ {
		dsvDesc := driver.ViewDesc{
			Format:          format,
			Dimension:       dimension,
			ReadOnlyDepth:   i == 1 || i == 3,
			ReadOnlyStencil: i == 2 || i == 3,
		}
		err := device.driver.CreateDepthStencilView(resource, &dsvDesc, b.dsv[i])
		if err != nil {
			return errors.Wrapf(err, "creating depth stencil view %d of %s", i, format)
		}
	}

	if b.depthSRV.IsNull() {
		handle, err := device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
		if err != nil {
			return err
		}
		b.depthSRV = handle
	}

	srvDesc := driver.ViewDesc{
		Format:    format,
		Dimension: dimension,
		MipLevels: 1,
	}
	err := device.driver.CreateShaderResourceView(resource, &srvDesc, b.depthSRV)
	if err != nil {
		return errors.Wrapf(err, "creating depth shader resource view of %s", format)
	}

	if !hasStencil {
		return nil
	}

	if b.stencilSRV.IsNull() {
		handle, err := device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
		if err != nil {
			return err
		}
		b.stencilSRV = handle
	}

	srvDesc.PlaneSlice = 1
	err = device.driver.CreateShaderResourceView(resource, &srvDesc, b.stencilSRV)
	if err != nil {
		return errors.Wrapf(err, "creating stencil shader resource view of %s", format)
	}
	return nil
}
