package graphics

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// ColorBuffer is a render target that can also be sampled and, without MSAA, written per mip as a UAV
type ColorBuffer struct {
	PixelBuffer

	clearColor    [4]float32
	numMipMaps    uint32
	fragmentCount uint32
	sampleCount   uint32

	srvHandle  driver.CPUDescriptorHandle
	rtvHandle  driver.CPUDescriptorHandle
	uavHandles []driver.CPUDescriptorHandle
}

func NewColorBuffer(clearColor [4]float32) *ColorBuffer {
	return &ColorBuffer{
		clearColor:    clearColor,
		fragmentCount: 1,
		sampleCount:   1,
	}
}

// computeNumMips is the length of the full mip chain of a width x height texture
func computeNumMips(width, height uint32) uint32 {
	return uint32(bits.Len32(width | height))
}

// SetMsaaMode sets the sample counts used by the next Create. The coverage count must be at least the
// color count.
func (b *ColorBuffer) SetMsaaMode(numColorSamples, numCoverageSamples uint32) {
	if numCoverageSamples < numColorSamples {
		panic("called ColorBuffer::SetMsaaMode with fewer coverage samples than color samples")
	}
	b.fragmentCount = numColorSamples
	b.sampleCount = numCoverageSamples
}

func (b *ColorBuffer) ClearColor() [4]float32 { return b.clearColor }

// NumMipMaps is the number of mips below the top level
func (b *ColorBuffer) NumMipMaps() uint32 { return b.numMipMaps }

func (b *ColorBuffer) SRV() driver.CPUDescriptorHandle { return b.srvHandle }
func (b *ColorBuffer) RTV() driver.CPUDescriptorHandle { return b.rtvHandle }

// UAV is the unordered access view of mip; null for MSAA buffers
func (b *ColorBuffer) UAV(mip int) driver.CPUDescriptorHandle {
	if mip >= len(b.uavHandles) {
		return driver.NullCPUDescriptorHandle
	}
	return b.uavHandles[mip]
}

func (b *ColorBuffer) resourceFlags() driver.ResourceFlags {
	flags := driver.ResourceFlagAllowRenderTarget
	if b.fragmentCount == 1 {
		flags |= driver.ResourceFlagAllowUnorderedAccess
	}
	return flags
}

// Create creates a 2D render target. A numMips of 0 creates the full mip chain.
func (b *ColorBuffer) Create(device *Device, name string, width, height uint32, numMips uint32, format driver.Format) error {
	if numMips == 0 {
		numMips = computeNumMips(width, height)
	}
	if b.fragmentCount > 1 {
		numMips = 1
	}

	desc := describeTex2D(width, height, 1, numMips, format, b.resourceFlags())
	desc.SampleCount = b.sampleCount

	err := b.createTextureResource(device, name, desc, driver.ClearValue{Format: format, Color: b.clearColor})
	if err != nil {
		return err
	}

	return b.createDerivedViews(device, format, 1, numMips)
}

// CreateArray creates an array of single-mip 2D render targets
func (b *ColorBuffer) CreateArray(device *Device, name string, width, height uint32, arrayCount uint32, format driver.Format) error {
	desc := describeTex2D(width, height, arrayCount, 1, format, b.resourceFlags())

	err := b.createTextureResource(device, name, desc, driver.ClearValue{Format: format, Color: b.clearColor})
	if err != nil {
		return err
	}

	return b.createDerivedViews(device, format, arrayCount, 1)
}

// CreateFromSwapChain wraps a swap chain buffer. The buffer starts in the present state and only gets
// a render target view.
func (b *ColorBuffer) CreateFromSwapChain(device *Device, name string, resource driver.Resource) error {
	b.adopt(resource, driver.ResourceStatePresent)
	b.numMipMaps = 0

	if b.rtvHandle.IsNull() {
		handle, err := device.AllocateDescriptor(driver.DescriptorHeapRTV, 1)
		if err != nil {
			return err
		}
		b.rtvHandle = handle
	}

	err := device.driver.CreateRenderTargetView(resource, nil, b.rtvHandle)
	if err != nil {
		return errors.Wrapf(err, "creating render target view of swap chain buffer %q", name)
	}
	return nil
}

func (b *ColorBuffer) createDerivedViews(device *Device, format driver.Format, arraySize uint32, numMips uint32) error {
	if arraySize != 1 && numMips != 1 {
		panic("called ColorBuffer::createDerivedViews with both an array and a mip chain")
	}
	b.numMipMaps = numMips - 1

	rtvDesc := driver.ViewDesc{Format: format}
	srvDesc := driver.ViewDesc{Format: format}
	uavDesc := driver.ViewDesc{Format: format}

	switch {
	case arraySize > 1:
		rtvDesc.Dimension = driver.ViewDimensionTexture2DArray
		rtvDesc.ArraySize = arraySize

		uavDesc.Dimension = driver.ViewDimensionTexture2DArray
		uavDesc.ArraySize = arraySize

		srvDesc.Dimension = driver.ViewDimensionTexture2DArray
		srvDesc.MipLevels = numMips
		srvDesc.ArraySize = arraySize
	case b.fragmentCount > 1:
		rtvDesc.Dimension = driver.ViewDimensionTexture2DMS
		srvDesc.Dimension = driver.ViewDimensionTexture2DMS
	default:
		rtvDesc.Dimension = driver.ViewDimensionTexture2D
		uavDesc.Dimension = driver.ViewDimensionTexture2D
		srvDesc.Dimension = driver.ViewDimensionTexture2D
		srvDesc.MipLevels = numMips
	}

	if b.srvHandle.IsNull() {
		var err error
		b.rtvHandle, err = device.AllocateDescriptor(driver.DescriptorHeapRTV, 1)
		if err != nil {
			return err
		}
		b.srvHandle, err = device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
		if err != nil {
			return err
		}
	}

	resource := b.Native()
	err := device.driver.CreateRenderTargetView(resource, &rtvDesc, b.rtvHandle)
	if err != nil {
		return errors.Wrapf(err, "creating render target view of %s", format)
	}
	err = device.driver.CreateShaderResourceView(resource, &srvDesc, b.srvHandle)
	if err != nil {
		return errors.Wrapf(err, "creating shader resource view of %s", format)
	}

	if b.fragmentCount > 1 {
		return nil
	}

	for mip := uint32(0); mip < numMips; mip++ {
		if int(mip) >= len(b.uavHandles) {
			handle, err := device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
			if err != nil {
				return err
			}
			b.uavHandles = append(b.uavHandles, handle)
		}

		uavDesc.MipSlice = mip
		err = device.driver.CreateUnorderedAccessView(resource, &uavDesc, b.uavHandles[mip])
		if err != nil {
			return errors.Wrapf(err, "creating unordered access view of mip %d", mip)
		}
	}

	return nil
}
