package graphics

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/driver"
)

// GpuBuffer is a structured buffer in the default heap with shader resource and unordered access views
type GpuBuffer struct {
	GpuResource

	bufferSize   uint64
	elementCount uint32
	elementSize  uint32

	srv driver.CPUDescriptorHandle
	uav driver.CPUDescriptorHandle
}

func (b *GpuBuffer) BufferSize() uint64              { return b.bufferSize }
func (b *GpuBuffer) ElementCount() uint32            { return b.elementCount }
func (b *GpuBuffer) ElementSize() uint32             { return b.elementSize }
func (b *GpuBuffer) SRV() driver.CPUDescriptorHandle { return b.srv }
func (b *GpuBuffer) UAV() driver.CPUDescriptorHandle { return b.uav }

// Create creates a buffer of numElements elements of elementSize bytes. initialData, when present, is
// uploaded through a copy context before Create returns.
func (b *GpuBuffer) Create(device *Device, name string, numElements uint32, elementSize uint32, initialData []byte) error {
	b.Destroy()

	b.elementCount = numElements
	b.elementSize = elementSize
	b.bufferSize = uint64(numElements) * uint64(elementSize)

	if uint64(len(initialData)) > b.bufferSize {
		panic(errors.AssertionFailedf("called GpuBuffer::Create with %d bytes of initial data for a %d byte buffer", len(initialData), b.bufferSize))
	}

	resource, err := device.driver.CreateCommittedResource(driver.ResourceDesc{
		Label:            name,
		Dimension:        driver.DimensionBuffer,
		Heap:             driver.HeapDefault,
		Width:            b.bufferSize,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleCount:      1,
		Flags:            driver.ResourceFlagAllowUnorderedAccess,
	}, driver.ResourceStateCommon, nil)
	if err != nil {
		return errors.Wrapf(err, "creating buffer %q", name)
	}
	b.initialize(resource, driver.ResourceStateCommon)

	if len(initialData) > 0 {
		err = device.InitializeBuffer(b, initialData, 0)
		if err != nil {
			return err
		}
	}

	return b.createDerivedViews(device)
}

func (b *GpuBuffer) createDerivedViews(device *Device) error {
	if b.srv.IsNull() {
		var err error
		b.srv, err = device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
		if err != nil {
			return err
		}
		b.uav, err = device.AllocateDescriptor(driver.DescriptorHeapCBVSRVUAV, 1)
		if err != nil {
			return err
		}
	}

	desc := driver.ViewDesc{
		Dimension:           driver.ViewDimensionBuffer,
		NumElements:         b.elementCount,
		StructureByteStride: b.elementSize,
	}

	err := device.driver.CreateShaderResourceView(b.Native(), &desc, b.srv)
	if err != nil {
		return errors.Wrap(err, "creating buffer shader resource view")
	}
	err = device.driver.CreateUnorderedAccessView(b.Native(), &desc, b.uav)
	if err != nil {
		return errors.Wrap(err, "creating buffer unordered access view")
	}
	return nil
}
