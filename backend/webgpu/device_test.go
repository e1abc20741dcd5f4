package webgpu

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/graphics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func createNoopDevice(t *testing.T) *Device {
	device, err := CreateNoop(testLogger(), Options{})
	require.NoError(t, err)
	return device
}

func TestFenceSignalAndWait(t *testing.T) {
	device := createNoopDevice(t)
	defer device.Destroy()

	queue, err := device.CreateCommandQueue(driver.CommandListCompute)
	require.NoError(t, err)
	defer queue.Destroy()

	fence, err := device.CreateFence(5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), fence.CompletedValue())

	require.NoError(t, queue.Signal(fence, 6))
	require.NoError(t, queue.Signal(fence, 7))
	require.NoError(t, fence.WaitForValue(7))
	require.Equal(t, uint64(7), fence.CompletedValue())

	// Nothing will ever signal 8
	err = fence.WaitForValue(8)
	require.True(t, errors.Is(err, driver.ErrDeviceLost))

	// The signal is already queued ahead of later work, so this returns without waiting
	require.NoError(t, queue.Wait(fence, 7))

	fence.Destroy()
	require.Panics(t, func() {
		fence.Destroy()
	})
}

func TestCommandListLifecycle(t *testing.T) {
	device := createNoopDevice(t)
	defer device.Destroy()

	allocator, err := device.CreateCommandAllocator(driver.CommandListCopy)
	require.NoError(t, err)
	defer allocator.Destroy()

	list, err := device.CreateCommandList(driver.CommandListCopy, allocator)
	require.NoError(t, err)
	defer list.Destroy()

	queue, err := device.CreateCommandQueue(driver.CommandListCopy)
	require.NoError(t, err)
	defer queue.Destroy()

	// Recording lists cannot be executed
	require.Error(t, queue.ExecuteCommandLists(list))

	require.NoError(t, list.Close())
	require.Error(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))

	direct, err := device.CreateCommandQueue(driver.CommandListDirect)
	require.NoError(t, err)
	defer direct.Destroy()
	require.Error(t, direct.ExecuteCommandLists(list))

	require.NoError(t, allocator.Reset())
	require.NoError(t, list.Reset(allocator))
	require.NoError(t, list.Close())

	other, err := device.CreateCommandAllocator(driver.CommandListDirect)
	require.NoError(t, err)
	defer other.Destroy()
	require.Error(t, list.Reset(other))
}

func TestResourceMapping(t *testing.T) {
	device := createNoopDevice(t)
	defer device.Destroy()

	upload, err := device.CreateCommittedResource(driver.ResourceDesc{
		Label:     "Upload",
		Dimension: driver.DimensionBuffer,
		Heap:      driver.HeapUpload,
		Width:     300,
	}, driver.ResourceStateGenericRead, nil)
	require.NoError(t, err)
	require.NotZero(t, upload.GPUVirtualAddress())

	data, err := upload.Map()
	require.NoError(t, err)
	require.Len(t, data, 300)
	again, err := upload.Map()
	require.NoError(t, err)
	require.Equal(t, &data[0], &again[0])
	require.Equal(t, 1, device.uploads.Count())

	upload.Unmap()
	upload.Unmap()
	require.Equal(t, 0, device.uploads.Count())

	buffer, err := device.CreateCommittedResource(driver.ResourceDesc{
		Label:     "Default",
		Dimension: driver.DimensionBuffer,
		Width:     64,
	}, driver.ResourceStateCommon, nil)
	require.NoError(t, err)
	require.Greater(t, buffer.GPUVirtualAddress(), upload.GPUVirtualAddress())

	_, err = buffer.Map()
	require.True(t, errors.Is(err, driver.ErrUnsupported))

	_, err = device.CreateCommittedResource(driver.ResourceDesc{
		Label:     "Upload Texture",
		Dimension: driver.DimensionTexture2D,
		Heap:      driver.HeapUpload,
		Width:     4,
		Height:    4,
		Format:    driver.FormatR8G8B8A8Unorm,
	}, driver.ResourceStateGenericRead, nil)
	require.True(t, errors.Is(err, driver.ErrUnsupported))

	require.Equal(t, int64(2), device.LiveResources())
	upload.Destroy()
	buffer.Destroy()
	require.Zero(t, device.LiveResources())
	require.Panics(t, func() {
		buffer.Destroy()
	})
}

func TestDescriptorViews(t *testing.T) {
	device := createNoopDevice(t)
	defer device.Destroy()

	heap, err := device.CreateDescriptorHeap(driver.DescriptorHeapDesc{
		Label: "Views",
		Type:  driver.DescriptorHeapCBVSRVUAV,
		Count: 4,
	})
	require.NoError(t, err)
	defer heap.Destroy()
	require.True(t, heap.GPUStart().IsNull())

	texture, err := device.CreateCommittedResource(driver.ResourceDesc{
		Label:            "Texture",
		Dimension:        driver.DimensionTexture2D,
		Width:            16,
		Height:           16,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           driver.FormatR8G8B8A8Unorm,
		SampleCount:      1,
	}, driver.ResourceStateCommon, nil)
	require.NoError(t, err)

	handle := heap.CPUStart().Offset(descriptorStride)
	require.NoError(t, device.CreateShaderResourceView(texture, nil, handle))

	descriptor, ok := device.Descriptor(handle)
	require.True(t, ok)
	require.Equal(t, ViewShaderResource, descriptor.Kind)
	require.Equal(t, driver.ViewDimensionTexture2D, descriptor.Desc.Dimension)
	require.NotNil(t, descriptor.View)

	_, ok = device.Descriptor(heap.CPUStart())
	require.False(t, ok)

	// Writing into the wrong heap type and outside the heap both fail
	require.Error(t, device.CreateRenderTargetView(texture, nil, handle))
	require.Error(t, device.CreateShaderResourceView(texture, nil, heap.CPUStart().Offset(4*descriptorStride)))

	texture.Destroy()
	_, ok = device.Descriptor(handle)
	require.False(t, ok)
	require.Error(t, device.CreateShaderResourceView(texture, nil, handle))
}

func TestGraphicsDevice(t *testing.T) {
	drv := createNoopDevice(t)
	defer drv.Destroy()

	device, err := graphics.New(testLogger(), drv, graphics.CreateOptions{
		ShaderVisibleDescriptors: 64,
		ShaderVisibleSamplers:    16,
		CPUPageSize:              4096,
		GPUPageSize:              4096,
	})
	require.NoError(t, err)

	buffer := &graphics.GpuBuffer{}
	require.NoError(t, buffer.Create(device, "Constants", 64, 4, make([]byte, 256)))

	color := graphics.NewColorBuffer([4]float32{0, 0, 0, 1})
	require.NoError(t, color.Create(device, "Scene Color", 64, 64, 1, driver.FormatR8G8B8A8Unorm))

	context, err := device.Begin("Frame")
	require.NoError(t, err)
	upload, err := context.ReserveUploadMemory(128)
	require.NoError(t, err)
	for i := range upload.Data {
		upload.Data[i] = byte(i)
	}
	context.CopyFromUpload(buffer, 0, upload)
	context.TransitionResource(color, driver.ResourceStateRenderTarget, false)
	context.TransitionResource(color, driver.ResourceStatePixelShaderResource, false)
	fence, err := context.Finish(true)
	require.NoError(t, err)
	require.NotZero(t, fence)

	require.NoError(t, device.IdleGPU())
	buffer.Destroy()
	color.Destroy()
	device.Destroy()
	require.Zero(t, drv.LiveResources())
}
