package graphics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/backend/noop"
	"github.com/vkngwrapper/forge/driver"
)

func requireView(t *testing.T, drv *noop.Device, handle driver.CPUDescriptorHandle, kind noop.ViewKind) noop.View {
	require.False(t, handle.IsNull())
	view, ok := drv.View(handle)
	require.True(t, ok)
	require.Equal(t, kind, view.Kind)
	return view
}

func TestGpuResourceLifecycle(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Lifecycle", 128, nil)
	require.True(t, buffer.IsValid())
	require.NotZero(t, buffer.GPUVirtualAddress())
	require.Equal(t, driver.ResourceStateCommon, buffer.UsageState())
	require.Equal(t, driver.ResourceStateInvalid, buffer.TransitioningState())
	live := drv.LiveObjects()
	version := buffer.Version()

	ref := buffer.Retain()
	native := buffer.Native()

	buffer.Destroy()
	require.False(t, buffer.IsValid())
	require.Nil(t, buffer.Native())
	require.Zero(t, buffer.GPUVirtualAddress())
	require.Equal(t, version+1, buffer.Version())

	// The outstanding reference keeps the native resource alive
	require.Equal(t, live, drv.LiveObjects())
	require.Same(t, native, ref.Native())

	ref.Release()
	require.Equal(t, live-1, drv.LiveObjects())
	require.Panics(t, func() {
		ref.Release()
	})
	require.Panics(t, func() {
		buffer.Retain()
	})

	// Destroying twice is harmless and still invalidates cached views
	buffer.Destroy()
	require.Equal(t, version+2, buffer.Version())
}

func TestGpuBufferRecreate(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := createBuffer(t, device, "Recreated", 64, nil)
	srv := buffer.SRV()
	first := buffer.Native()
	version := buffer.Version()

	require.NoError(t, buffer.Create(device, "Recreated", 32, 8, nil))
	require.NotSame(t, first, buffer.Native())
	require.Greater(t, buffer.Version(), version)
	require.Equal(t, uint64(256), buffer.BufferSize())

	// Views are rewritten in place
	require.Equal(t, srv, buffer.SRV())
	view := requireView(t, drv, buffer.SRV(), noop.ViewShaderResource)
	require.Same(t, buffer.Native(), driver.Resource(view.Resource))
	require.Equal(t, uint32(32), view.Desc.NumElements)
	require.Equal(t, uint32(8), view.Desc.StructureByteStride)

	requireView(t, drv, buffer.UAV(), noop.ViewUnorderedAccess)
	buffer.Destroy()
}

func TestCopyBuffer(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	src := createBuffer(t, device, "Source", 16, []byte("abcdefghijklmnop"))
	defer src.Destroy()
	dest := createBuffer(t, device, "Dest", 16, nil)
	defer dest.Destroy()
	partial := createBuffer(t, device, "Partial", 16, nil)
	defer partial.Destroy()

	context, err := device.BeginCopy("Copies")
	require.NoError(t, err)
	context.CopyBuffer(dest, src)
	context.CopyBufferRegion(partial, 8, src, 4, 4)
	_, err = context.Finish(true)
	require.NoError(t, err)

	require.Equal(t, []byte("abcdefghijklmnop"), dest.Native().(*noop.Resource).Contents())
	require.Equal(t, []byte("efgh"), partial.Native().(*noop.Resource).Contents()[8:12])
	require.Equal(t, driver.ResourceStateCopySource, src.UsageState())
	require.Equal(t, driver.ResourceStateCopyDest, dest.UsageState())
}

func TestColorBufferViews(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := NewColorBuffer([4]float32{0, 0, 0, 1})
	require.NoError(t, buffer.Create(device, "Scene Color", 256, 128, 0, driver.FormatR11G11B10Float))
	defer buffer.Destroy()

	require.Equal(t, uint32(256), buffer.Width())
	require.Equal(t, uint32(128), buffer.Height())
	require.Equal(t, uint32(1), buffer.Depth())
	require.Equal(t, driver.FormatR11G11B10Float, buffer.Format())
	require.Equal(t, uint32(8), buffer.NumMipMaps())
	require.Equal(t, uint16(9), buffer.Native().Desc().MipLevels)

	rtv := requireView(t, drv, buffer.RTV(), noop.ViewRenderTarget)
	require.Equal(t, driver.ViewDimensionTexture2D, rtv.Desc.Dimension)

	srv := requireView(t, drv, buffer.SRV(), noop.ViewShaderResource)
	require.Equal(t, uint32(9), srv.Desc.MipLevels)

	for mip := 0; mip < 9; mip++ {
		uav := requireView(t, drv, buffer.UAV(mip), noop.ViewUnorderedAccess)
		require.Equal(t, uint32(mip), uav.Desc.MipSlice)
	}
	require.True(t, buffer.UAV(9).IsNull())

	explicit := NewColorBuffer([4]float32{})
	require.NoError(t, explicit.Create(device, "Explicit Mips", 256, 128, 1, driver.FormatR8G8B8A8Unorm))
	require.Zero(t, explicit.NumMipMaps())
	explicit.Destroy()
}

func TestColorBufferMSAA(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := NewColorBuffer([4]float32{})
	require.Panics(t, func() {
		buffer.SetMsaaMode(4, 2)
	})
	buffer.SetMsaaMode(4, 4)
	require.NoError(t, buffer.Create(device, "MSAA Color", 64, 64, 0, driver.FormatR8G8B8A8Unorm))
	defer buffer.Destroy()

	desc := buffer.Native().Desc()
	require.Equal(t, uint16(1), desc.MipLevels)
	require.Equal(t, uint32(4), desc.SampleCount)
	require.Zero(t, desc.Flags&driver.ResourceFlagAllowUnorderedAccess)

	srv := requireView(t, drv, buffer.SRV(), noop.ViewShaderResource)
	require.Equal(t, driver.ViewDimensionTexture2DMS, srv.Desc.Dimension)
	require.True(t, buffer.UAV(0).IsNull())
}

func TestColorBufferArray(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := NewColorBuffer([4]float32{})
	require.NoError(t, buffer.CreateArray(device, "Shadow Cascades", 512, 512, 4, driver.FormatR32Float))
	defer buffer.Destroy()

	require.Equal(t, uint32(4), buffer.Depth())
	rtv := requireView(t, drv, buffer.RTV(), noop.ViewRenderTarget)
	require.Equal(t, driver.ViewDimensionTexture2DArray, rtv.Desc.Dimension)
	require.Equal(t, uint32(4), rtv.Desc.ArraySize)

	uav := requireView(t, drv, buffer.UAV(0), noop.ViewUnorderedAccess)
	require.Equal(t, uint32(4), uav.Desc.ArraySize)
	require.True(t, buffer.UAV(1).IsNull())
}

func TestColorBufferFromSwapChain(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	swapChain := noop.NewSwapChain(drv, 2, 320, 240, driver.FormatB8G8R8A8Unorm)
	resource, err := swapChain.Buffer(1)
	require.NoError(t, err)

	buffer := NewColorBuffer([4]float32{})
	require.NoError(t, buffer.CreateFromSwapChain(device, "Back Buffer 1", resource))

	require.Equal(t, driver.ResourceStatePresent, buffer.UsageState())
	require.Equal(t, uint32(320), buffer.Width())
	require.Equal(t, driver.FormatB8G8R8A8Unorm, buffer.Format())
	require.True(t, buffer.SRV().IsNull())

	rtv := requireView(t, drv, buffer.RTV(), noop.ViewRenderTarget)
	require.Equal(t, driver.FormatB8G8R8A8Unorm, rtv.Desc.Format)

	buffer.Destroy()
	require.NoError(t, swapChain.ResizeBuffers(640, 480))
}

func TestDepthBufferWithStencil(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := NewDepthBuffer(1, 0)
	require.NoError(t, buffer.Create(device, "Scene Depth", 128, 128, driver.FormatD24UnormS8Uint))
	defer buffer.Destroy()

	handles := []driver.CPUDescriptorHandle{
		buffer.DSV(),
		buffer.DSVDepthReadOnly(),
		buffer.DSVStencilReadOnly(),
		buffer.DSVReadOnly(),
	}
	seen := map[driver.CPUDescriptorHandle]bool{}
	for i, handle := range handles {
		view := requireView(t, drv, handle, noop.ViewDepthStencil)
		require.Equal(t, i == 1 || i == 3, view.Desc.ReadOnlyDepth)
		require.Equal(t, i == 2 || i == 3, view.Desc.ReadOnlyStencil)
		seen[handle] = true
	}
	require.Len(t, seen, 4)

	depth := requireView(t, drv, buffer.DepthSRV(), noop.ViewShaderResource)
	require.Zero(t, depth.Desc.PlaneSlice)
	stencil := requireView(t, drv, buffer.StencilSRV(), noop.ViewShaderResource)
	require.Equal(t, uint32(1), stencil.Desc.PlaneSlice)

	require.Equal(t, float32(1), buffer.ClearDepth())
	require.Equal(t, uint8(0), buffer.ClearStencil())
}

func TestDepthBufferWithoutStencil(t *testing.T) {
	drv, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	buffer := NewDepthBuffer(0, 0)
	require.NoError(t, buffer.CreateMSAA(device, "MSAA Depth", 64, 64, 4, driver.FormatD32Float))
	defer buffer.Destroy()

	require.Equal(t, buffer.DSV(), buffer.DSVStencilReadOnly())
	require.Equal(t, buffer.DSVDepthReadOnly(), buffer.DSVReadOnly())
	require.NotEqual(t, buffer.DSV(), buffer.DSVDepthReadOnly())
	require.True(t, buffer.StencilSRV().IsNull())

	view := requireView(t, drv, buffer.DSV(), noop.ViewDepthStencil)
	require.Equal(t, driver.ViewDimensionTexture2DMS, view.Desc.Dimension)

	require.Panics(t, func() {
		_ = NewDepthBuffer(0, 0).Create(device, "Not Depth", 64, 64, driver.FormatR8G8B8A8Unorm)
	})
}

func TestRenderTargetTransitions(t *testing.T) {
	_, device := createDevice(t, noop.Options{})
	defer device.Destroy()

	color := NewColorBuffer([4]float32{})
	require.NoError(t, color.Create(device, "Target", 64, 64, 1, driver.FormatR8G8B8A8Unorm))
	defer color.Destroy()
	depth := NewDepthBuffer(1, 0)
	require.NoError(t, depth.Create(device, "Depth", 64, 64, driver.FormatD32Float))
	defer depth.Destroy()

	context, err := device.Begin("Render")
	require.NoError(t, err)
	context.TransitionResource(color, driver.ResourceStateRenderTarget, false)
	context.TransitionResource(depth, driver.ResourceStateDepthWrite, false)
	context.TransitionResource(color, driver.ResourceStatePixelShaderResource, false)
	context.TransitionResource(depth, driver.ResourceStateDepthRead, true)
	_, err = context.Finish(true)
	require.NoError(t, err)

	require.Equal(t, driver.ResourceStatePixelShaderResource, color.Native().(*noop.Resource).State())
	require.Equal(t, driver.ResourceStateDepthRead, depth.Native().(*noop.Resource).State())
	require.Equal(t, 2, color.Native().(*noop.Resource).Transitions())
}
