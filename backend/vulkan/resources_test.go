package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

func textureResource(width uint64, height uint32, arraySize uint32, mips uint32, format driver.Format) *Resource {
	return &Resource{
		desc: driver.ResourceDesc{
			Label:            "Texture",
			Dimension:        driver.DimensionTexture2D,
			Heap:             driver.HeapDefault,
			Width:            width,
			Height:           height,
			DepthOrArraySize: arraySize,
			MipLevels:        mips,
			Format:           format,
			SampleCount:      1,
		},
	}
}

func TestSubresourceRange(t *testing.T) {
	resource := textureResource(256, 128, 3, 4, driver.FormatR8G8B8A8Unorm)

	all := resource.subresourceRange(driver.AllSubresources)
	require.Equal(t, core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     4,
		BaseArrayLayer: 0,
		LayerCount:     3,
	}, all)

	// Subresource 6 is mip 2 of the second slice
	single := resource.subresourceRange(6)
	require.Equal(t, 2, single.BaseMipLevel)
	require.Equal(t, 1, single.LevelCount)
	require.Equal(t, 1, single.BaseArrayLayer)
	require.Equal(t, 1, single.LayerCount)

	depth := textureResource(64, 64, 1, 1, driver.FormatD24UnormS8Uint)
	require.Equal(t, core1_0.ImageAspectDepth|core1_0.ImageAspectStencil, depth.subresourceRange(driver.AllSubresources).AspectMask)
}

func TestMipExtent(t *testing.T) {
	resource := textureResource(256, 100, 1, 9, driver.FormatR8G8B8A8Unorm)
	require.Equal(t, core1_0.Extent3D{Width: 256, Height: 100, Depth: 1}, resource.mipExtent(0))
	require.Equal(t, core1_0.Extent3D{Width: 64, Height: 25, Depth: 1}, resource.mipExtent(2))
	require.Equal(t, core1_0.Extent3D{Width: 1, Height: 1, Depth: 1}, resource.mipExtent(8))

	volume := textureResource(32, 32, 16, 1, driver.FormatR8G8B8A8Unorm)
	volume.desc.Dimension = driver.DimensionTexture3D
	require.Equal(t, 1, volume.arrayLayers())
	require.Equal(t, core1_0.Extent3D{Width: 16, Height: 16, Depth: 8}, volume.mipExtent(1))
}

func TestResourceUsage(t *testing.T) {
	plain := driver.ResourceDesc{Dimension: driver.DimensionBuffer}
	require.NotZero(t, bufferUsage(plain)&core1_0.BufferUsageStorageBuffer)
	require.NotZero(t, bufferUsage(plain)&core1_0.BufferUsageTransferDst)

	denied := driver.ResourceDesc{Dimension: driver.DimensionBuffer, Flags: driver.ResourceFlagDenyShaderResource}
	require.Zero(t, bufferUsage(denied)&core1_0.BufferUsageStorageBuffer)

	renderTarget := driver.ResourceDesc{Flags: driver.ResourceFlagAllowRenderTarget | driver.ResourceFlagAllowUnorderedAccess}
	usage := imageUsage(renderTarget)
	require.NotZero(t, usage&core1_0.ImageUsageColorAttachment)
	require.NotZero(t, usage&core1_0.ImageUsageStorage)
	require.NotZero(t, usage&core1_0.ImageUsageSampled)
	require.Zero(t, usage&core1_0.ImageUsageDepthStencilAttachment)

	depth := driver.ResourceDesc{Flags: driver.ResourceFlagAllowDepthStencil | driver.ResourceFlagDenyShaderResource}
	usage = imageUsage(depth)
	require.NotZero(t, usage&core1_0.ImageUsageDepthStencilAttachment)
	require.Zero(t, usage&core1_0.ImageUsageSampled)

	require.Equal(t, core1_0.ImageType3D, imageType(driver.DimensionTexture3D))
	require.Equal(t, core1_0.ImageType2D, imageType(driver.DimensionTexture2D))
}

func TestDefaultViewDesc(t *testing.T) {
	array := textureResource(64, 64, 6, 1, driver.FormatR16G16B16A16Float)
	desc := defaultViewDesc(array)
	require.Equal(t, driver.ViewDimensionTexture2DArray, desc.Dimension)
	require.Equal(t, uint32(6), desc.ArraySize)
	require.Equal(t, core1_0.ImageViewType2DArray, viewType(desc))

	single := textureResource(64, 64, 1, 1, driver.FormatR8G8B8A8Unorm)
	require.Equal(t, driver.ViewDimensionTexture2D, defaultViewDesc(single).Dimension)

	buffer := &Resource{desc: driver.ResourceDesc{Dimension: driver.DimensionBuffer, Width: 64}}
	require.Equal(t, driver.ViewDimensionBuffer, defaultViewDesc(buffer).Dimension)
}

func TestViewRange(t *testing.T) {
	resource := textureResource(128, 128, 1, 8, driver.FormatR8G8B8A8Unorm)

	uav := viewRange(ViewUnorderedAccess, resource, driver.ViewDesc{
		Dimension: driver.ViewDimensionTexture2D,
		Format:    driver.FormatR8G8B8A8Unorm,
		MipSlice:  3,
	})
	require.Equal(t, 3, uav.BaseMipLevel)
	require.Equal(t, 1, uav.LevelCount)

	srv := viewRange(ViewShaderResource, resource, driver.ViewDesc{
		Dimension:       driver.ViewDimensionTexture2D,
		Format:          driver.FormatR8G8B8A8Unorm,
		MostDetailedMip: 2,
	})
	require.Equal(t, 2, srv.BaseMipLevel)
	require.Equal(t, 6, srv.LevelCount)

	depth := textureResource(64, 64, 1, 1, driver.FormatD24UnormS8Uint)
	dsv := viewRange(ViewDepthStencil, depth, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint})
	require.Equal(t, core1_0.ImageAspectDepth|core1_0.ImageAspectStencil, dsv.AspectMask)

	depthSRV := viewRange(ViewShaderResource, depth, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint})
	require.Equal(t, core1_0.ImageAspectDepth, depthSRV.AspectMask)

	stencilSRV := viewRange(ViewShaderResource, depth, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint, PlaneSlice: 1})
	require.Equal(t, core1_0.ImageAspectStencil, stencilSRV.AspectMask)
}
