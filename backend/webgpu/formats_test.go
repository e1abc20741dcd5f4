package webgpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/driver"
)

func TestFormatMapping(t *testing.T) {
	for format, wgpuFormat := range formatMapping {
		require.Equal(t, wgpuFormat, TextureFormat(format), format.String())
		require.Equal(t, format, FormatFromTexture(wgpuFormat), format.String())
	}

	require.Equal(t, gputypes.TextureFormatUndefined, TextureFormat(driver.FormatUnknown))
}

func TestEveryStateHasUsage(t *testing.T) {
	for state := driver.ResourceStateCommon; state <= driver.ResourceStatePresent; state++ {
		require.NotZero(t, usageForState(state), state.String())
	}

	require.Equal(t, gputypes.TextureUsageRenderAttachment, usageForState(driver.ResourceStateRenderTarget))
	require.Equal(t, gputypes.TextureUsageCopyDst, usageForState(driver.ResourceStateCopyDest))
	require.Equal(t, gputypes.TextureUsageStorageBinding, usageForState(driver.ResourceStateUnorderedAccess))
	require.Panics(t, func() {
		usageForState(driver.ResourceStateInvalid)
	})
}

func TestResourceUsage(t *testing.T) {
	upload := bufferUsage(driver.ResourceDesc{Dimension: driver.DimensionBuffer, Heap: driver.HeapUpload})
	require.Equal(t, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst, upload)

	readback := bufferUsage(driver.ResourceDesc{Dimension: driver.DimensionBuffer, Heap: driver.HeapReadback})
	require.NotZero(t, readback&gputypes.BufferUsageMapRead)

	structured := bufferUsage(driver.ResourceDesc{Dimension: driver.DimensionBuffer})
	require.NotZero(t, structured&gputypes.BufferUsageStorage)
	require.NotZero(t, structured&gputypes.BufferUsageVertex)

	depth := textureUsage(driver.ResourceDesc{Flags: driver.ResourceFlagAllowDepthStencil | driver.ResourceFlagDenyShaderResource})
	require.NotZero(t, depth&gputypes.TextureUsageRenderAttachment)
	require.Zero(t, depth&gputypes.TextureUsageTextureBinding)

	require.Equal(t, gputypes.TextureDimension3D, textureDimension(driver.DimensionTexture3D))
	require.Equal(t, gputypes.TextureViewDimension2DArray, viewDimension(driver.ViewDimensionTexture2DArray))
}

func TestTextureViewDescriptor(t *testing.T) {
	resource := &Resource{desc: driver.ResourceDesc{Label: "Depth", MipLevels: 1, Format: driver.FormatD24UnormS8Uint}}

	dsv := textureViewDescriptor(ViewDepthStencil, resource, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint})
	require.Equal(t, gputypes.TextureAspectAll, dsv.Aspect)
	require.Equal(t, uint32(1), dsv.MipLevelCount)

	depthSRV := textureViewDescriptor(ViewShaderResource, resource, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint})
	require.Equal(t, gputypes.TextureAspectDepthOnly, depthSRV.Aspect)
	require.Zero(t, depthSRV.MipLevelCount)

	stencilSRV := textureViewDescriptor(ViewShaderResource, resource, driver.ViewDesc{Format: driver.FormatD24UnormS8Uint, PlaneSlice: 1})
	require.Equal(t, gputypes.TextureAspectStencilOnly, stencilSRV.Aspect)
}
