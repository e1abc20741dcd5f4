package webgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/forge/driver"
)

var formatMapping = map[driver.Format]gputypes.TextureFormat{
	driver.FormatR8Unorm:           gputypes.TextureFormatR8Unorm,
	driver.FormatR8G8B8A8Unorm:     gputypes.TextureFormatRGBA8Unorm,
	driver.FormatR8G8B8A8UnormSRGB: gputypes.TextureFormatRGBA8UnormSrgb,
	driver.FormatB8G8R8A8Unorm:     gputypes.TextureFormatBGRA8Unorm,
	driver.FormatB8G8R8A8UnormSRGB: gputypes.TextureFormatBGRA8UnormSrgb,
	driver.FormatR10G10B10A2Unorm:  gputypes.TextureFormatRGB10A2Unorm,
	driver.FormatR11G11B10Float:    gputypes.TextureFormatRG11B10Ufloat,
	driver.FormatR16G16Float:       gputypes.TextureFormatRG16Float,
	driver.FormatR16G16B16A16Float: gputypes.TextureFormatRGBA16Float,
	driver.FormatR32Float:          gputypes.TextureFormatR32Float,
	driver.FormatR32Uint:           gputypes.TextureFormatR32Uint,
	driver.FormatR32G32B32A32Float: gputypes.TextureFormatRGBA32Float,
	driver.FormatD16Unorm:          gputypes.TextureFormatDepth16Unorm,
	driver.FormatD32Float:          gputypes.TextureFormatDepth32Float,
	driver.FormatD24UnormS8Uint:    gputypes.TextureFormatDepth24PlusStencil8,
	driver.FormatD32FloatS8X24Uint: gputypes.TextureFormatDepth32FloatStencil8,
}

var reverseFormatMapping = make(map[gputypes.TextureFormat]driver.Format)

func init() {
	for format, wgpuFormat := range formatMapping {
		reverseFormatMapping[wgpuFormat] = format
	}
}

// TextureFormat returns the WebGPU equivalent of format, or gputypes.TextureFormatUndefined
func TextureFormat(format driver.Format) gputypes.TextureFormat {
	wgpuFormat, ok := formatMapping[format]
	if !ok {
		return gputypes.TextureFormatUndefined
	}
	return wgpuFormat
}

// FormatFromTexture returns the driver format equivalent to wgpuFormat, or driver.FormatUnknown
func FormatFromTexture(wgpuFormat gputypes.TextureFormat) driver.Format {
	return reverseFormatMapping[wgpuFormat]
}

// stateUsages is the texture usage each resource state is expressed as in a usage transition. States
// WebGPU has no distinct usage for share the nearest read usage.
var stateUsages = map[driver.ResourceState]gputypes.TextureUsage{
	driver.ResourceStateCommon:                  gputypes.TextureUsageTextureBinding,
	driver.ResourceStateVertexAndConstantBuffer: gputypes.TextureUsageTextureBinding,
	driver.ResourceStateIndexBuffer:             gputypes.TextureUsageTextureBinding,
	driver.ResourceStateRenderTarget:            gputypes.TextureUsageRenderAttachment,
	driver.ResourceStateUnorderedAccess:         gputypes.TextureUsageStorageBinding,
	driver.ResourceStateDepthWrite:              gputypes.TextureUsageRenderAttachment,
	driver.ResourceStateDepthRead:               gputypes.TextureUsageRenderAttachment,
	driver.ResourceStateNonPixelShaderResource:  gputypes.TextureUsageTextureBinding,
	driver.ResourceStatePixelShaderResource:     gputypes.TextureUsageTextureBinding,
	driver.ResourceStateShaderResource:          gputypes.TextureUsageTextureBinding,
	driver.ResourceStateIndirectArgument:        gputypes.TextureUsageTextureBinding,
	driver.ResourceStateCopyDest:                gputypes.TextureUsageCopyDst,
	driver.ResourceStateCopySource:              gputypes.TextureUsageCopySrc,
	driver.ResourceStateResolveDest:             gputypes.TextureUsageRenderAttachment,
	driver.ResourceStateResolveSource:           gputypes.TextureUsageCopySrc,
	driver.ResourceStateGenericRead:             gputypes.TextureUsageTextureBinding,
	driver.ResourceStatePresent:                 gputypes.TextureUsageRenderAttachment,
}

func usageForState(state driver.ResourceState) gputypes.TextureUsage {
	usage, ok := stateUsages[state]
	if !ok {
		panic("no texture usage for resource state " + state.String())
	}
	return usage
}

func textureUsage(desc driver.ResourceDesc) gputypes.TextureUsage {
	usage := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if desc.Flags&driver.ResourceFlagDenyShaderResource == 0 {
		usage |= gputypes.TextureUsageTextureBinding
	}
	if desc.Flags&(driver.ResourceFlagAllowRenderTarget|driver.ResourceFlagAllowDepthStencil) != 0 {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	if desc.Flags&driver.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= gputypes.TextureUsageStorageBinding
	}
	return usage
}

func bufferUsage(desc driver.ResourceDesc) gputypes.BufferUsage {
	usage := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	switch desc.Heap {
	case driver.HeapUpload:
		return usage
	case driver.HeapReadback:
		return usage | gputypes.BufferUsageMapRead
	}

	usage |= gputypes.BufferUsageVertex | gputypes.BufferUsageIndex | gputypes.BufferUsageUniform |
		gputypes.BufferUsageIndirect
	if desc.Flags&driver.ResourceFlagDenyShaderResource == 0 || desc.Flags&driver.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= gputypes.BufferUsageStorage
	}
	return usage
}

func textureDimension(dimension driver.Dimension) gputypes.TextureDimension {
	switch dimension {
	case driver.DimensionTexture1D:
		return gputypes.TextureDimension1D
	case driver.DimensionTexture3D:
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

func viewDimension(dimension driver.ViewDimension) gputypes.TextureViewDimension {
	switch dimension {
	case driver.ViewDimensionTexture2DArray, driver.ViewDimensionTexture2DMSArray:
		return gputypes.TextureViewDimension2DArray
	case driver.ViewDimensionTexture3D:
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}
