package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

var formatMapping = map[driver.Format]core1_0.Format{
	driver.FormatR8Unorm:           core1_0.FormatR8UnsignedNormalized,
	driver.FormatR8G8B8A8Unorm:     core1_0.FormatR8G8B8A8UnsignedNormalized,
	driver.FormatR8G8B8A8UnormSRGB: core1_0.FormatR8G8B8A8SRGB,
	driver.FormatB8G8R8A8Unorm:     core1_0.FormatB8G8R8A8UnsignedNormalized,
	driver.FormatB8G8R8A8UnormSRGB: core1_0.FormatB8G8R8A8SRGB,
	driver.FormatR10G10B10A2Unorm:  core1_0.FormatA2B10G10R10UnsignedNormalizedPacked,
	driver.FormatR11G11B10Float:    core1_0.FormatB10G11R11UnsignedFloatPacked,
	driver.FormatR16G16Float:       core1_0.FormatR16G16SignedFloat,
	driver.FormatR16G16B16A16Float: core1_0.FormatR16G16B16A16SignedFloat,
	driver.FormatR32Float:          core1_0.FormatR32SignedFloat,
	driver.FormatR32Uint:           core1_0.FormatR32UnsignedInt,
	driver.FormatR32G32B32A32Float: core1_0.FormatR32G32B32A32SignedFloat,
	driver.FormatD16Unorm:          core1_0.FormatD16UnsignedNormalized,
	driver.FormatD32Float:          core1_0.FormatD32SignedFloat,
	driver.FormatD24UnormS8Uint:    core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
	driver.FormatD32FloatS8X24Uint: core1_0.FormatD32SignedFloatS8UnsignedInt,
}

var reverseFormatMapping = make(map[core1_0.Format]driver.Format)

func init() {
	for format, vkFormat := range formatMapping {
		reverseFormatMapping[vkFormat] = format
	}
}

// VulkanFormat returns the vulkan equivalent of format, or core1_0.FormatUndefined
func VulkanFormat(format driver.Format) core1_0.Format {
	vkFormat, ok := formatMapping[format]
	if !ok {
		return core1_0.FormatUndefined
	}
	return vkFormat
}

// FormatFromVulkan returns the driver format equivalent to vkFormat, or driver.FormatUnknown
func FormatFromVulkan(vkFormat core1_0.Format) driver.Format {
	return reverseFormatMapping[vkFormat]
}

func aspectMask(format driver.Format) core1_0.ImageAspectFlags {
	if !format.IsDepth() {
		return core1_0.ImageAspectColor
	}

	aspect := core1_0.ImageAspectDepth
	if format.HasStencil() {
		aspect |= core1_0.ImageAspectStencil
	}
	return aspect
}

func sampleCount(count uint32) core1_0.SampleCountFlags {
	switch count {
	case 0, 1:
		return core1_0.Samples1
	case 2:
		return core1_0.Samples2
	case 4:
		return core1_0.Samples4
	case 8:
		return core1_0.Samples8
	case 16:
		return core1_0.Samples16
	case 32:
		return core1_0.Samples32
	default:
		return core1_0.Samples64
	}
}
