package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

func TestFormatMapping(t *testing.T) {
	for format, vkFormat := range formatMapping {
		require.Equal(t, vkFormat, VulkanFormat(format), format.String())
		require.Equal(t, format, FormatFromVulkan(vkFormat), format.String())
	}

	require.Equal(t, core1_0.FormatUndefined, VulkanFormat(driver.FormatUnknown))
	require.Equal(t, driver.FormatUnknown, FormatFromVulkan(core1_0.FormatUndefined))
}

func TestAspectMask(t *testing.T) {
	require.Equal(t, core1_0.ImageAspectColor, aspectMask(driver.FormatR8G8B8A8Unorm))
	require.Equal(t, core1_0.ImageAspectDepth, aspectMask(driver.FormatD32Float))
	require.Equal(t, core1_0.ImageAspectDepth|core1_0.ImageAspectStencil, aspectMask(driver.FormatD24UnormS8Uint))
}

func TestSampleCount(t *testing.T) {
	require.Equal(t, core1_0.Samples1, sampleCount(0))
	require.Equal(t, core1_0.Samples1, sampleCount(1))
	require.Equal(t, core1_0.Samples4, sampleCount(4))
	require.Equal(t, core1_0.Samples64, sampleCount(64))
}
