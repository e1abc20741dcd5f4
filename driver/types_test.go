package driver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrings(t *testing.T) {
	require.Equal(t, "CommandListCompute", CommandListCompute.String())
	require.Equal(t, "ResourceStateInvalid", ResourceStateInvalid.String())
	require.Equal(t, "ResourceStatePresent", ResourceStatePresent.String())
	require.Equal(t, "BarrierFlagEndOnly", BarrierFlagEndOnly.String())
	require.Equal(t, "DescriptorHeapDSV", DescriptorHeapDSV.String())
	require.Equal(t, "FormatD32Float", FormatD32Float.String())
}

func TestTransition(t *testing.T) {
	barrier := Transition(nil, ResourceStateCommon, ResourceStateRenderTarget)
	require.Equal(t, BarrierTransition, barrier.Type)
	require.Equal(t, BarrierFlagNone, barrier.Flags)
	require.Equal(t, AllSubresources, barrier.Subresource)
	require.Equal(t, ResourceStateCommon, barrier.StateBefore)
	require.Equal(t, ResourceStateRenderTarget, barrier.StateAfter)
}

func TestComputeQueueStates(t *testing.T) {
	require.True(t, ResourceStateUnorderedAccess.IsValidOnComputeQueue())
	require.True(t, ResourceStateCopySource.IsValidOnComputeQueue())
	require.False(t, ResourceStateRenderTarget.IsValidOnComputeQueue())
	require.False(t, ResourceStatePixelShaderResource.IsValidOnComputeQueue())
}

func TestFormats(t *testing.T) {
	require.True(t, FormatD24UnormS8Uint.IsDepth())
	require.True(t, FormatD24UnormS8Uint.HasStencil())
	require.False(t, FormatD32Float.HasStencil())
	require.False(t, FormatR8G8B8A8Unorm.IsDepth())
	require.Equal(t, 16, FormatR32G32B32A32Float.BytesPerPixel())
	require.Equal(t, 0, FormatUnknown.BytesPerPixel())
	require.True(t, FormatB8G8R8A8UnormSRGB.IsSRGB())
}

func TestDescriptorHandles(t *testing.T) {
	require.True(t, NullCPUDescriptorHandle.IsNull())
	require.True(t, NullGPUDescriptorHandle.IsNull())

	cpu := CPUDescriptorHandle{Ptr: 4096}
	require.Equal(t, uint64(4160), cpu.Offset(64).Ptr)
	require.Equal(t, uint64(4032), cpu.Offset(-64).Ptr)
	require.True(t, DescriptorHeapSampler.CanBeShaderVisible())
	require.False(t, DescriptorHeapRTV.CanBeShaderVisible())
}
