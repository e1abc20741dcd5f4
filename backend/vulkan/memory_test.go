package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/driver"
)

func discreteMemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached,
				HeapIndex:     1,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1000000,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size:  1000000,
				Flags: 0,
			},
		},
	}
}

func TestFindMemoryTypeIndex(t *testing.T) {
	properties := discreteMemoryProperties()

	index, err := findMemoryTypeIndex(properties, 0b111, driver.HeapDefault)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	index, err = findMemoryTypeIndex(properties, 0b111, driver.HeapUpload)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	index, err = findMemoryTypeIndex(properties, 0b111, driver.HeapReadback)
	require.NoError(t, err)
	require.Equal(t, 2, index)
}

func TestFindMemoryTypeIndexFallback(t *testing.T) {
	properties := discreteMemoryProperties()

	// Default heap resources fall back to host visible memory when nothing better is allowed
	index, err := findMemoryTypeIndex(properties, 0b110, driver.HeapDefault)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	// Readback prefers cached memory but settles for coherent
	index, err = findMemoryTypeIndex(properties, 0b011, driver.HeapReadback)
	require.NoError(t, err)
	require.Equal(t, 1, index)
}

func TestFindMemoryTypeIndexNoMatch(t *testing.T) {
	properties := discreteMemoryProperties()

	_, err := findMemoryTypeIndex(properties, 0b001, driver.HeapUpload)
	require.Error(t, err)
	require.True(t, errors.Is(err, driver.ErrUnsupported))

	_, err = findMemoryTypeIndex(properties, 0, driver.HeapDefault)
	require.True(t, errors.Is(err, driver.ErrUnsupported))
}

func TestResultError(t *testing.T) {
	base := errors.New("vulkan call failed")

	err := resultError(core1_0.VKErrorOutOfDeviceMemory, base, "allocating %d bytes", 64)
	require.True(t, errors.Is(err, driver.ErrOutOfDeviceMemory))
	require.Contains(t, err.Error(), "allocating 64 bytes")

	err = resultError(core1_0.VKErrorDeviceLost, base, "submitting")
	require.True(t, errors.Is(err, driver.ErrDeviceLost))

	err = resultError(core1_0.VKErrorFormatNotSupported, base, "creating image")
	require.True(t, errors.Is(err, driver.ErrUnsupported))

	err = resultError(core1_0.VKErrorUnknown, base, "anything")
	require.False(t, errors.Is(err, driver.ErrDeviceLost))
	require.False(t, errors.Is(err, driver.ErrOutOfDeviceMemory))
	require.False(t, errors.Is(err, driver.ErrUnsupported))
	require.True(t, errors.Is(err, base))
}
