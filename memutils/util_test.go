package memutils

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAlignment(t *testing.T) {
	require.Equal(t, uint64(256), AlignUp[uint64](1, 256))
	require.Equal(t, uint64(256), AlignUp[uint64](256, 256))
	require.Equal(t, uint64(512), AlignUp[uint64](257, 256))
	require.Equal(t, 0, AlignUp(0, 64))

	require.Equal(t, uint32(0), AlignDown[uint32](255, 256))
	require.Equal(t, uint32(768), AlignDown[uint32](1000, 256))

	require.True(t, IsAligned(4096, 256))
	require.False(t, IsAligned(4097, 256))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(uint32(64), "alignment"))
	require.NoError(t, CheckPow2(0, "alignment"))

	err := CheckPow2(uint64(48), "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 48")
}

func TestStatistics(t *testing.T) {
	var total Statistics
	total.AddStatistics(&Statistics{BlockCount: 1, BlockBytes: 1024, AllocationCount: 3, AllocationBytes: 300})
	total.AddStatistics(&Statistics{BlockCount: 2, BlockBytes: 2048, AllocationCount: 1, AllocationBytes: 48})

	require.Equal(t, Statistics{BlockCount: 3, BlockBytes: 3072, AllocationCount: 4, AllocationBytes: 348}, total)
	require.Equal(t, 2724, total.UnusedBytes())

	total.Clear()
	require.Equal(t, Statistics{}, total)
}
