package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeMultiply(t *testing.T) {
	v, err := SafeMultiply(1000, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), v)

	_, err = SafeMultiply(math.MaxUint64, 2)
	require.Error(t, err)
}

func TestElementCount(t *testing.T) {
	n, err := ElementCount(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	n, err = ElementCount([]uint64{100, 3})
	require.NoError(t, err)
	require.Equal(t, uint64(300), n)

	n, err = ElementCount([]uint64{0, 3})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCalculateChunkSize(t *testing.T) {
	size, err := CalculateChunkSize([]uint32{64, 2}, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), size)

	_, err = CalculateChunkSize(nil, 8)
	require.Error(t, err)

	_, err = CalculateChunkSize([]uint32{1 << 20, 1 << 20}, 8)
	require.Error(t, err)
}

func TestAlign8(t *testing.T) {
	require.Equal(t, uint64(0), Align8(0))
	require.Equal(t, uint64(8), Align8(1))
	require.Equal(t, uint64(16), Align8(16))
	require.Equal(t, uint64(24), Align8(17))
}
