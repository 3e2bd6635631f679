package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkGrid_Offsets(t *testing.T) {
	g, err := NewChunkGrid([]uint64{5, 3}, []uint32{2, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{
		{0, 0}, {0, 2},
		{2, 0}, {2, 2},
		{4, 0}, {4, 2},
	}, g.Offsets())

	empty, err := NewChunkGrid([]uint64{0}, []uint32{8}, 4)
	require.NoError(t, err)
	assert.Empty(t, empty.Offsets())
}

func TestChunkGrid_ExtractScatter(t *testing.T) {
	g, err := NewChunkGrid([]uint64{3, 3}, []uint32{2, 2}, 2)
	require.NoError(t, err)
	data := make([]byte, 3*3*2)
	for i := range data {
		data[i] = byte(i + 1)
	}

	// Edge chunk at (2, 2) holds one element, zero padded.
	edge := g.Extract(data, []uint64{2, 2})
	assert.Equal(t, []byte{17, 18, 0, 0, 0, 0, 0, 0}, edge)

	first := g.Extract(data, []uint64{0, 0})
	assert.Equal(t, []byte{1, 2, 3, 4, 7, 8, 9, 10}, first)

	out := make([]byte, len(data))
	for _, off := range g.Offsets() {
		require.NoError(t, g.Scatter(out, g.Extract(data, off), off))
	}
	assert.Equal(t, data, out)
}

func TestChunkGrid_Invalid(t *testing.T) {
	_, err := NewChunkGrid([]uint64{4}, []uint32{0}, 1)
	require.Error(t, err)
	_, err = NewChunkGrid([]uint64{4, 4}, []uint32{2}, 1)
	require.Error(t, err)
	_, err = NewChunkGrid([]uint64{4}, []uint32{2}, 0)
	require.Error(t, err)

	g, err := NewChunkGrid([]uint64{4}, []uint32{2}, 1)
	require.NoError(t, err)
	require.Error(t, g.Scatter(make([]byte, 4), []byte{1}, []uint64{0}))
}
