package core

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataLayout_EncodeParse(t *testing.T) {
	sb := testSuperblock()

	compact, err := EncodeCompactLayout([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	msg, err := ParseDataLayoutMessage(compact, sb)
	require.NoError(t, err)
	assert.Equal(t, LayoutCompact, msg.Class)
	assert.Equal(t, []byte{1, 2, 3, 4}, msg.CompactData)

	msg, err = ParseDataLayoutMessage(EncodeContiguousLayout(800, 64), sb)
	require.NoError(t, err)
	assert.Equal(t, LayoutContiguous, msg.Class)
	assert.Equal(t, uint64(800), msg.Address)
	assert.Equal(t, uint64(64), msg.Size)

	chunked, err := EncodeChunkedLayout(1234, []uint32{16, 4, 8})
	require.NoError(t, err)
	msg, err = ParseDataLayoutMessage(chunked, sb)
	require.NoError(t, err)
	assert.True(t, msg.IsChunked())
	assert.Equal(t, ChunkIndexBTreeV1, msg.IndexType)
	assert.Equal(t, uint64(1234), msg.Address)
	assert.Equal(t, []uint32{16, 4, 8}, msg.ChunkDims)
	assert.Equal(t, uint32(8), msg.ElementSize())
	n, err := msg.ChunkBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(16*4*8), n)
}

func TestDataLayout_EncodeChunkedRejectsZero(t *testing.T) {
	_, err := EncodeChunkedLayout(0, []uint32{0, 8})
	require.Error(t, err)
	_, err = EncodeChunkedLayout(0, []uint32{8})
	require.Error(t, err)
}

func TestDataLayout_V4SingleChunk(t *testing.T) {
	// version 4, chunked, flags: filtered single chunk, 2 dims of 2 bytes
	data := []byte{4, 2, 0x02, 2, 2, 10, 0, 8, 0, byte(ChunkIndexSingleChunk)}
	tail := make([]byte, 8+4+8)
	binary.LittleEndian.PutUint64(tail, 77)
	binary.LittleEndian.PutUint32(tail[8:], 1)
	binary.LittleEndian.PutUint64(tail[12:], 5000)
	data = append(data, tail...)

	msg, err := ParseDataLayoutMessage(data, testSuperblock())
	require.NoError(t, err)
	assert.Equal(t, ChunkIndexSingleChunk, msg.IndexType)
	assert.Equal(t, []uint32{10, 8}, msg.ChunkDims)
	assert.Equal(t, uint64(77), msg.FilteredSize)
	assert.Equal(t, uint32(1), msg.FilterMask)
	assert.Equal(t, uint64(5000), msg.Address)
}

func TestDataLayout_V4UnsupportedIndex(t *testing.T) {
	data := []byte{4, 2, 0, 2, 1, 10, 8, byte(ChunkIndexFixedArray), 0}
	data = append(data, make([]byte, 8)...)
	msg, err := ParseDataLayoutMessage(data, testSuperblock())
	require.NoError(t, err)

	grid, err := NewChunkGrid([]uint64{10}, msg.ChunkDims[:1], 8)
	require.NoError(t, err)
	_, err = ChunkRecords(&memFile{}, msg, grid, testSuperblock())
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestDataLayout_V1Chunked(t *testing.T) {
	data := make([]byte, 8+8+2*4+4)
	data[0], data[1], data[2] = 1, 2, byte(LayoutChunked)
	binary.LittleEndian.PutUint64(data[8:], 4096)
	binary.LittleEndian.PutUint32(data[16:], 32)
	binary.LittleEndian.PutUint32(data[20:], 4)
	binary.LittleEndian.PutUint32(data[24:], 2)

	msg, err := ParseDataLayoutMessage(data, testSuperblock())
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), msg.Address)
	assert.Equal(t, []uint32{32, 4, 2}, msg.ChunkDims)
}

func TestDataLayout_Virtual(t *testing.T) {
	_, err := ParseDataLayoutMessage([]byte{4, byte(LayoutVirtual), 0, 0}, testSuperblock())
	assert.True(t, errors.Is(err, ErrUnsupported))
}
