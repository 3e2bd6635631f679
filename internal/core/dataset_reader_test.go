package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5trim/internal/writer"
)

func writeChunkedDataset(t *testing.T, f *memFile, data []byte, dims []uint64, chunk []uint32, elem uint32, pipeline *writer.FilterPipeline) uint64 {
	t.Helper()
	grid, err := NewChunkGrid(dims, chunk, uint64(elem))
	require.NoError(t, err)

	var records []ChunkRecord
	for _, off := range grid.Offsets() {
		stored, err := pipeline.Apply(grid.Extract(data, off))
		require.NoError(t, err)
		records = append(records, ChunkRecord{Offsets: off, Size: uint32(len(stored)), Address: f.put(stored)})
	}
	btree, err := BuildChunkIndex(f, records, chunk)
	require.NoError(t, err)

	dt, err := NewFixedPoint(elem, true)
	require.NoError(t, err)
	space, err := EncodeDataspaceMessage(dims, nil)
	require.NoError(t, err)
	layout, err := EncodeChunkedLayout(btree, append(append([]uint32{}, chunk...), elem))
	require.NoError(t, err)

	w := NewObjectHeaderWriter()
	w.Add(MsgDataspace, 0, space)
	w.Add(MsgDatatype, 1, dt.Raw)
	w.Add(MsgFillValue, 1, EncodeFillValueMessage(AllocTimeIncremental))
	w.Add(MsgDataLayout, 0, layout)
	if !pipeline.IsEmpty() {
		msg, err := pipeline.EncodePipelineMessage()
		require.NoError(t, err)
		w.Add(MsgFilterPipeline, 0, msg)
	}
	buf, err := w.Encode()
	require.NoError(t, err)
	return f.put(buf)
}

func TestReadDatasetRaw_Chunked(t *testing.T) {
	dims := []uint64{5, 3}
	data := make([]byte, 5*3*2)
	for i := range data {
		data[i] = byte(i * 7)
	}

	tests := []struct {
		name     string
		pipeline *writer.FilterPipeline
	}{
		{"unfiltered", writer.NewFilterPipeline()},
		{"shuffle deflate", writer.NewFilterPipeline(writer.NewShuffleFilter(2), writer.NewDeflateFilter(6))},
		{"fletcher32", writer.NewFilterPipeline(writer.NewFletcher32Filter())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := testSuperblock()
			f := &memFile{buf: make([]byte, 96)}
			addr := writeChunkedDataset(t, f, data, dims, []uint32{2, 2}, 2, tt.pipeline)

			oh, err := ReadObjectHeader(f, addr, sb)
			require.NoError(t, err)
			info, err := ReadDatasetInfo(f, oh, sb)
			require.NoError(t, err)
			assert.Equal(t, dims, info.Dataspace.Dimensions)
			assert.Equal(t, tt.pipeline.IsEmpty(), info.Filters == nil)

			got, err := ReadDatasetRaw(f, info, sb)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestReadDatasetRaw_Compact(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}
	dt, err := NewFixedPoint(1, false)
	require.NoError(t, err)
	space, err := EncodeDataspaceMessage([]uint64{4}, nil)
	require.NoError(t, err)
	layout, err := EncodeCompactLayout([]byte{9, 8, 7, 6})
	require.NoError(t, err)

	w := NewObjectHeaderWriter()
	w.Add(MsgDataspace, 0, space)
	w.Add(MsgDatatype, 1, dt.Raw)
	w.Add(MsgDataLayout, 0, layout)
	buf, err := w.Encode()
	require.NoError(t, err)

	oh, err := ReadObjectHeader(f, f.put(buf), sb)
	require.NoError(t, err)
	info, err := ReadDatasetInfo(f, oh, sb)
	require.NoError(t, err)
	got, err := ReadDatasetRaw(f, info, sb)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, got)
}

func TestReadDatasetRaw_UnallocatedContiguous(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}
	dt, err := NewFloat(8)
	require.NoError(t, err)
	space, err := EncodeDataspaceMessage([]uint64{3}, nil)
	require.NoError(t, err)

	w := NewObjectHeaderWriter()
	w.Add(MsgDataspace, 0, space)
	w.Add(MsgDatatype, 1, dt.Raw)
	w.Add(MsgDataLayout, 0, EncodeContiguousLayout(^uint64(0), 24))
	buf, err := w.Encode()
	require.NoError(t, err)

	oh, err := ReadObjectHeader(f, f.put(buf), sb)
	require.NoError(t, err)
	info, err := ReadDatasetInfo(f, oh, sb)
	require.NoError(t, err)
	got, err := ReadDatasetRaw(f, info, sb)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 24), got)
}

func TestReadDatasetInfo_ExternalFiles(t *testing.T) {
	f := &memFile{}
	w := NewObjectHeaderWriter()
	w.Add(MsgExternalFiles, 0, make([]byte, 8))
	buf, err := w.Encode()
	require.NoError(t, err)
	oh, err := ReadObjectHeader(f, f.put(buf), testSuperblock())
	require.NoError(t, err)

	_, err = ReadDatasetInfo(f, oh, testSuperblock())
	assert.ErrorIs(t, err, ErrUnsupported)
}
