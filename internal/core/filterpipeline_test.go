package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5trim/internal/writer"
)

func TestFilterPipeline_ParseWriterEncoding(t *testing.T) {
	pipeline := writer.NewFilterPipeline(
		writer.NewShuffleFilter(8),
		writer.NewDeflateFilter(4),
		writer.NewFletcher32Filter(),
	)
	encoded, err := pipeline.EncodePipelineMessage()
	require.NoError(t, err)

	msg, err := ParseFilterPipelineMessage(encoded)
	require.NoError(t, err)
	require.Len(t, msg.Filters, 3)
	assert.Equal(t, FilterShuffle, msg.Filters[0].ID)
	assert.Equal(t, []uint32{8}, msg.Filters[0].ClientData)
	assert.Equal(t, "shuffle", msg.Filters[0].Name)
	assert.Equal(t, FilterDeflate, msg.Filters[1].ID)
	assert.Equal(t, []uint32{4}, msg.Filters[1].ClientData)
	assert.Equal(t, FilterFletcher, msg.Filters[2].ID)
	assert.Empty(t, msg.Filters[2].ClientData)
	assert.True(t, msg.Supported())

	data := bytes.Repeat([]byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}, 64)
	stored, err := pipeline.Apply(data)
	require.NoError(t, err)
	decoded, err := msg.Decode(stored, 0)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestFilterPipeline_ParseV2(t *testing.T) {
	// version 2, one deflate filter without name, one client value
	data := []byte{2, 1, 1, 0, 0, 0, 1, 0, 6, 0, 0, 0}
	msg, err := ParseFilterPipelineMessage(data)
	require.NoError(t, err)
	require.Len(t, msg.Filters, 1)
	assert.Equal(t, FilterDeflate, msg.Filters[0].ID)
	assert.Equal(t, []uint32{6}, msg.Filters[0].ClientData)
}

func TestFilterPipeline_MaskSkipsFilter(t *testing.T) {
	pipeline := writer.NewFilterPipeline(writer.NewDeflateFilter(6))
	encoded, err := pipeline.EncodePipelineMessage()
	require.NoError(t, err)
	msg, err := ParseFilterPipelineMessage(encoded)
	require.NoError(t, err)

	raw := []byte("stored without compression")
	out, err := msg.Decode(raw, 0x1)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestFilterPipeline_Unsupported(t *testing.T) {
	msg := &FilterPipelineMessage{Version: 2, Filters: []Filter{{ID: FilterSZIP}}}
	assert.False(t, msg.Supported())
	_, err := msg.Decode([]byte{1}, 0)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestFilterPipeline_NilDecode(t *testing.T) {
	var msg *FilterPipelineMessage
	out, err := msg.Decode([]byte{9}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, out)
}
