package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectHeaderWriter_RoundTrip(t *testing.T) {
	space, err := EncodeDataspaceMessage([]uint64{10}, nil)
	require.NoError(t, err)
	dt, err := NewFixedPoint(4, true)
	require.NoError(t, err)

	w := NewObjectHeaderWriter()
	w.Add(MsgDataspace, 0, space)
	w.Add(MsgDatatype, 1, dt.Raw)
	w.Add(MsgDataLayout, 0, EncodeContiguousLayout(4096, 40))
	w.RefCount = 3

	buf, err := w.Encode()
	require.NoError(t, err)
	assert.Equal(t, int(w.Size()), len(buf))

	f := &memFile{}
	addr := f.put(buf)
	oh, err := ReadObjectHeader(f, addr, testSuperblock())
	require.NoError(t, err)

	assert.Equal(t, uint8(1), oh.Version)
	assert.Equal(t, uint32(3), oh.RefCount)
	assert.Equal(t, ObjectTypeDataset, oh.Type)
	require.Len(t, oh.Messages, 3)
	assert.Equal(t, uint8(1), oh.Find(MsgDatatype).Flags)
	assert.Nil(t, oh.Find(MsgFilterPipeline))

	info, err := ReadDatasetInfo(f, oh, testSuperblock())
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, info.Dataspace.Dimensions)
	assert.Equal(t, "int32", info.Datatype.String())
	assert.Equal(t, LayoutContiguous, info.Layout.Class)
	assert.Equal(t, uint64(40), info.Layout.Size)
}

func TestObjectHeaderWriter_Empty(t *testing.T) {
	buf, err := NewObjectHeaderWriter().Encode()
	require.NoError(t, err)

	f := &memFile{}
	oh, err := ReadObjectHeader(f, f.put(buf), testSuperblock())
	require.NoError(t, err)
	require.Len(t, oh.Messages, 1)
	assert.Equal(t, MsgNil, oh.Messages[0].Type)
	assert.Equal(t, ObjectTypeUnknown, oh.Type)
}

func TestObjectHeaderWriter_MessageTooLarge(t *testing.T) {
	w := NewObjectHeaderWriter()
	w.Add(MsgAttribute, 0, make([]byte, 70000))
	_, err := w.Encode()
	require.Error(t, err)
}

func TestReadObjectHeader_Continuation(t *testing.T) {
	sb := testSuperblock()
	f := &memFile{}

	// The second chunk is a bare run of v1 messages.
	stab := EncodeSymbolTableMessage(1000, 2000)
	second := make([]byte, 8+len(stab))
	second[0] = byte(MsgSymbolTable)
	second[2] = byte(len(stab))
	copy(second[8:], stab)
	chunkAddr := f.put(second)

	cont := make([]byte, 16)
	putLE64(cont, chunkAddr)
	putLE64(cont[8:], uint64(len(second)))
	w := NewObjectHeaderWriter()
	w.Add(MsgContinuation, 0, cont)
	buf, err := w.Encode()
	require.NoError(t, err)
	// Two messages in total, one per chunk.
	buf[2] = 2

	oh, err := ReadObjectHeader(f, f.put(buf), sb)
	require.NoError(t, err)
	assert.Equal(t, ObjectTypeGroup, oh.Type)
	msg := oh.Find(MsgSymbolTable)
	require.NotNil(t, msg)
	st, err := ParseSymbolTableMessage(msg.Data, sb)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), st.BTreeAddress)
	assert.Equal(t, uint64(2000), st.HeapAddress)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
