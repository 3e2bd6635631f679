package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttribute_EncodeParse(t *testing.T) {
	sb := testSuperblock()
	str, err := NewFixedString(12, StringNullTerm)
	require.NoError(t, err)
	scalar, err := EncodeDataspaceMessage(nil, nil)
	require.NoError(t, err)
	space, err := ParseDataspaceMessage(scalar, sb)
	require.NoError(t, err)

	attr := &Attribute{
		Name:      "CTA PRODUCT ID",
		Datatype:  str,
		Dataspace: space,
		Data:      []byte("prod5\x00\x00\x00\x00\x00\x00\x00"),
	}
	buf, err := EncodeAttributeMessage(attr)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), buf[0])

	got, err := ParseAttributeMessage(buf, sb)
	require.NoError(t, err)
	assert.Equal(t, attr.Name, got.Name)
	assert.Equal(t, DatatypeString, got.Datatype.Class)
	assert.Equal(t, DataspaceScalar, got.Dataspace.Type)
	assert.Equal(t, attr.Data, got.Data)
	s, err := got.AsString()
	require.NoError(t, err)
	assert.Equal(t, "prod5", s)
}

func TestAttribute_UTF8UsesVersion3(t *testing.T) {
	sb := testSuperblock()
	i64, err := NewFixedPoint(8, true)
	require.NoError(t, err)
	raw, err := EncodeDataspaceMessage([]uint64{2}, nil)
	require.NoError(t, err)
	space, err := ParseDataspaceMessage(raw, sb)
	require.NoError(t, err)

	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 3)
	binary.LittleEndian.PutUint64(data[8:], ^uint64(0))
	attr := &Attribute{Name: "énergie", CharSet: 1, Datatype: i64, Dataspace: space, Data: data}

	buf, err := EncodeAttributeMessage(attr)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), buf[0])

	got, err := ParseAttributeMessage(buf, sb)
	require.NoError(t, err)
	assert.Equal(t, "énergie", got.Name)
	assert.Equal(t, uint8(1), got.CharSet)
	assert.Equal(t, []uint64{2}, got.Dataspace.Dimensions)
	assert.Equal(t, data, got.Data)
}

func TestAttribute_TruncatedValue(t *testing.T) {
	sb := testSuperblock()
	f64, err := NewFloat(8)
	require.NoError(t, err)
	raw, err := EncodeDataspaceMessage([]uint64{4}, nil)
	require.NoError(t, err)
	space, err := ParseDataspaceMessage(raw, sb)
	require.NoError(t, err)

	buf, err := EncodeAttributeMessage(&Attribute{Name: "x", Datatype: f64, Dataspace: space, Data: make([]byte, 32)})
	require.NoError(t, err)
	_, err = ParseAttributeMessage(buf[:len(buf)-8], sb)
	require.Error(t, err)
}

func TestAttribute_EncodeErrors(t *testing.T) {
	_, err := EncodeAttributeMessage(&Attribute{})
	require.Error(t, err)
	_, err = EncodeAttributeMessage(&Attribute{Name: "shared"})
	require.Error(t, err)
}

func TestDecodeFixedString(t *testing.T) {
	assert.Equal(t, "abc", DecodeFixedString([]byte("abc\x00\x00"), StringNullTerm))
	assert.Equal(t, "abc", DecodeFixedString([]byte("abc  "), StringSpacePad))
	assert.Equal(t, "abc  ", DecodeFixedString([]byte("abc  "), StringNullPad))
	assert.Equal(t, "", DecodeFixedString(nil, StringNullTerm))
}
