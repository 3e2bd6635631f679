package core

import (
	"encoding/binary"
	"fmt"
)

// NewFixedPoint returns a little-endian integer type of 1, 2, 4 or 8 bytes.
func NewFixedPoint(size uint32, signed bool) (*DatatypeMessage, error) {
	if size != 1 && size != 2 && size != 4 && size != 8 {
		return nil, fmt.Errorf("invalid integer size %d", size)
	}
	var bitField uint32
	if signed {
		bitField |= signedBit
	}
	props := make([]byte, 4)
	binary.LittleEndian.PutUint16(props[2:], uint16(size*8)) //nolint:gosec // G115: size <= 8
	return newDatatype(DatatypeFixed, 1, bitField, size, props), nil
}

// NewFloat returns a little-endian IEEE 754 type of 4 or 8 bytes.
func NewFloat(size uint32) (*DatatypeMessage, error) {
	var expLoc, expSize, mantSize uint8
	var bias uint32
	switch size {
	case 4:
		expLoc, expSize, mantSize, bias = 23, 8, 23, 127
	case 8:
		expLoc, expSize, mantSize, bias = 52, 11, 52, 1023
	default:
		return nil, fmt.Errorf("invalid float size %d", size)
	}

	signLoc := size*8 - 1
	bitField := uint32(0x20) | signLoc<<8 // implied leading mantissa bit
	props := make([]byte, 12)
	binary.LittleEndian.PutUint16(props[2:], uint16(size*8)) //nolint:gosec // G115: size <= 8
	props[4] = expLoc
	props[5] = expSize
	props[7] = mantSize
	binary.LittleEndian.PutUint32(props[8:], bias)
	return newDatatype(DatatypeFloat, 1, bitField, size, props), nil
}

// NewFixedString returns an ASCII string type of size bytes with the given
// padding (StringNullTerm, StringNullPad or StringSpacePad).
func NewFixedString(size uint32, padding uint8) (*DatatypeMessage, error) {
	if size == 0 {
		return nil, fmt.Errorf("fixed-length strings must have size > 0")
	}
	if padding > StringSpacePad {
		return nil, fmt.Errorf("invalid string padding %d", padding)
	}
	return newDatatype(DatatypeString, 1, uint32(padding), size, nil), nil
}

// NewVarLenString returns a variable-length ASCII string type. Elements are
// global heap references of 4+offsetSize+4 bytes.
func NewVarLenString(offsetSize uint8) *DatatypeMessage {
	base, _ := NewFixedPoint(1, false)
	size := 8 + uint32(offsetSize)
	dt := newDatatype(DatatypeVarLen, 1, vlenTypeString, size, base.Raw)
	dt.Base = base
	return dt
}

// NewCompound packs members in order and returns a version 1 compound
// type. Member offsets are assigned here; the Offset fields of members
// are overwritten.
func NewCompound(members []CompoundMember) (*DatatypeMessage, error) {
	if len(members) == 0 || len(members) > 0xFFFF {
		return nil, fmt.Errorf("compound needs 1..65535 members, got %d", len(members))
	}

	var props []byte
	var offset uint32
	seen := make(map[string]bool, len(members))
	for i := range members {
		m := &members[i]
		if m.Name == "" || seen[m.Name] {
			return nil, fmt.Errorf("member %d: empty or duplicate name %q", i, m.Name)
		}
		if m.Type == nil || m.Type.Raw == nil {
			return nil, fmt.Errorf("member %q: missing type", m.Name)
		}
		seen[m.Name] = true
		m.Offset = offset

		name := make([]byte, align8(len(m.Name)+1))
		copy(name, m.Name)
		props = append(props, name...)

		var fixed [32]byte
		binary.LittleEndian.PutUint32(fixed[0:], offset)
		props = append(props, fixed[:]...)
		props = append(props, m.Type.Raw...)
		offset += m.Type.Size
	}

	dt := newDatatype(DatatypeCompound, 1, uint32(len(members)), offset, props) //nolint:gosec // G115: checked above
	dt.Members = members
	return dt, nil
}

func newDatatype(class DatatypeClass, version uint8, bitField, size uint32, props []byte) *DatatypeMessage {
	raw := make([]byte, 8+len(props))
	binary.LittleEndian.PutUint32(raw[0:], uint32(class)|uint32(version)<<4|bitField<<8)
	binary.LittleEndian.PutUint32(raw[4:], size)
	copy(raw[8:], props)
	return &DatatypeMessage{
		Class:         class,
		Version:       version,
		Size:          size,
		ClassBitField: bitField,
		Properties:    raw[8:],
		Raw:           raw,
	}
}

// EncodeDatatypeMessage returns the encoded form of dt.
func EncodeDatatypeMessage(dt *DatatypeMessage) ([]byte, error) {
	if dt == nil || len(dt.Raw) < 8 {
		return nil, fmt.Errorf("datatype has no encoding")
	}
	if dt.Size == 0 {
		return nil, fmt.Errorf("datatype size cannot be 0")
	}
	out := make([]byte, len(dt.Raw))
	copy(out, dt.Raw)
	return out, nil
}
