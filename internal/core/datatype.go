package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DatatypeClass is the HDF5 datatype class.
type DatatypeClass uint8

// Datatype classes.
const (
	DatatypeFixed     DatatypeClass = 0
	DatatypeFloat     DatatypeClass = 1
	DatatypeTime      DatatypeClass = 2
	DatatypeString    DatatypeClass = 3
	DatatypeBitfield  DatatypeClass = 4
	DatatypeOpaque    DatatypeClass = 5
	DatatypeCompound  DatatypeClass = 6
	DatatypeReference DatatypeClass = 7
	DatatypeEnum      DatatypeClass = 8
	DatatypeVarLen    DatatypeClass = 9
	DatatypeArray     DatatypeClass = 10
	DatatypeComplex   DatatypeClass = 11
)

var classNames = map[DatatypeClass]string{
	DatatypeFixed:     "integer",
	DatatypeFloat:     "float",
	DatatypeTime:      "time",
	DatatypeString:    "string",
	DatatypeBitfield:  "bitfield",
	DatatypeOpaque:    "opaque",
	DatatypeCompound:  "compound",
	DatatypeReference: "reference",
	DatatypeEnum:      "enum",
	DatatypeVarLen:    "vlen",
	DatatypeArray:     "array",
	DatatypeComplex:   "complex",
}

func (c DatatypeClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class-%d", uint8(c))
}

// String padding kinds stored in the class bit field of string types.
const (
	StringNullTerm  = 0
	StringNullPad   = 1
	StringSpacePad  = 2
	vlenTypeString  = 1
	signedBit       = 0x08
	bigEndianBit    = 0x01
	maxDatatypeNest = 32
)

// DatatypeMessage is a decoded datatype message (type 0x0003). Raw holds
// the exact encoding so that copies never re-encode a type.
type DatatypeMessage struct {
	Class         DatatypeClass
	Version       uint8
	Size          uint32
	ClassBitField uint32
	Properties    []byte
	Raw           []byte

	Members   []CompoundMember // compound
	Base      *DatatypeMessage // enum, vlen, array, complex
	ArrayDims []uint32         // array
	EnumNames []string         // enum
}

// CompoundMember is one field of a compound type.
type CompoundMember struct {
	Name   string
	Offset uint32
	Type   *DatatypeMessage
}

// ParseDatatypeMessage decodes a datatype message, recursing into member
// and base types.
func ParseDatatypeMessage(data []byte) (*DatatypeMessage, error) {
	dt, _, err := parseDatatype(data, 0)
	return dt, err
}

func parseDatatype(data []byte, depth int) (*DatatypeMessage, int, error) {
	if depth > maxDatatypeNest {
		return nil, 0, errors.New("datatype nesting too deep")
	}
	if len(data) < 8 {
		return nil, 0, errors.New("datatype message too short")
	}

	head := binary.LittleEndian.Uint32(data[0:4])
	dt := &DatatypeMessage{
		Class:         DatatypeClass(head & 0x0F),
		Version:       uint8((head >> 4) & 0x0F), //nolint:gosec // G115: 4-bit field
		ClassBitField: head >> 8,
		Size:          binary.LittleEndian.Uint32(data[4:8]),
	}
	if dt.Version == 0 || dt.Version > 5 {
		return nil, 0, fmt.Errorf("unsupported datatype version %d", dt.Version)
	}

	n, err := dt.parseProperties(data, depth)
	if err != nil {
		return nil, 0, fmt.Errorf("%s datatype: %w", dt.Class, err)
	}
	dt.Properties = data[8:n]
	dt.Raw = data[:n]
	return dt, n, nil
}

// parseProperties decodes the class-specific part and returns the total
// encoded length of the type.
func (dt *DatatypeMessage) parseProperties(data []byte, depth int) (int, error) {
	fixed := map[DatatypeClass]int{
		DatatypeFixed: 4, DatatypeFloat: 12, DatatypeTime: 2,
		DatatypeString: 0, DatatypeBitfield: 4, DatatypeReference: 0,
	}
	if size, ok := fixed[dt.Class]; ok {
		if len(data) < 8+size {
			return 0, errors.New("properties truncated")
		}
		return 8 + size, nil
	}

	p := 8
	switch dt.Class {
	case DatatypeOpaque:
		tag := int(dt.ClassBitField & 0xFF)
		if len(data) < p+tag {
			return 0, errors.New("opaque tag truncated")
		}
		return p + tag, nil

	case DatatypeCompound:
		count := int(dt.ClassBitField & 0xFFFF)
		for i := 0; i < count; i++ {
			m, next, err := dt.parseMember(data, p, depth)
			if err != nil {
				return 0, fmt.Errorf("member %d: %w", i, err)
			}
			dt.Members = append(dt.Members, m)
			p = next
		}
		return p, nil

	case DatatypeEnum:
		base, n, err := parseDatatype(data[p:], depth+1)
		if err != nil {
			return 0, err
		}
		dt.Base = base
		p += n
		count := int(dt.ClassBitField & 0xFFFF)
		for i := 0; i < count; i++ {
			name, next, err := readName(data, p, dt.Version < 3)
			if err != nil {
				return 0, err
			}
			dt.EnumNames = append(dt.EnumNames, name)
			p = next
		}
		p += count * int(base.Size)
		if len(data) < p {
			return 0, errors.New("enum values truncated")
		}
		return p, nil

	case DatatypeVarLen, DatatypeComplex:
		base, n, err := parseDatatype(data[p:], depth+1)
		if err != nil {
			return 0, err
		}
		dt.Base = base
		return p + n, nil

	case DatatypeArray:
		if len(data) < p+1 {
			return 0, errors.New("array rank truncated")
		}
		rank := int(data[p])
		p++
		if dt.Version < 3 {
			p += 3
		}
		if len(data) < p+4*rank {
			return 0, errors.New("array dims truncated")
		}
		for i := 0; i < rank; i++ {
			dt.ArrayDims = append(dt.ArrayDims, binary.LittleEndian.Uint32(data[p:]))
			p += 4
		}
		if dt.Version < 3 {
			p += 4 * rank // permutation indices
		}
		if len(data) < p {
			return 0, errors.New("array permutation truncated")
		}
		base, n, err := parseDatatype(data[p:], depth+1)
		if err != nil {
			return 0, err
		}
		dt.Base = base
		return p + n, nil
	}
	return 0, fmt.Errorf("unknown datatype class %d", dt.Class)
}

// parseMember decodes one compound member. Versions 1 and 2 pad names to
// 8 bytes and store a 4-byte offset; version 1 also carries an inline
// array description. Version 3 stores unpadded names and an offset sized
// to fit the compound size.
func (dt *DatatypeMessage) parseMember(data []byte, p, depth int) (CompoundMember, int, error) {
	name, p, err := readName(data, p, dt.Version < 3)
	if err != nil {
		return CompoundMember{}, 0, err
	}
	m := CompoundMember{Name: name}

	width := 4
	if dt.Version >= 3 {
		width = offsetWidth(dt.Size)
	}
	if len(data) < p+width {
		return CompoundMember{}, 0, errors.New("member offset truncated")
	}
	m.Offset = uint32(readLE(data[p:], width)) //nolint:gosec // G115: width <= 4
	p += width

	if dt.Version == 1 {
		p += 28 // dimensionality, reserved, permutation, reserved, 4 dims
	}
	if len(data) < p {
		return CompoundMember{}, 0, errors.New("member header truncated")
	}
	t, n, err := parseDatatype(data[p:], depth+1)
	if err != nil {
		return CompoundMember{}, 0, err
	}
	m.Type = t
	return m, p + n, nil
}

func readName(data []byte, p int, padded bool) (string, int, error) {
	end := bytes.IndexByte(data[p:], 0)
	if end < 0 {
		return "", 0, errors.New("unterminated name")
	}
	name := string(data[p : p+end])
	next := p + end + 1
	if padded {
		next = p + int(align8(end+1))
	}
	if next > len(data) {
		return "", 0, errors.New("name padding truncated")
	}
	return name, next, nil
}

func offsetWidth(size uint32) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	case size < 1<<24:
		return 3
	default:
		return 4
	}
}

func readLE(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Signed reports whether a fixed-point type is signed.
func (dt *DatatypeMessage) Signed() bool {
	return dt.Class == DatatypeFixed && dt.ClassBitField&signedBit != 0
}

// BigEndian reports a big-endian numeric type.
func (dt *DatatypeMessage) BigEndian() bool {
	switch dt.Class {
	case DatatypeFixed, DatatypeFloat, DatatypeBitfield, DatatypeTime:
		return dt.ClassBitField&bigEndianBit != 0
	}
	return false
}

// StringPadding returns the padding kind of a fixed-length string.
func (dt *DatatypeMessage) StringPadding() uint8 {
	return uint8(dt.ClassBitField & 0x0F) //nolint:gosec // G115: 4-bit field
}

// IsVarLenString reports a variable-length string type.
func (dt *DatatypeMessage) IsVarLenString() bool {
	return dt.Class == DatatypeVarLen && dt.ClassBitField&0x0F == vlenTypeString
}

// ContainsVarLen reports whether values of this type reference the global
// heap anywhere inside them.
func (dt *DatatypeMessage) ContainsVarLen() bool {
	switch {
	case dt.Class == DatatypeVarLen:
		return true
	case dt.Class == DatatypeReference && dt.ClassBitField&0x0F == 1:
		return true // region references point into the global heap
	case dt.Base != nil:
		return dt.Base.ContainsVarLen()
	}
	for _, m := range dt.Members {
		if m.Type.ContainsVarLen() {
			return true
		}
	}
	return false
}

// String renders the type the way `h5trim ls` prints it.
func (dt *DatatypeMessage) String() string {
	switch dt.Class {
	case DatatypeFixed:
		prefix := "uint"
		if dt.Signed() {
			prefix = "int"
		}
		return fmt.Sprintf("%s%d%s", prefix, dt.Size*8, dt.orderSuffix())
	case DatatypeFloat:
		return fmt.Sprintf("float%d%s", dt.Size*8, dt.orderSuffix())
	case DatatypeString:
		return fmt.Sprintf("string[%d]", dt.Size)
	case DatatypeVarLen:
		if dt.IsVarLenString() {
			return "vlen string"
		}
		return "vlen " + dt.Base.String()
	case DatatypeArray:
		dims := make([]string, len(dt.ArrayDims))
		for i, d := range dt.ArrayDims {
			dims[i] = fmt.Sprint(d)
		}
		return fmt.Sprintf("%s[%s]", dt.Base, strings.Join(dims, ","))
	case DatatypeEnum:
		return fmt.Sprintf("enum(%s){%s}", dt.Base, strings.Join(dt.EnumNames, ","))
	case DatatypeCompound:
		fields := make([]string, len(dt.Members))
		for i, m := range dt.Members {
			fields[i] = fmt.Sprintf("%s@%d:%s", m.Name, m.Offset, m.Type)
		}
		return fmt.Sprintf("compound[%d]{%s}", dt.Size, strings.Join(fields, ", "))
	default:
		return fmt.Sprintf("%s[%d]", dt.Class, dt.Size)
	}
}

func (dt *DatatypeMessage) orderSuffix() string {
	if dt.BigEndian() {
		return "be"
	}
	return ""
}
