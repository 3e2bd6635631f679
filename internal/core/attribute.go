package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
)

// Attribute is a decoded attribute message (type 0x000C).
type Attribute struct {
	Name      string
	CharSet   uint8
	Datatype  *DatatypeMessage
	Dataspace *DataspaceMessage
	Data      []byte

	// DataspaceRaw is the encoded dataspace, reused when the attribute is
	// written again.
	DataspaceRaw []byte

	// SharedDatatype is set when the datatype field was a reference to a
	// committed datatype. Datatype is nil until the caller resolves it.
	SharedDatatype *SharedMessage
}

// Attribute message flags (versions 2 and 3).
const (
	attrFlagSharedType  = 0x01
	attrFlagSharedSpace = 0x02
)

// ParseAttributeMessage decodes attribute message versions 1 to 3. Version
// 1 pads the name, datatype and dataspace to 8 bytes; later versions do not.
func ParseAttributeMessage(data []byte, sb *Superblock) (*Attribute, error) {
	if len(data) < 8 {
		return nil, utils.Truncated("attribute message", 8, len(data))
	}
	version, flags := data[0], data[1]
	nameSize := int(binary.LittleEndian.Uint16(data[2:]))
	typeSize := int(binary.LittleEndian.Uint16(data[4:]))
	spaceSize := int(binary.LittleEndian.Uint16(data[6:]))
	p := 8

	attr := &Attribute{}
	pad := func(n int) int { return n }
	switch version {
	case 1:
		pad = func(n int) int { return (n + 7) &^ 7 }
	case 2:
	case 3:
		if len(data) < 9 {
			return nil, utils.Truncated("attribute message", 9, len(data))
		}
		attr.CharSet = data[8]
		p = 9
	default:
		return nil, fmt.Errorf("unsupported attribute message version %d", version)
	}
	if flags&attrFlagSharedSpace != 0 {
		return nil, errors.New("shared dataspaces in attributes are not supported")
	}

	if nameSize == 0 || len(data) < p+pad(nameSize) {
		return nil, utils.Truncated("attribute name", p+pad(nameSize), len(data))
	}
	attr.Name = cString(data[p : p+nameSize])
	p += pad(nameSize)

	if len(data) < p+pad(typeSize) {
		return nil, utils.Truncated("attribute datatype", p+pad(typeSize), len(data))
	}
	typeData := data[p : p+typeSize]
	p += pad(typeSize)
	if flags&attrFlagSharedType != 0 {
		ref, err := ParseSharedMessage(typeData, sb)
		if err != nil {
			return nil, utils.WrapError("attribute "+attr.Name, err)
		}
		attr.SharedDatatype = ref
	} else {
		dt, err := ParseDatatypeMessage(typeData)
		if err != nil {
			return nil, utils.WrapError("attribute "+attr.Name, err)
		}
		attr.Datatype = dt
	}

	if len(data) < p+pad(spaceSize) {
		return nil, utils.Truncated("attribute dataspace", p+pad(spaceSize), len(data))
	}
	attr.DataspaceRaw = data[p : p+spaceSize]
	ds, err := ParseDataspaceMessage(attr.DataspaceRaw, sb)
	if err != nil {
		return nil, utils.WrapError("attribute "+attr.Name, err)
	}
	attr.Dataspace = ds
	p += pad(spaceSize)

	attr.Data = data[p:]
	if attr.Datatype != nil {
		if err := attr.trimData(); err != nil {
			return nil, err
		}
	}
	return attr, nil
}

// trimData cuts Data to the size implied by the datatype and dataspace;
// version 1 messages may carry trailing padding.
func (a *Attribute) trimData() error {
	n, err := a.Dataspace.ElementCount()
	if err != nil {
		return err
	}
	size, err := utils.SafeMultiply(n, uint64(a.Datatype.Size))
	if err != nil {
		return err
	}
	if size > utils.MaxAttributeSize {
		return fmt.Errorf("attribute %q: value of %d bytes exceeds limit", a.Name, size)
	}
	if uint64(len(a.Data)) < size {
		return utils.Truncated("attribute "+a.Name+" value", int(size), len(a.Data))
	}
	a.Data = a.Data[:size]
	return nil
}

// ResolveDatatype sets the datatype of an attribute whose datatype field
// was shared and trims its data accordingly.
func (a *Attribute) ResolveDatatype(dt *DatatypeMessage) error {
	a.Datatype = dt
	a.SharedDatatype = nil
	return a.trimData()
}

// EncodeAttributeMessage encodes a as a version 1 attribute, or version 3
// when the name is UTF-8. The datatype is always written inline.
func EncodeAttributeMessage(a *Attribute) ([]byte, error) {
	if a.Name == "" {
		return nil, errors.New("attribute name cannot be empty")
	}
	if a.Datatype == nil {
		return nil, fmt.Errorf("attribute %q: unresolved datatype", a.Name)
	}
	typeData, err := EncodeDatatypeMessage(a.Datatype)
	if err != nil {
		return nil, utils.WrapError("attribute "+a.Name, err)
	}
	spaceData := a.DataspaceRaw
	if spaceData == nil {
		if spaceData, err = EncodeDataspaceMessage(a.Dataspace.Dimensions, a.Dataspace.MaxDims); err != nil {
			return nil, err
		}
	}

	nameSize := len(a.Name) + 1
	version := uint8(1)
	pad := func(n int) int { return (n + 7) &^ 7 }
	head := 8
	if a.CharSet != 0 {
		version = 3
		pad = func(n int) int { return n }
		head = 9
	}
	if nameSize > 0xFFFF || len(typeData) > 0xFFFF || len(spaceData) > 0xFFFF {
		return nil, fmt.Errorf("attribute %q: header fields too large", a.Name)
	}

	size := head + pad(nameSize) + pad(len(typeData)) + pad(len(spaceData)) + len(a.Data)
	if size > maxMessageSize {
		return nil, fmt.Errorf("attribute %q: %d bytes does not fit a compact attribute", a.Name, size)
	}
	buf := make([]byte, size)
	buf[0] = version
	binary.LittleEndian.PutUint16(buf[2:], uint16(nameSize))       //nolint:gosec // G115: checked above
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(typeData)))  //nolint:gosec // G115: checked above
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(spaceData))) //nolint:gosec // G115: checked above
	if version == 3 {
		buf[8] = a.CharSet
	}
	p := head
	copy(buf[p:], a.Name)
	p += pad(nameSize)
	copy(buf[p:], typeData)
	p += pad(len(typeData))
	copy(buf[p:], spaceData)
	p += pad(len(spaceData))
	copy(buf[p:], a.Data)
	return buf, nil
}

// AsString interprets a scalar or one-element fixed-length string
// attribute. Padding is stripped according to the string type.
func (a *Attribute) AsString() (string, error) {
	if a.Datatype == nil || a.Datatype.Class != DatatypeString {
		return "", fmt.Errorf("attribute %q is not a fixed-length string", a.Name)
	}
	return DecodeFixedString(a.Data, a.Datatype.StringPadding()), nil
}

// DecodeFixedString strips NUL or space padding from a fixed-length string.
func DecodeFixedString(b []byte, padding uint8) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	if padding == StringSpacePad {
		for end > 0 && b[end-1] == ' ' {
			end--
		}
	}
	return string(b[:end])
}
