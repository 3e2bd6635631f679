package h5trim

import (
	"bytes"

	"github.com/scigolib/h5trim/internal/core"
)

// Type is an HDF5 datatype. Its encoded form is kept verbatim so that
// copies carry the exact bytes of the source.
type Type struct {
	msg *core.DatatypeMessage
}

// Predefined little-endian numeric types.
var (
	Int8    = mustFixed(1, true)
	Int16   = mustFixed(2, true)
	Int32   = mustFixed(4, true)
	Int64   = mustFixed(8, true)
	Uint8   = mustFixed(1, false)
	Uint16  = mustFixed(2, false)
	Uint32  = mustFixed(4, false)
	Uint64  = mustFixed(8, false)
	Float32 = mustFloat(4)
	Float64 = mustFloat(8)
)

func mustFixed(size uint32, signed bool) *Type {
	dt, err := core.NewFixedPoint(size, signed)
	if err != nil {
		panic(err)
	}
	return &Type{msg: dt}
}

func mustFloat(size uint32) *Type {
	dt, err := core.NewFloat(size)
	if err != nil {
		panic(err)
	}
	return &Type{msg: dt}
}

// FixedString is a NUL-padded ASCII string type of size bytes, the type
// PyTables gives string columns.
func FixedString(size int) (*Type, error) {
	dt, err := core.NewFixedString(uint32(size), core.StringNullPad) //nolint:gosec // G115: validated by NewFixedString
	if err != nil {
		return nil, err
	}
	return &Type{msg: dt}, nil
}

// Field is one member of a compound type.
type Field struct {
	Name   string
	Type   *Type
	Offset int
}

// Compound packs fields in order into a compound type. Offsets given in
// fields are ignored.
func Compound(fields ...Field) (*Type, error) {
	members := make([]core.CompoundMember, len(fields))
	for i, f := range fields {
		members[i].Name = f.Name
		if f.Type != nil {
			members[i].Type = f.Type.msg
		}
	}
	dt, err := core.NewCompound(members)
	if err != nil {
		return nil, err
	}
	return &Type{msg: dt}, nil
}

// Class names the datatype class, e.g. "integer" or "compound".
func (t *Type) Class() string {
	return t.msg.Class.String()
}

// Size is the element size in bytes.
func (t *Type) Size() int {
	return int(t.msg.Size)
}

// Bytes returns the encoded datatype message.
func (t *Type) Bytes() []byte {
	return append([]byte(nil), t.msg.Raw...)
}

// Fields lists the members of a compound type.
func (t *Type) Fields() []Field {
	out := make([]Field, len(t.msg.Members))
	for i, m := range t.msg.Members {
		out[i] = Field{Name: m.Name, Type: &Type{msg: m.Type}, Offset: int(m.Offset)}
	}
	return out
}

// Equal reports whether both types have the same encoding.
func (t *Type) Equal(other *Type) bool {
	return other != nil && bytes.Equal(t.msg.Raw, other.msg.Raw)
}

func (t *Type) String() string {
	return t.msg.String()
}
