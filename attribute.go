package h5trim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/structures"
	"github.com/scigolib/h5trim/internal/utils"
)

// Attribute is a named value attached to a group, dataset or committed
// datatype.
type Attribute struct {
	Name    string
	CharSet uint8
	Type    *Type

	// Shape is nil for scalars.
	Shape []uint64

	// Data holds the raw elements. Variable-length elements are global
	// heap references; use VarLen to read them.
	Data []byte

	msg  *core.Attribute
	file *File
}

// loadAttributes gathers compact and dense attributes of an object header.
func (f *File) loadAttributes(header *core.ObjectHeader) ([]*Attribute, error) {
	var raw [][]byte
	for _, msg := range header.FindAll(core.MsgAttribute) {
		if msg.Shared() {
			return nil, fmt.Errorf("%w: shared attribute message at 0x%X", ErrUnsupported, header.Address)
		}
		raw = append(raw, msg.Data)
	}

	if msg := header.Find(core.MsgAttributeInfo); msg != nil {
		info, err := core.ParseAttributeInfoMessage(msg.Data, f.sb)
		if err != nil {
			return nil, err
		}
		if info.IsDense() {
			dense, err := f.denseAttributes(info)
			if err != nil {
				return nil, err
			}
			raw = append(raw, dense...)
		}
	}

	attrs := make([]*Attribute, 0, len(raw))
	for _, data := range raw {
		a, err := f.decodeAttribute(data)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func (f *File) denseAttributes(info *core.AttributeInfoMessage) ([][]byte, error) {
	heap, err := structures.OpenFractalHeap(f.r, info.FractalHeapAddress, f.sb)
	if err != nil {
		return nil, err
	}
	index, err := structures.OpenBTreeV2(f.r, info.NameBTreeAddress, f.sb)
	if err != nil {
		return nil, err
	}
	records, err := index.Records()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(records))
	for _, rec := range records {
		id, err := index.HeapID(rec)
		if err != nil {
			return nil, err
		}
		obj, err := heap.Object(id)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (f *File) decodeAttribute(data []byte) (*Attribute, error) {
	msg, err := core.ParseAttributeMessage(data, f.sb)
	if err != nil {
		return nil, err
	}
	if msg.SharedDatatype != nil {
		dt, err := core.ReadCommittedDatatype(f.r, msg.SharedDatatype, f.sb)
		if err != nil {
			return nil, utils.WrapError("attribute "+msg.Name, err)
		}
		if err := msg.ResolveDatatype(dt); err != nil {
			return nil, err
		}
	}
	a := &Attribute{
		Name:    msg.Name,
		CharSet: msg.CharSet,
		Type:    &Type{msg: msg.Datatype},
		Data:    msg.Data,
		msg:     msg,
		file:    f,
	}
	if msg.Dataspace.Type == core.DataspaceSimple {
		a.Shape = msg.Dataspace.Dimensions
	}
	return a, nil
}

// Len is the number of elements: 1 for a scalar, 0 for a null dataspace.
func (a *Attribute) Len() int {
	n, err := a.msg.Dataspace.ElementCount()
	if err != nil || a.msg.Dataspace.Type == core.DataspaceNull {
		return 0
	}
	return int(n) //nolint:gosec // G115: bounded by the attribute size limit
}

func (a *Attribute) single() error {
	if a.Len() != 1 {
		return fmt.Errorf("attribute %q has %d elements, want 1", a.Name, a.Len())
	}
	return nil
}

// AsString returns a single fixed- or variable-length string value.
func (a *Attribute) AsString() (string, error) {
	if err := a.single(); err != nil {
		return "", err
	}
	if a.Type.msg.IsVarLenString() {
		values, err := a.VarLen()
		if err != nil {
			return "", err
		}
		return string(values[0]), nil
	}
	return a.msg.AsString()
}

// AsInt64 returns a single integer value.
func (a *Attribute) AsInt64() (int64, error) {
	if err := a.single(); err != nil {
		return 0, err
	}
	dt := a.Type.msg
	if dt.Class != core.DatatypeFixed {
		return 0, fmt.Errorf("attribute %q is %s, not an integer", a.Name, dt.Class)
	}
	u, err := readUnsigned(a.Data, int(dt.Size), dt.BigEndian())
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	if dt.Signed() && dt.Size < 8 {
		shift := 64 - 8*dt.Size
		return int64(u<<shift) >> shift, nil //nolint:gosec // G115: sign extension
	}
	return int64(u), nil //nolint:gosec // G115: two's complement reinterpretation
}

// AsFloat64 returns a single floating-point or integer value as float64.
func (a *Attribute) AsFloat64() (float64, error) {
	dt := a.Type.msg
	switch dt.Class {
	case core.DatatypeFixed:
		v, err := a.AsInt64()
		if err != nil {
			return 0, err
		}
		if !dt.Signed() {
			return float64(uint64(v)), nil //nolint:gosec // G115: reinterpretation of unsigned values
		}
		return float64(v), nil
	case core.DatatypeFloat:
		if err := a.single(); err != nil {
			return 0, err
		}
		u, err := readUnsigned(a.Data, int(dt.Size), dt.BigEndian())
		if err != nil {
			return 0, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		switch dt.Size {
		case 4:
			return float64(math.Float32frombits(uint32(u))), nil //nolint:gosec // G115: 4-byte value
		case 8:
			return math.Float64frombits(u), nil
		}
	}
	return 0, fmt.Errorf("attribute %q is %s, not a number", a.Name, dt)
}

func readUnsigned(b []byte, size int, bigEndian bool) (uint64, error) {
	if len(b) < size {
		return 0, utils.Truncated("value", size, len(b))
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		if bigEndian {
			return uint64(binary.BigEndian.Uint16(b)), nil
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		if bigEndian {
			return uint64(binary.BigEndian.Uint32(b)), nil
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		if bigEndian {
			return binary.BigEndian.Uint64(b), nil
		}
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported value size %d", size)
}

// VarLen returns the heap data of every element of a variable-length
// attribute.
func (a *Attribute) VarLen() ([][]byte, error) {
	dt := a.Type.msg
	if dt.Class != core.DatatypeVarLen {
		return nil, fmt.Errorf("attribute %q is not variable-length", a.Name)
	}
	if err := a.file.checkOpen(); err != nil {
		return nil, err
	}
	refSize := int(dt.Size)
	n := a.Len()
	if len(a.Data) < n*refSize {
		return nil, utils.Truncated("attribute "+a.Name, n*refSize, len(a.Data))
	}

	out := make([][]byte, n)
	for i := range out {
		ref, err := core.ParseVarLenRef(a.Data[i*refSize:(i+1)*refSize], a.file.sb)
		if err != nil {
			return nil, err
		}
		if ref.Length == 0 || !utils.IsDefined(ref.HeapAddress) || ref.HeapAddress == 0 {
			out[i] = []byte{}
			continue
		}
		heap, err := a.file.globalHeap(ref.HeapAddress)
		if err != nil {
			return nil, err
		}
		if out[i], err = heap.Object(ref.Index); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *File) globalHeap(addr uint64) (*core.GlobalHeapCollection, error) {
	if gc, ok := f.heaps[addr]; ok {
		return gc, nil
	}
	gc, err := core.ReadGlobalHeapCollection(f.r, addr, f.sb)
	if err != nil {
		return nil, err
	}
	f.heaps[addr] = gc
	return gc, nil
}
