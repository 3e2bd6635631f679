package h5trim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigolib/h5trim/internal/core"
)

// SetAttr attaches an attribute to the object at path, replacing any
// attribute of the same name.
//
// Supported values are Go integers and floats, strings (stored as
// fixed-length strings) and slices of those, which become
// one-dimensional attributes.
//
// Parameters:
//   - path: group or dataset the attribute is attached to
//   - name: attribute name
//   - value: int, int8..int64, uint8..uint64, float32, float64, string,
//     or a slice of int32, int64, uint64, float32, float64 or string
//
// Returns:
//   - error: ErrNotFound if path is missing, or an error for unsupported values
//
// Example:
//
//	w.SetAttr("/", "CTA PRODUCT ID", "dl2")
//	w.SetAttr("/dl1/event/subarray/trigger", "NROWS", int64(100))
func (w *Writer) SetAttr(path, name string, value any) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	n, err := w.lookup(path)
	if err != nil {
		return err
	}
	msg, err := attributeFromValue(name, value)
	if err != nil {
		return err
	}
	n.setAttr(&wattr{msg: msg})
	return nil
}

// setAttr appends a or replaces the attribute of the same name in place.
// It reports whether an attribute was replaced.
func (n *wnode) setAttr(a *wattr) bool {
	for i, old := range n.attrs {
		if old.msg.Name == a.msg.Name {
			n.attrs[i] = a
			return true
		}
	}
	n.attrs = append(n.attrs, a)
	return false
}

func attributeFromValue(name string, value any) (*core.Attribute, error) {
	var (
		dt   *Type
		dims []uint64
		data []byte
		err  error
	)
	le := binary.LittleEndian
	switch v := value.(type) {
	case int:
		dt, data = Int64, le.AppendUint64(nil, uint64(v)) //nolint:gosec // G115: two's complement
	case int8:
		dt, data = Int8, []byte{byte(v)}
	case int16:
		dt, data = Int16, le.AppendUint16(nil, uint16(v)) //nolint:gosec // G115: two's complement
	case int32:
		dt, data = Int32, le.AppendUint32(nil, uint32(v)) //nolint:gosec // G115: two's complement
	case int64:
		dt, data = Int64, le.AppendUint64(nil, uint64(v)) //nolint:gosec // G115: two's complement
	case uint8:
		dt, data = Uint8, []byte{v}
	case uint16:
		dt, data = Uint16, le.AppendUint16(nil, v)
	case uint32:
		dt, data = Uint32, le.AppendUint32(nil, v)
	case uint64:
		dt, data = Uint64, le.AppendUint64(nil, v)
	case float32:
		dt, data = Float32, le.AppendUint32(nil, math.Float32bits(v))
	case float64:
		dt, data = Float64, le.AppendUint64(nil, math.Float64bits(v))
	case string:
		if dt, err = FixedString(max(len(v), 1)); err != nil {
			return nil, err
		}
		data = make([]byte, dt.Size())
		copy(data, v)
	case []int64:
		dt, dims = Int64, []uint64{uint64(len(v))}
		for _, x := range v {
			data = le.AppendUint64(data, uint64(x)) //nolint:gosec // G115: two's complement
		}
	case []int32:
		dt, dims = Int32, []uint64{uint64(len(v))}
		for _, x := range v {
			data = le.AppendUint32(data, uint32(x)) //nolint:gosec // G115: two's complement
		}
	case []uint64:
		dt, dims = Uint64, []uint64{uint64(len(v))}
		for _, x := range v {
			data = le.AppendUint64(data, x)
		}
	case []float32:
		dt, dims = Float32, []uint64{uint64(len(v))}
		for _, x := range v {
			data = le.AppendUint32(data, math.Float32bits(x))
		}
	case []float64:
		dt, dims = Float64, []uint64{uint64(len(v))}
		for _, x := range v {
			data = le.AppendUint64(data, math.Float64bits(x))
		}
	case []string:
		width := 1
		for _, s := range v {
			width = max(width, len(s))
		}
		if dt, err = FixedString(width); err != nil {
			return nil, err
		}
		dims = []uint64{uint64(len(v))}
		data = make([]byte, width*len(v))
		for i, s := range v {
			copy(data[i*width:], s)
		}
	default:
		return nil, fmt.Errorf("attribute %q: unsupported value type %T", name, value)
	}

	space, err := core.EncodeDataspaceMessage(dims, nil)
	if err != nil {
		return nil, err
	}
	ds := &core.DataspaceMessage{Version: 1, Type: core.DataspaceScalar}
	if dims != nil {
		ds.Type, ds.Dimensions = core.DataspaceSimple, dims
	}
	return &core.Attribute{
		Name:         name,
		Datatype:     dt.msg,
		Dataspace:    ds,
		DataspaceRaw: space,
		Data:         data,
	}, nil
}
