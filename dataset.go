package h5trim

import (
	"github.com/scigolib/h5trim/internal/core"
)

// Dataset is an n-dimensional array of elements of one datatype. PyTables
// tables are one-dimensional datasets of a compound type.
type Dataset struct {
	node
	info *core.DatasetInfo
}

func (d *Dataset) load() (*core.DatasetInfo, error) {
	if d.info != nil {
		return d.info, d.file.checkOpen()
	}
	header, err := d.header()
	if err != nil {
		return nil, err
	}
	info, err := core.ReadDatasetInfo(d.file.r, header, d.file.sb)
	if err != nil {
		return nil, err
	}
	d.info = info
	return info, nil
}

// Shape returns the current dimensions. A scalar dataset has none.
func (d *Dataset) Shape() ([]uint64, error) {
	info, err := d.load()
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), info.Dataspace.Dimensions...), nil
}

// NumRows is the length of the first dimension, or 1 for a scalar.
func (d *Dataset) NumRows() (uint64, error) {
	shape, err := d.Shape()
	if err != nil {
		return 0, err
	}
	if len(shape) == 0 {
		return 1, nil
	}
	return shape[0], nil
}

// Datatype returns the element type, with committed types resolved.
func (d *Dataset) Datatype() (*Type, error) {
	info, err := d.load()
	if err != nil {
		return nil, err
	}
	return &Type{msg: info.Datatype}, nil
}

// Layout names the storage layout: compact, contiguous or chunked.
func (d *Dataset) Layout() (string, error) {
	info, err := d.load()
	if err != nil {
		return "", err
	}
	return info.Layout.Class.String(), nil
}

// ChunkShape returns the chunk dimensions of a chunked dataset, or nil.
func (d *Dataset) ChunkShape() ([]uint64, error) {
	info, err := d.load()
	if err != nil || !info.Layout.IsChunked() {
		return nil, err
	}
	dims := info.Layout.ChunkDims[:len(info.Layout.ChunkDims)-1]
	out := make([]uint64, len(dims))
	for i, c := range dims {
		out[i] = uint64(c)
	}
	return out, nil
}

// Filters lists the names of the filters applied to chunks, in order.
func (d *Dataset) Filters() ([]string, error) {
	info, err := d.load()
	if err != nil || info.Filters == nil {
		return nil, err
	}
	names := make([]string, len(info.Filters.Filters))
	for i, f := range info.Filters.Filters {
		names[i] = f.ID.String()
	}
	return names, nil
}

// ReadRaw returns the whole dataset as a row-major byte image, with
// chunks decoded. Elements are in the file's byte order.
func (d *Dataset) ReadRaw() ([]byte, error) {
	info, err := d.load()
	if err != nil {
		return nil, err
	}
	return core.ReadDatasetRaw(d.file.r, info, d.file.sb)
}
