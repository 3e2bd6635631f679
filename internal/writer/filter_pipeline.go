package writer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FilterID is an HDF5 filter identifier.
type FilterID uint16

// Filters the writer can apply.
const (
	FilterDeflate    FilterID = 1
	FilterShuffle    FilterID = 2
	FilterFletcher32 FilterID = 3
)

// Filter transforms chunk data on write and reverses it on read.
type Filter interface {
	ID() FilterID
	Name() string
	Apply(data []byte) ([]byte, error)
	Remove(data []byte) ([]byte, error)

	// Encode returns the pipeline flags and client data values.
	Encode() (flags uint16, cdValues []uint32)
}

// FilterPipeline applies filters in order on write and in reverse on read,
// e.g. shuffle then deflate then fletcher32.
type FilterPipeline struct {
	filters []Filter
}

// NewFilterPipeline creates a pipeline from filters in write order.
func NewFilterPipeline(filters ...Filter) *FilterPipeline {
	return &FilterPipeline{filters: filters}
}

// AddFilter appends f to the write order.
func (fp *FilterPipeline) AddFilter(f Filter) {
	fp.filters = append(fp.filters, f)
}

// IsEmpty reports whether the pipeline has no filters.
func (fp *FilterPipeline) IsEmpty() bool {
	return fp == nil || len(fp.filters) == 0
}

// Apply runs every filter in write order.
func (fp *FilterPipeline) Apply(data []byte) ([]byte, error) {
	if fp.IsEmpty() {
		return data, nil
	}
	result := data
	for _, f := range fp.filters {
		var err error
		if result, err = f.Apply(result); err != nil {
			return nil, fmt.Errorf("filter %s failed: %w", f.Name(), err)
		}
	}
	return result, nil
}

// Remove runs every filter backwards.
func (fp *FilterPipeline) Remove(data []byte) ([]byte, error) {
	if fp.IsEmpty() {
		return data, nil
	}
	result := data
	for i := len(fp.filters) - 1; i >= 0; i-- {
		var err error
		if result, err = fp.filters[i].Remove(result); err != nil {
			return nil, fmt.Errorf("filter %s remove failed: %w", fp.filters[i].Name(), err)
		}
	}
	return result, nil
}

// EncodePipelineMessage encodes the pipeline as a version 1 filter pipeline
// message (type 0x000B), the version libhdf5 writes into v1 object headers.
//
// Layout: version, filter count, 6 reserved bytes, then per filter the id,
// name length, flags, client value count, the NUL terminated name padded to
// 8 bytes and the client values padded to an even count.
func (fp *FilterPipeline) EncodePipelineMessage() ([]byte, error) {
	if fp.IsEmpty() {
		return nil, errors.New("empty filter pipeline")
	}

	buf := make([]byte, 8, 8+len(fp.filters)*32)
	buf[0] = 1
	buf[1] = byte(len(fp.filters))

	for _, f := range fp.filters {
		buf = append(buf, encodeFilter(f)...)
	}
	return buf, nil
}

func encodeFilter(f Filter) []byte {
	flags, cdValues := f.Encode()
	name := f.Name()
	nameLen := 0
	if name != "" {
		nameLen = (len(name) + 1 + 7) &^ 7
	}
	nValues := len(cdValues)
	padded := nValues
	if padded%2 == 1 {
		padded++
	}

	buf := make([]byte, 8+nameLen+padded*4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(f.ID()))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(nameLen)) //nolint:gosec // G115: filter names are short
	binary.LittleEndian.PutUint16(buf[4:6], flags)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(nValues)) //nolint:gosec // G115: a handful of client values

	copy(buf[8:], name)
	off := 8 + nameLen
	for _, v := range cdValues {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	return buf
}
