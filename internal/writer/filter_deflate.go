package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// DeflateFilter compresses chunks with zlib (filter 1, "deflate").
type DeflateFilter struct {
	level int
}

// NewDeflateFilter creates a deflate filter. Levels outside 1..9 fall back
// to 6, the zlib default.
func NewDeflateFilter(level int) *DeflateFilter {
	if level < 1 || level > 9 {
		level = 6
	}
	return &DeflateFilter{level: level}
}

// ID returns FilterDeflate.
func (f *DeflateFilter) ID() FilterID { return FilterDeflate }

// Name returns the libhdf5 filter name.
func (f *DeflateFilter) Name() string { return "deflate" }

// Apply compresses data into a zlib stream.
func (f *DeflateFilter) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("zlib compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove inflates a zlib stream.
func (f *DeflateFilter) Remove(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader creation failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompression failed: %w", err)
	}
	return out, nil
}

// Encode stores the compression level as the single client value.
func (f *DeflateFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{uint32(f.level)} //nolint:gosec // G115: level is 1..9
}
