package utils

import (
	"encoding/binary"
	"errors"
	"io"
)

// UndefinedAddress is the all-ones address HDF5 uses for "not allocated".
const UndefinedAddress = ^uint64(0)

// ReaderAt is the subset of io.ReaderAt the codec needs.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadUint reads a little-endian unsigned integer of 1 to 8 bytes.
func ReadUint(buf []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size && i < len(buf); i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// ReadAddress decodes an address of the given width, widening the
// undefined sentinel so callers can compare against UndefinedAddress.
func ReadAddress(buf []byte, size int) uint64 {
	v := ReadUint(buf, size)
	if size < 8 && v == (uint64(1)<<(8*size))-1 {
		return UndefinedAddress
	}
	return v
}

// PutUint writes v as a little-endian integer of size bytes.
func PutUint(buf []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// IsDefined reports whether addr points at allocated storage.
func IsDefined(addr uint64) bool {
	return addr != UndefinedAddress
}

// ReadAt reads exactly n bytes at addr. A short read at end of file is
// reported as ErrTruncated rather than io.EOF.
func ReadAt(r ReaderAt, addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	//nolint:gosec // G115: HDF5 addresses fit in int64 for io.ReaderAt
	got, err := r.ReadAt(buf, int64(addr))
	if got == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, Truncated("read", n, got)
	}
	return nil, err
}

// ReadUint64 reads a 64-bit value at offset.
func ReadUint64(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	//nolint:gosec // G115: offsets come from validated addresses
	buf, err := ReadAt(r, uint64(offset), 8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}
