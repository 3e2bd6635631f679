package utils

import (
	"fmt"
	"math"
)

// Size limits applied while decoding untrusted files.
const (
	// MaxChunkSize limits a single chunk image to 1GB.
	MaxChunkSize = 1024 * 1024 * 1024

	// MaxAttributeSize limits an attribute value to 64MB.
	MaxAttributeSize = 64 * 1024 * 1024
)

// SafeMultiply multiplies a and b, failing instead of wrapping around.
func SafeMultiply(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return a * b, nil
}

// ElementCount returns the product of dims. An empty dims slice is a scalar
// and counts as one element.
func ElementCount(dims []uint64) (uint64, error) {
	n := uint64(1)
	for i, d := range dims {
		var err error
		if n, err = SafeMultiply(n, d); err != nil {
			return 0, fmt.Errorf("dimension %d: %w", i, err)
		}
	}
	return n, nil
}

// CalculateChunkSize returns the byte size of a chunk whose dimensions are
// dims and whose elements are elementSize bytes.
func CalculateChunkSize(dims []uint32, elementSize uint64) (uint64, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("no dimensions provided")
	}
	if elementSize == 0 {
		return 0, fmt.Errorf("element size cannot be zero")
	}
	size := elementSize
	for i, d := range dims {
		var err error
		if size, err = SafeMultiply(size, uint64(d)); err != nil {
			return 0, fmt.Errorf("chunk size overflow at dimension %d: %w", i, err)
		}
	}
	if size > MaxChunkSize {
		return 0, fmt.Errorf("chunk size %d exceeds maximum %d", size, MaxChunkSize)
	}
	return size, nil
}

// Align8 rounds n up to the next multiple of eight.
func Align8(n uint64) uint64 {
	return (n + 7) &^ 7
}
