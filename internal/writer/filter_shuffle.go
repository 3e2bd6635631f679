package writer

import "fmt"

// ShuffleFilter transposes the bytes of fixed-size elements so that all
// first bytes come first, then all second bytes, and so on (filter 2).
//
//	[a1 a2][b1 b2][c1 c2] -> [a1 b1 c1][a2 b2 c2]
//
// Trailing bytes that do not form a whole element are left in place, as
// libhdf5 does.
type ShuffleFilter struct {
	elementSize uint32
}

// NewShuffleFilter creates a shuffle filter for elements of elementSize bytes.
func NewShuffleFilter(elementSize uint32) *ShuffleFilter {
	return &ShuffleFilter{elementSize: elementSize}
}

// ID returns FilterShuffle.
func (f *ShuffleFilter) ID() FilterID { return FilterShuffle }

// Name returns the libhdf5 filter name.
func (f *ShuffleFilter) Name() string { return "shuffle" }

// Apply shuffles data.
func (f *ShuffleFilter) Apply(data []byte) ([]byte, error) {
	return f.transpose(data, false)
}

// Remove unshuffles data.
func (f *ShuffleFilter) Remove(data []byte) ([]byte, error) {
	return f.transpose(data, true)
}

// Encode stores the element size as the single client value.
func (f *ShuffleFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{f.elementSize}
}

func (f *ShuffleFilter) transpose(data []byte, inverse bool) ([]byte, error) {
	if f.elementSize == 0 {
		return nil, fmt.Errorf("shuffle element size is zero")
	}
	size := int(f.elementSize)
	n := len(data) / size
	if size == 1 || n <= 1 {
		return data, nil
	}

	out := make([]byte, len(data))
	for b := 0; b < size; b++ {
		for e := 0; e < n; e++ {
			shuffled := b*n + e
			plain := e*size + b
			if inverse {
				out[plain] = data[shuffled]
			} else {
				out[shuffled] = data[plain]
			}
		}
	}
	copy(out[n*size:], data[n*size:])
	return out, nil
}
