package writer

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Fletcher32Filter appends a Fletcher-32 checksum to each chunk (filter 3).
type Fletcher32Filter struct{}

// NewFletcher32Filter creates a checksum filter.
func NewFletcher32Filter() *Fletcher32Filter {
	return &Fletcher32Filter{}
}

// ID returns FilterFletcher32.
func (f *Fletcher32Filter) ID() FilterID { return FilterFletcher32 }

// Name returns the libhdf5 filter name.
func (f *Fletcher32Filter) Name() string { return "fletcher32" }

// Apply appends the checksum.
func (f *Fletcher32Filter) Apply(data []byte) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], Fletcher32(data))
	return out, nil
}

// Remove verifies and strips the checksum. Files written by early libhdf5
// releases stored the sum byte-swapped, so both forms are accepted.
func (f *Fletcher32Filter) Remove(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for fletcher32: %d bytes", len(data))
	}
	n := len(data) - 4
	stored := binary.LittleEndian.Uint32(data[n:])
	sum := Fletcher32(data[:n])
	if stored != sum && stored != bits.ReverseBytes32(sum) {
		return nil, fmt.Errorf("fletcher32 checksum mismatch: stored=%08x, calculated=%08x", stored, sum)
	}
	return data[:n], nil
}

// Encode has no client values.
func (f *Fletcher32Filter) Encode() (flags uint16, cdValues []uint32) {
	return 0, nil
}

// Fletcher32 computes the checksum over big-endian 16-bit words, folding
// every 360 words the way libhdf5 does.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	words := len(data) / 2
	i := 0
	for words > 0 {
		block := words
		if block > 360 {
			block = 360
		}
		words -= block
		for ; block > 0; block-- {
			sum1 += uint32(data[i])<<8 | uint32(data[i+1])
			sum2 += sum1
			i += 2
		}
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data)%2 == 1 {
		sum1 += uint32(data[i]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}
