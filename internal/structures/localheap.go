// Package structures implements the indexing structures HDF5 groups and
// dense attribute storage are built from: local heaps, symbol table nodes,
// group B-trees, fractal heaps and version 2 B-trees.
package structures

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// LocalHeapHeaderSize is the header size with 8-byte offsets and lengths.
const LocalHeapHeaderSize = 32

// localHeapFreeNull marks an empty free list.
const localHeapFreeNull = 1

// LocalHeap is a loaded "HEAP" block: the names of a symbol-table group.
type LocalHeap struct {
	Address     uint64
	DataAddress uint64
	Data        []byte
}

// LoadLocalHeap reads the heap header at address and its data segment.
func LoadLocalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*LocalHeap, error) {
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	head, err := utils.ReadAt(r, address, 8+2*l+o)
	if err != nil {
		return nil, utils.WrapError("local heap header", err)
	}
	if string(head[:4]) != "HEAP" {
		return nil, fmt.Errorf("invalid local heap signature %q at 0x%X", head[:4], address)
	}
	if head[4] != 0 {
		return nil, fmt.Errorf("unsupported local heap version %d", head[4])
	}
	size := utils.ReadUint(head[8:], l)
	if size > utils.MaxAttributeSize {
		return nil, fmt.Errorf("local heap data segment of %d bytes is too large", size)
	}
	h := &LocalHeap{Address: address, DataAddress: utils.ReadAddress(head[8+2*l:], o)}
	if h.Data, err = utils.ReadAt(r, h.DataAddress, int(size)); err != nil {
		return nil, utils.WrapError("local heap data", err)
	}
	return h, nil
}

// String returns the NUL-terminated string at offset.
func (h *LocalHeap) String(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", fmt.Errorf("local heap offset %d beyond data segment of %d bytes", offset, len(h.Data))
	}
	for end := offset; end < uint64(len(h.Data)); end++ {
		if h.Data[end] == 0 {
			return string(h.Data[offset:end]), nil
		}
	}
	return "", errors.New("unterminated local heap string")
}

// LocalHeapBuilder lays out a new local heap. Offset 0 holds the empty
// string, as libhdf5 expects.
type LocalHeapBuilder struct {
	data    []byte
	offsets map[string]uint64
}

// NewLocalHeapBuilder creates a builder holding only the empty string.
func NewLocalHeapBuilder() *LocalHeapBuilder {
	return &LocalHeapBuilder{
		data:    make([]byte, 8),
		offsets: map[string]uint64{"": 0},
	}
}

// Add stores s, 8-byte aligned, and returns its offset. Repeated strings
// share one copy.
func (b *LocalHeapBuilder) Add(s string) uint64 {
	if off, ok := b.offsets[s]; ok {
		return off
	}
	off := uint64(len(b.data))
	b.data = append(b.data, s...)
	b.data = append(b.data, make([]byte, utils.Align8(uint64(len(s)+1))-uint64(len(s)))...)
	b.offsets[s] = off
	return off
}

// Size is the total encoded size: header and data segment.
func (b *LocalHeapBuilder) Size() uint64 {
	return LocalHeapHeaderSize + uint64(len(b.data))
}

// Encode returns the heap for placement at address, data segment directly
// after the header.
func (b *LocalHeapBuilder) Encode(address uint64) []byte {
	buf := make([]byte, b.Size())
	copy(buf, "HEAP")
	utils.PutUint(buf[8:], uint64(len(b.data)), 8)
	utils.PutUint(buf[16:], localHeapFreeNull, 8)
	utils.PutUint(buf[24:], address+LocalHeapHeaderSize, 8)
	copy(buf[LocalHeapHeaderSize:], b.data)
	return buf
}
