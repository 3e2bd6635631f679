// Package writer provides the low-level output side of the HDF5 codec: a
// file writer with an end-of-file allocator and the chunk filters used when
// new datasets are written.
package writer

import (
	"fmt"
	"sort"
)

// AllocatedBlock is a region handed out by the Allocator.
type AllocatedBlock struct {
	Offset uint64
	Size   uint64
}

// Allocator hands out file space at the end of the file. Space is never
// reused; every block starts on an 8-byte boundary, which keeps object
// headers and B-tree nodes aligned the way libhdf5 lays them out.
type Allocator struct {
	blocks     []AllocatedBlock
	nextOffset uint64
}

// NewAllocator creates an allocator whose first block starts at
// initialOffset (rounded up to 8 bytes).
func NewAllocator(initialOffset uint64) *Allocator {
	return &Allocator{
		blocks:     make([]AllocatedBlock, 0, 64),
		nextOffset: align(initialOffset),
	}
}

// Allocate reserves size bytes and returns their address.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot allocate zero bytes")
	}

	addr := a.nextOffset
	end := addr + size
	if end < addr {
		return 0, fmt.Errorf("allocation overflow: addr=%d size=%d", addr, size)
	}

	a.blocks = append(a.blocks, AllocatedBlock{Offset: addr, Size: size})
	a.nextOffset = align(end)
	return addr, nil
}

// EndOfFile returns the end-of-file address recorded in the superblock.
func (a *Allocator) EndOfFile() uint64 {
	return a.nextOffset
}

// IsAllocated reports whether [offset, offset+size) overlaps any block.
func (a *Allocator) IsAllocated(offset, size uint64) bool {
	end := offset + size
	for _, b := range a.blocks {
		if offset < b.Offset+b.Size && b.Offset < end {
			return true
		}
	}
	return false
}

// Blocks returns a copy of the allocated blocks sorted by offset.
func (a *Allocator) Blocks() []AllocatedBlock {
	out := make([]AllocatedBlock, len(a.blocks))
	copy(out, a.blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// ValidateNoOverlaps checks the allocator's bookkeeping.
func (a *Allocator) ValidateNoOverlaps() error {
	blocks := a.Blocks()
	for i := 1; i < len(blocks); i++ {
		prev := blocks[i-1]
		if prev.Offset+prev.Size > blocks[i].Offset {
			return fmt.Errorf("blocks overlap: [%d,+%d) and [%d,+%d)",
				prev.Offset, prev.Size, blocks[i].Offset, blocks[i].Size)
		}
	}
	return nil
}

func align(n uint64) uint64 {
	return (n + 7) &^ 7
}
