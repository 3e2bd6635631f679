package core

import (
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
)

// ChunkGrid maps a row-major array onto fixed-size chunks. Chunks on the
// upper edges are stored at full size and padded with zeros.
type ChunkGrid struct {
	Dims     []uint64
	Chunk    []uint64
	ElemSize uint64
}

// NewChunkGrid validates the geometry of a chunked array.
func NewChunkGrid(dims []uint64, chunk []uint32, elemSize uint64) (*ChunkGrid, error) {
	if len(dims) != len(chunk) || len(dims) == 0 {
		return nil, fmt.Errorf("chunk rank %d does not match array rank %d", len(chunk), len(dims))
	}
	if elemSize == 0 {
		return nil, fmt.Errorf("element size cannot be zero")
	}
	g := &ChunkGrid{Dims: dims, Chunk: make([]uint64, len(chunk)), ElemSize: elemSize}
	for i, c := range chunk {
		if c == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", i)
		}
		g.Chunk[i] = uint64(c)
	}
	if _, err := utils.CalculateChunkSize(chunk, elemSize); err != nil {
		return nil, err
	}
	return g, nil
}

// ChunkBytes is the size of one full chunk.
func (g *ChunkGrid) ChunkBytes() uint64 {
	n := g.ElemSize
	for _, c := range g.Chunk {
		n *= c
	}
	return n
}

// Offsets lists the first-element coordinates of every chunk that covers
// at least one element, in row-major order.
func (g *ChunkGrid) Offsets() [][]uint64 {
	counts := make([]uint64, len(g.Dims))
	for i := range g.Dims {
		if g.Dims[i] == 0 {
			return nil
		}
		counts[i] = (g.Dims[i] + g.Chunk[i] - 1) / g.Chunk[i]
	}
	var out [][]uint64
	idx := make([]uint64, len(g.Dims))
	for {
		off := make([]uint64, len(idx))
		for i := range idx {
			off[i] = idx[i] * g.Chunk[i]
		}
		out = append(out, off)

		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < counts[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return out
		}
	}
}

// Extract copies the chunk starting at offset out of the full array data.
func (g *ChunkGrid) Extract(data []byte, offset []uint64) []byte {
	chunk := make([]byte, g.ChunkBytes())
	g.walk(offset, func(arrayPos, chunkPos, n uint64) {
		copy(chunk[chunkPos:chunkPos+n], data[arrayPos:arrayPos+n])
	})
	return chunk
}

// Scatter copies the valid part of chunk into the full array data.
func (g *ChunkGrid) Scatter(data, chunk []byte, offset []uint64) error {
	if uint64(len(chunk)) < g.ChunkBytes() {
		return fmt.Errorf("chunk at %v is %d bytes, want %d", offset, len(chunk), g.ChunkBytes())
	}
	g.walk(offset, func(arrayPos, chunkPos, n uint64) {
		copy(data[arrayPos:arrayPos+n], chunk[chunkPos:chunkPos+n])
	})
	return nil
}

// walk calls fn once per contiguous row of the intersection between the
// chunk at offset and the array, with byte positions in both and the row
// length in bytes.
func (g *ChunkGrid) walk(offset []uint64, fn func(arrayPos, chunkPos, n uint64)) {
	rank := len(g.Dims)
	extent := make([]uint64, rank)
	for i := range extent {
		if offset[i] >= g.Dims[i] {
			return
		}
		extent[i] = g.Chunk[i]
		if offset[i]+extent[i] > g.Dims[i] {
			extent[i] = g.Dims[i] - offset[i]
		}
	}

	arrayStride := make([]uint64, rank)
	chunkStride := make([]uint64, rank)
	arrayStride[rank-1], chunkStride[rank-1] = g.ElemSize, g.ElemSize
	for i := rank - 2; i >= 0; i-- {
		arrayStride[i] = arrayStride[i+1] * g.Dims[i+1]
		chunkStride[i] = chunkStride[i+1] * g.Chunk[i+1]
	}

	rowBytes := extent[rank-1] * g.ElemSize
	idx := make([]uint64, rank)
	for {
		var ap, cp uint64
		for i := 0; i < rank; i++ {
			ap += (offset[i] + idx[i]) * arrayStride[i]
			cp += idx[i] * chunkStride[i]
		}
		fn(ap, cp, rowBytes)

		d := rank - 2
		for d >= 0 {
			idx[d]++
			if idx[d] < extent[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}
