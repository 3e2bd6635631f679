package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/scigolib/h5trim/internal/utils"
)

// Version 1 B-tree node types.
const (
	BTreeNodeGroup = 0
	BTreeNodeChunk = 1
)

// ChunkEntriesPerNode is the fan-out of chunk B-trees written with the
// default K of 32.
const ChunkEntriesPerNode = 2 * DefaultChunkK

// maxBTreeDepth bounds recursion on corrupt files.
const maxBTreeDepth = 64

// ChunkRecord locates one stored chunk.
type ChunkRecord struct {
	// Offsets are the element coordinates of the chunk's first element.
	Offsets    []uint64
	Size       uint32
	FilterMask uint32
	Address    uint64
}

// chunkKeySize is nbytes, filter mask and one 8-byte offset per dimension
// plus the trailing element dimension.
func chunkKeySize(rank int) int {
	return 8 + 8*(rank+1)
}

// ChunkNodeSize is the allocated size of a chunk B-tree node with 8-byte
// addresses: libhdf5 reads nodes at full capacity.
func ChunkNodeSize(rank int) int {
	return 24 + (ChunkEntriesPerNode+1)*chunkKeySize(rank) + ChunkEntriesPerNode*8
}

// ReadChunkIndex walks the chunk B-tree rooted at addr and returns every
// chunk record in key order. rank excludes the element dimension.
func ReadChunkIndex(r io.ReaderAt, addr uint64, rank int, sb *Superblock) ([]ChunkRecord, error) {
	if !utils.IsDefined(addr) {
		return nil, nil
	}
	var out []ChunkRecord
	visited := make(map[uint64]bool)
	if err := readChunkNode(r, addr, rank, sb, 0, visited, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func readChunkNode(r io.ReaderAt, addr uint64, rank int, sb *Superblock, depth int, visited map[uint64]bool, out *[]ChunkRecord) error {
	if depth > maxBTreeDepth {
		return fmt.Errorf("chunk B-tree deeper than %d levels", maxBTreeDepth)
	}
	if visited[addr] {
		return fmt.Errorf("chunk B-tree cycle at 0x%X", addr)
	}
	visited[addr] = true

	o := int(sb.OffsetSize)
	head, err := utils.ReadAt(r, addr, 8+2*o)
	if err != nil {
		return utils.WrapError("chunk B-tree node", err)
	}
	if string(head[:4]) != "TREE" {
		return fmt.Errorf("invalid B-tree signature %q at 0x%X", head[:4], addr)
	}
	if head[4] != BTreeNodeChunk {
		return fmt.Errorf("B-tree node at 0x%X has type %d, want chunk index", addr, head[4])
	}
	level := head[5]
	entries := int(binary.LittleEndian.Uint16(head[6:]))

	keySize := 8 + 8*(rank+1)
	body, err := utils.ReadAt(r, addr+uint64(len(head)), entries*(keySize+o)+keySize)
	if err != nil {
		return utils.WrapError("chunk B-tree entries", err)
	}

	p := 0
	for i := 0; i < entries; i++ {
		key := body[p : p+keySize]
		child := utils.ReadAddress(body[p+keySize:], o)
		p += keySize + o

		if level > 0 {
			if err := readChunkNode(r, child, rank, sb, depth+1, visited, out); err != nil {
				return err
			}
			continue
		}
		rec := ChunkRecord{
			Size:       binary.LittleEndian.Uint32(key),
			FilterMask: binary.LittleEndian.Uint32(key[4:]),
			Offsets:    make([]uint64, rank),
			Address:    child,
		}
		for d := range rec.Offsets {
			rec.Offsets[d] = binary.LittleEndian.Uint64(key[8+8*d:])
		}
		*out = append(*out, rec)
	}
	return nil
}

// NodeWriter reserves and fills file space.
type NodeWriter interface {
	Allocate(size uint64) (uint64, error)
	WriteAtAddress(data []byte, addr uint64) error
}

// BuildChunkIndex writes a chunk B-tree over records and returns the root
// address. Records are sorted by offset first. chunkDims are the chunk
// dimensions without the element size. An empty record set has no tree and
// yields the undefined address.
func BuildChunkIndex(w NodeWriter, records []ChunkRecord, chunkDims []uint32) (uint64, error) {
	if len(records) == 0 {
		return utils.UndefinedAddress, nil
	}
	rank := len(chunkDims)
	sorted := make([]ChunkRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return compareOffsets(sorted[i].Offsets, sorted[j].Offsets) < 0
	})
	for i, rec := range sorted {
		if len(rec.Offsets) != rank {
			return 0, fmt.Errorf("chunk %d has rank %d, want %d", i, len(rec.Offsets), rank)
		}
		if i > 0 && compareOffsets(sorted[i-1].Offsets, rec.Offsets) == 0 {
			return 0, fmt.Errorf("duplicate chunk at %v", rec.Offsets)
		}
	}

	keySize := chunkKeySize(rank)
	encodeKey := func(rec ChunkRecord) []byte {
		key := make([]byte, keySize)
		binary.LittleEndian.PutUint32(key, rec.Size)
		binary.LittleEndian.PutUint32(key[4:], rec.FilterMask)
		for d, off := range rec.Offsets {
			binary.LittleEndian.PutUint64(key[8+8*d:], off)
		}
		return key
	}

	// The right-most key bounds the last chunk.
	last := sorted[len(sorted)-1]
	end := ChunkRecord{Offsets: make([]uint64, rank)}
	for d := range end.Offsets {
		end.Offsets[d] = last.Offsets[d] + uint64(chunkDims[d])
	}
	endKey := encodeKey(end)

	// Each level is a list of (first key, address) pairs.
	type ref struct {
		key  []byte
		addr uint64
	}
	level := make([]ref, len(sorted))
	for i, rec := range sorted {
		level[i] = ref{key: encodeKey(rec), addr: rec.Address}
	}

	nodeSize := uint64(ChunkNodeSize(rank)) //nolint:gosec // G115: small positive
	for depth := 0; ; depth++ {
		groups := (len(level) + ChunkEntriesPerNode - 1) / ChunkEntriesPerNode
		addrs := make([]uint64, groups)
		for g := range addrs {
			addr, err := w.Allocate(nodeSize)
			if err != nil {
				return 0, err
			}
			addrs[g] = addr
		}

		next := make([]ref, groups)
		for g := 0; g < groups; g++ {
			lo := g * ChunkEntriesPerNode
			hi := lo + ChunkEntriesPerNode
			if hi > len(level) {
				hi = len(level)
			}
			left, right := utils.UndefinedAddress, utils.UndefinedAddress
			if g > 0 {
				left = addrs[g-1]
			}
			if g < groups-1 {
				right = addrs[g+1]
			}
			rightKey := endKey
			if hi < len(level) {
				rightKey = level[hi].key
			}

			var buf bytes.Buffer
			buf.Grow(int(nodeSize))
			buf.WriteString("TREE")
			buf.WriteByte(BTreeNodeChunk)
			buf.WriteByte(byte(depth))
			_ = binary.Write(&buf, binary.LittleEndian, uint16(hi-lo)) //nolint:gosec // G115: at most 64
			_ = binary.Write(&buf, binary.LittleEndian, left)
			_ = binary.Write(&buf, binary.LittleEndian, right)
			for _, e := range level[lo:hi] {
				buf.Write(e.key)
				_ = binary.Write(&buf, binary.LittleEndian, e.addr)
			}
			buf.Write(rightKey)
			node := make([]byte, nodeSize)
			copy(node, buf.Bytes())
			if err := w.WriteAtAddress(node, addrs[g]); err != nil {
				return 0, err
			}
			next[g] = ref{key: level[lo].key, addr: addrs[g]}
		}
		if groups == 1 {
			return addrs[0], nil
		}
		level = next
	}
}

func compareOffsets(a, b []uint64) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
