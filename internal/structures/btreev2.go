package structures

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// Version 2 B-tree record types used by dense groups and attributes.
const (
	BTreeV2LinkName      = 5
	BTreeV2AttributeName = 8
)

// btreeV2Prefix is signature, version and type; every node ends with a
// 4-byte checksum.
const btreeV2Prefix = 6

// BTreeV2 is an opened "BTHD" header.
type BTreeV2 struct {
	r  io.ReaderAt
	sb *core.Superblock

	Type         uint8
	NodeSize     uint32
	RecordSize   uint16
	Depth        uint16
	RootAddress  uint64
	RootRecords  uint16
	TotalRecords uint64

	// Per depth: maximum records of a node and the encoded widths of the
	// child record counts stored in its parent.
	maxRecords   []uint64
	cumMaxSize   []int
	maxNrecWidth int
}

// OpenBTreeV2 decodes the header at address and precomputes node geometry.
func OpenBTreeV2(r io.ReaderAt, address uint64, sb *core.Superblock) (*BTreeV2, error) {
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	size := btreeV2Prefix + 4 + 2 + 2 + 2 + o + 2 + l + 4
	buf, err := utils.ReadAt(r, address, size)
	if err != nil {
		return nil, utils.WrapError("B-tree v2 header", err)
	}
	if string(buf[:4]) != "BTHD" {
		return nil, fmt.Errorf("invalid B-tree v2 signature %q at 0x%X", buf[:4], address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("unsupported B-tree v2 version %d", buf[4])
	}
	if sum := core.Checksum(buf[:size-4]); sum != binary.LittleEndian.Uint32(buf[size-4:]) {
		return nil, fmt.Errorf("B-tree v2 header checksum mismatch at 0x%X", address)
	}

	t := &BTreeV2{
		r:            r,
		sb:           sb,
		Type:         buf[5],
		NodeSize:     binary.LittleEndian.Uint32(buf[6:]),
		RecordSize:   binary.LittleEndian.Uint16(buf[10:]),
		Depth:        binary.LittleEndian.Uint16(buf[12:]),
		RootAddress:  utils.ReadAddress(buf[16:], o),
		RootRecords:  binary.LittleEndian.Uint16(buf[16+o:]),
		TotalRecords: utils.ReadUint(buf[18+o:], l),
	}
	if t.RecordSize == 0 || t.NodeSize <= btreeV2Prefix+4 {
		return nil, fmt.Errorf("invalid B-tree v2 geometry: node %d, record %d", t.NodeSize, t.RecordSize)
	}
	if t.Depth > maxGroupDepth {
		return nil, fmt.Errorf("B-tree v2 depth %d too large", t.Depth)
	}
	t.computeGeometry()
	return t, nil
}

func (t *BTreeV2) computeGeometry() {
	o := int(t.sb.OffsetSize)
	prefix := uint64(btreeV2Prefix + 4)
	rec := uint64(t.RecordSize)

	leafMax := (uint64(t.NodeSize) - prefix) / rec
	t.maxRecords = []uint64{leafMax}
	cumMax := []uint64{leafMax}
	t.cumMaxSize = []int{0}
	t.maxNrecWidth = log2Gen(leafMax)/8 + 1

	for d := 1; d <= int(t.Depth); d++ {
		ptr := uint64(o + t.maxNrecWidth)
		if d > 1 {
			ptr += uint64(t.cumMaxSize[d-1])
		}
		var max uint64
		if uint64(t.NodeSize) > prefix+ptr {
			max = (uint64(t.NodeSize) - (prefix + ptr)) / (rec + ptr)
		}
		t.maxRecords = append(t.maxRecords, max)
		cum := (max+1)*cumMax[d-1] + max
		cumMax = append(cumMax, cum)
		t.cumMaxSize = append(t.cumMaxSize, log2Gen(cum)/8+1)
	}
}

// Records returns every record in key order.
func (t *BTreeV2) Records() ([][]byte, error) {
	if !utils.IsDefined(t.RootAddress) || t.TotalRecords == 0 {
		return nil, nil
	}
	var out [][]byte
	if err := t.walk(t.RootAddress, int(t.Depth), uint64(t.RootRecords), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *BTreeV2) walk(addr uint64, depth int, nrec uint64, out *[][]byte) error {
	if nrec > t.maxRecords[depth] {
		return fmt.Errorf("B-tree v2 node at 0x%X claims %d records, max %d", addr, nrec, t.maxRecords[depth])
	}
	rec := int(t.RecordSize)
	n := int(nrec)
	sig := "BTLF"
	size := btreeV2Prefix + n*rec
	o := int(t.sb.OffsetSize)
	ptrSize := 0
	if depth > 0 {
		sig = "BTIN"
		ptrSize = o + t.maxNrecWidth
		if depth > 1 {
			ptrSize += t.cumMaxSize[depth-1]
		}
		size += (n + 1) * ptrSize
	}

	buf, err := utils.ReadAt(t.r, addr, size+4)
	if err != nil {
		return utils.WrapError("B-tree v2 node", err)
	}
	if string(buf[:4]) != sig {
		return fmt.Errorf("invalid B-tree v2 node signature %q at 0x%X, want %s", buf[:4], addr, sig)
	}
	if buf[5] != t.Type {
		return fmt.Errorf("B-tree v2 node at 0x%X has type %d, want %d", addr, buf[5], t.Type)
	}
	if sum := core.Checksum(buf[:size]); sum != binary.LittleEndian.Uint32(buf[size:]) {
		return fmt.Errorf("B-tree v2 node checksum mismatch at 0x%X", addr)
	}

	records := buf[btreeV2Prefix : btreeV2Prefix+n*rec]
	if depth == 0 {
		for i := 0; i < n; i++ {
			*out = append(*out, records[i*rec:(i+1)*rec])
		}
		return nil
	}

	ptrs := buf[btreeV2Prefix+n*rec : size]
	for i := 0; i <= n; i++ {
		p := ptrs[i*ptrSize:]
		child := utils.ReadAddress(p, o)
		childRecs := utils.ReadUint(p[o:], t.maxNrecWidth)
		if err := t.walk(child, depth-1, childRecs, out); err != nil {
			return err
		}
		if i < n {
			*out = append(*out, records[i*rec:(i+1)*rec])
		}
	}
	return nil
}

// HeapID extracts the fractal heap ID from a link name record (hash,
// ID) or an attribute name record (ID, flags, creation order, hash).
func (t *BTreeV2) HeapID(record []byte) ([]byte, error) {
	switch t.Type {
	case BTreeV2LinkName:
		if len(record) <= 4 {
			return nil, utils.Truncated("link name record", 5, len(record))
		}
		return record[4:], nil
	case BTreeV2AttributeName:
		if len(record) <= 9 {
			return nil, utils.Truncated("attribute name record", 10, len(record))
		}
		return record[:len(record)-9], nil
	}
	return nil, fmt.Errorf("B-tree v2 type %d has no heap IDs", t.Type)
}
