package fixture

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// HeapOptions shapes a fractal heap. Zero values take the libhdf5 dense
// storage defaults.
type HeapOptions struct {
	TableWidth     int
	StartBlockSize uint64
	MaxDirectSize  uint64

	// TinyLimit stores objects of at most this many bytes inside their
	// heap ID. It cannot exceed HeapIDLength-1.
	TinyLimit int
}

// HeapIDLength is the heap ID size of the heaps built here.
const HeapIDLength = 8

const (
	heapMaxBits    = 32
	heapOffsetSize = heapMaxBits / 8
	heapMaxManaged = 4096

	directHeaderSize = 5 + 8 + heapOffsetSize
)

func (o *HeapOptions) defaults() {
	if o.TableWidth == 0 {
		o.TableWidth = 4
	}
	if o.StartBlockSize == 0 {
		o.StartBlockSize = 512
	}
	if o.MaxDirectSize == 0 {
		o.MaxDirectSize = 65536
	}
}

func heapLenSize(o HeapOptions) int {
	n := (bits.TrailingZeros64(o.MaxDirectSize) + 7) / 8
	if m := (63-bits.LeadingZeros64(heapMaxManaged))/8 + 1; m < n {
		n = m
	}
	return n
}

type placed struct {
	block  int
	offset uint64
}

// BuildFractalHeap writes a heap holding objs and returns its header
// address with one heap ID per object. Objects that fit one root direct
// block get exactly that; otherwise the root is an indirect block whose
// direct rows are filled in order.
func BuildFractalHeap(im *Image, objs [][]byte, opts HeapOptions) (uint64, [][]byte, error) {
	opts.defaults()
	if opts.TinyLimit > HeapIDLength-1 {
		return 0, nil, fmt.Errorf("tiny limit %d exceeds heap ID capacity", opts.TinyLimit)
	}
	lenSize := heapLenSize(opts)

	maxDirectRows := bits.TrailingZeros64(opts.MaxDirectSize) - bits.TrailingZeros64(opts.StartBlockSize) + 2
	blockSize := func(i int) uint64 {
		r := i / opts.TableWidth
		if r < 2 {
			return opts.StartBlockSize
		}
		return opts.StartBlockSize << uint(r-1)
	}

	ids := make([][]byte, len(objs))
	var (
		blocks [][]byte
		where  = make([]placed, len(objs))
		base   uint64
	)
	newBlock := func() {
		b := make([]byte, blockSize(len(blocks)))
		copy(b, "FHDB")
		blocks = append(blocks, b)
	}
	newBlock()
	used := uint64(directHeaderSize)

	for i, obj := range objs {
		if len(obj) <= opts.TinyLimit && len(obj) > 0 {
			id := make([]byte, HeapIDLength)
			id[0] = 0x20 | byte(len(obj)-1)
			copy(id[1:], obj)
			ids[i] = id
			continue
		}
		if len(obj) > heapMaxManaged {
			return 0, nil, fmt.Errorf("object %d is %d bytes, above the managed limit", i, len(obj))
		}
		for used+uint64(len(obj)) > uint64(len(blocks[len(blocks)-1])) {
			if len(blocks)/opts.TableWidth >= maxDirectRows {
				return 0, nil, fmt.Errorf("objects do not fit the direct rows")
			}
			base += uint64(len(blocks[len(blocks)-1]))
			newBlock()
			used = directHeaderSize
		}
		b := blocks[len(blocks)-1]
		copy(b[used:], obj)
		where[i] = placed{block: len(blocks) - 1, offset: base + used}
		used += uint64(len(obj))
	}

	headerAddr, _ := im.Allocate(146)
	var blockAddrs []uint64
	var blockBase uint64
	for _, b := range blocks {
		binary.LittleEndian.PutUint64(b[5:], headerAddr)
		utils.PutUint(b[13:], blockBase, heapOffsetSize)
		blockAddrs = append(blockAddrs, im.Put(b))
		blockBase += uint64(len(b))
	}

	for i, obj := range objs {
		if ids[i] != nil {
			continue
		}
		id := make([]byte, HeapIDLength)
		utils.PutUint(id[1:], where[i].offset, heapOffsetSize)
		utils.PutUint(id[1+heapOffsetSize:], uint64(len(obj)), lenSize)
		ids[i] = id
	}

	root := blockAddrs[0]
	var rows int
	if len(blocks) > 1 {
		rows = (len(blocks) + opts.TableWidth - 1) / opts.TableWidth
		ib := []byte("FHIB")
		ib = append(ib, 0)
		ib = binary.LittleEndian.AppendUint64(ib, headerAddr)
		ib = append(ib, make([]byte, heapOffsetSize)...)
		for i := 0; i < rows*opts.TableWidth; i++ {
			addr := utils.UndefinedAddress
			if i < len(blockAddrs) {
				addr = blockAddrs[i]
			}
			ib = binary.LittleEndian.AppendUint64(ib, addr)
		}
		root = im.Put(appendChecksum(ib))
	}

	hdr := make([]byte, 142)
	copy(hdr, "FRHP")
	binary.LittleEndian.PutUint16(hdr[5:], HeapIDLength)
	binary.LittleEndian.PutUint32(hdr[10:], heapMaxManaged)
	for _, at := range []int{22, 38} {
		binary.LittleEndian.PutUint64(hdr[at:], utils.UndefinedAddress)
	}
	binary.LittleEndian.PutUint16(hdr[110:], uint16(opts.TableWidth)) //nolint:gosec // G115: small widths
	binary.LittleEndian.PutUint64(hdr[112:], opts.StartBlockSize)
	binary.LittleEndian.PutUint64(hdr[120:], opts.MaxDirectSize)
	binary.LittleEndian.PutUint16(hdr[128:], heapMaxBits)
	binary.LittleEndian.PutUint64(hdr[132:], root)
	binary.LittleEndian.PutUint16(hdr[140:], uint16(rows)) //nolint:gosec // G115: bounded by maxDirectRows
	if err := im.WriteAtAddress(appendChecksum(hdr), headerAddr); err != nil {
		return 0, nil, err
	}
	return headerAddr, ids, nil
}

// BTreeV2NodeSize is the node size of the B-trees built here.
const BTreeV2NodeSize = 512

// BuildBTreeV2 writes a version 2 B-tree holding records in the given
// order. When more than leafCap records are given, the tree gets one
// internal level whose separators are every (leafCap+1)-th record.
func BuildBTreeV2(im *Image, typ uint8, records [][]byte, leafCap int) (uint64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records")
	}
	recSize := len(records[0])
	for _, r := range records {
		if len(r) != recSize {
			return 0, fmt.Errorf("records differ in size")
		}
	}
	leafMax := (BTreeV2NodeSize - 10) / recSize
	if leafCap <= 0 || leafCap > leafMax {
		leafCap = leafMax
	}

	leaf := func(recs [][]byte) uint64 {
		buf := []byte{'B', 'T', 'L', 'F', 0, typ}
		for _, r := range recs {
			buf = append(buf, r...)
		}
		node := make([]byte, BTreeV2NodeSize)
		copy(node, appendChecksum(buf))
		return im.Put(node)
	}

	var (
		root     uint64
		depth    uint16
		rootRecs int
	)
	if len(records) <= leafCap {
		root, rootRecs = leaf(records), len(records)
	} else {
		nrecWidth := (63-bits.LeadingZeros64(uint64(leafMax)))/8 + 1
		var seps [][]byte
		type child struct {
			addr uint64
			n    int
		}
		var children []child
		for i := 0; i < len(records); {
			end := i + leafCap
			if end > len(records) {
				end = len(records)
			}
			if end == len(records)-1 {
				// A separator needs a right sibling.
				end--
			}
			children = append(children, child{leaf(records[i:end]), end - i})
			if end < len(records) {
				seps = append(seps, records[end])
				end++
			}
			i = end
		}
		buf := []byte{'B', 'T', 'I', 'N', 0, typ}
		for _, s := range seps {
			buf = append(buf, s...)
		}
		for _, c := range children {
			buf = binary.LittleEndian.AppendUint64(buf, c.addr)
			n := make([]byte, 8)
			binary.LittleEndian.PutUint64(n, uint64(c.n)) //nolint:gosec // G115: small counts
			buf = append(buf, n[:nrecWidth]...)
		}
		if len(buf)+4 > BTreeV2NodeSize {
			return 0, fmt.Errorf("too many records for a two-level tree")
		}
		node := make([]byte, BTreeV2NodeSize)
		copy(node, appendChecksum(buf))
		root, depth, rootRecs = im.Put(node), 1, len(seps)
	}

	hdr := []byte{'B', 'T', 'H', 'D', 0, typ}
	hdr = binary.LittleEndian.AppendUint32(hdr, BTreeV2NodeSize)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(recSize)) //nolint:gosec // G115: small records
	hdr = binary.LittleEndian.AppendUint16(hdr, depth)
	hdr = append(hdr, 100, 40)
	hdr = binary.LittleEndian.AppendUint64(hdr, root)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(rootRecs))      //nolint:gosec // G115: small counts
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(records))) //nolint:gosec // G115: small counts
	return im.Put(appendChecksum(hdr)), nil
}

// LinkNameRecord is a type 5 record: name hash then heap ID.
func LinkNameRecord(name string, id []byte) []byte {
	rec := binary.LittleEndian.AppendUint32(nil, core.Checksum([]byte(name)))
	return append(rec, id...)
}

// AttributeNameRecord is a type 8 record: heap ID, flags, creation order
// and name hash.
func AttributeNameRecord(name string, id []byte, order uint32) []byte {
	rec := append([]byte{}, id...)
	rec = append(rec, 0)
	rec = binary.LittleEndian.AppendUint32(rec, order)
	return binary.LittleEndian.AppendUint32(rec, core.Checksum([]byte(name)))
}

// DenseLinks stores link messages in a fractal heap indexed by name and
// returns the link info message pointing at them.
func DenseLinks(im *Image, names []string, links [][]byte, opts HeapOptions) ([]byte, error) {
	heap, ids, err := BuildFractalHeap(im, links, opts)
	if err != nil {
		return nil, err
	}
	recs := make([][]byte, len(ids))
	for i, id := range ids {
		recs[i] = LinkNameRecord(names[i], id)
	}
	index, err := BuildBTreeV2(im, 5, recs, 0)
	if err != nil {
		return nil, err
	}
	return LinkInfo(heap, index), nil
}

// DenseAttributes stores attribute messages the same way and returns the
// attribute info message.
func DenseAttributes(im *Image, names []string, attrs [][]byte, opts HeapOptions) ([]byte, error) {
	heap, ids, err := BuildFractalHeap(im, attrs, opts)
	if err != nil {
		return nil, err
	}
	recs := make([][]byte, len(ids))
	for i, id := range ids {
		recs[i] = AttributeNameRecord(names[i], id, uint32(i)) //nolint:gosec // G115: small counts
	}
	index, err := BuildBTreeV2(im, 8, recs, 0)
	if err != nil {
		return nil, err
	}
	return AttributeInfo(heap, index), nil
}
