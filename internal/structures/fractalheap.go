package structures

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// Heap ID types, stored in bits 4-5 of the first ID byte.
const (
	heapIDManaged = 0x00
	heapIDHuge    = 0x10
	heapIDTiny    = 0x20
)

const maxIndirectDepth = 32

// FractalHeap reads objects out of an "FRHP" heap: the storage behind
// dense links and dense attributes. Only managed and tiny objects of
// unfiltered heaps are supported.
type FractalHeap struct {
	r  io.ReaderAt
	sb *core.Superblock

	Address        uint64
	IDLength       uint16
	FilterLength   uint16
	Flags          uint8
	MaxManagedSize uint32
	TableWidth     uint16
	StartBlockSize uint64
	MaxDirectSize  uint64
	MaxHeapBits    uint16
	RootAddress    uint64
	CurrentRows    uint16

	heapOffsetSize int
	heapLenSize    int
	maxDirectRows  int
}

// OpenFractalHeap decodes the heap header at address.
func OpenFractalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*FractalHeap, error) {
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	size := 10 + 4 + l + o + l + o + 8*l + 2 + 2*l + 2 + 2 + o + 2
	buf, err := utils.ReadAt(r, address, size)
	if err != nil {
		return nil, utils.WrapError("fractal heap header", err)
	}
	if string(buf[:4]) != "FRHP" {
		return nil, fmt.Errorf("invalid fractal heap signature %q at 0x%X", buf[:4], address)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("unsupported fractal heap version %d", buf[4])
	}

	h := &FractalHeap{
		r:              r,
		sb:             sb,
		Address:        address,
		IDLength:       uint16(utils.ReadUint(buf[5:], 2)),
		FilterLength:   uint16(utils.ReadUint(buf[7:], 2)),
		Flags:          buf[9],
		MaxManagedSize: uint32(utils.ReadUint(buf[10:], 4)),
	}
	// Skip huge object bookkeeping, free space and statistics.
	p := 14 + l + o + l + o + 8*l
	h.TableWidth = uint16(utils.ReadUint(buf[p:], 2))
	p += 2
	h.StartBlockSize = utils.ReadUint(buf[p:], l)
	h.MaxDirectSize = utils.ReadUint(buf[p+l:], l)
	p += 2 * l
	h.MaxHeapBits = uint16(utils.ReadUint(buf[p:], 2))
	p += 4 // max heap size, starting rows
	h.RootAddress = utils.ReadAddress(buf[p:], o)
	h.CurrentRows = uint16(utils.ReadUint(buf[p+o:], 2))

	if h.FilterLength > 0 {
		return nil, fmt.Errorf("%w: filtered fractal heap", core.ErrUnsupported)
	}
	if h.TableWidth == 0 || !isPow2(h.StartBlockSize) || !isPow2(h.MaxDirectSize) || h.MaxDirectSize < h.StartBlockSize {
		return nil, fmt.Errorf("invalid fractal heap doubling table at 0x%X", address)
	}
	if h.MaxHeapBits == 0 || h.MaxHeapBits > 64 {
		return nil, fmt.Errorf("invalid fractal heap size bits %d", h.MaxHeapBits)
	}

	h.heapOffsetSize = int(h.MaxHeapBits+7) / 8
	h.heapLenSize = (log2(h.MaxDirectSize) + 7) / 8
	if n := log2Gen(uint64(h.MaxManagedSize))/8 + 1; n < h.heapLenSize {
		h.heapLenSize = n
	}
	h.maxDirectRows = log2(h.MaxDirectSize) - log2(h.StartBlockSize) + 2
	return h, nil
}

// Object returns the object a heap ID refers to.
func (h *FractalHeap) Object(id []byte) ([]byte, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("empty heap ID")
	}
	switch id[0] & 0x30 {
	case heapIDManaged:
		if len(id) < 1+h.heapOffsetSize+h.heapLenSize {
			return nil, utils.Truncated("managed heap ID", 1+h.heapOffsetSize+h.heapLenSize, len(id))
		}
		offset := utils.ReadUint(id[1:], h.heapOffsetSize)
		length := utils.ReadUint(id[1+h.heapOffsetSize:], h.heapLenSize)
		return h.managed(offset, length)

	case heapIDTiny:
		var n, start int
		if h.IDLength <= 18 {
			n, start = int(id[0]&0x0F)+1, 1
		} else {
			if len(id) < 2 {
				return nil, utils.Truncated("tiny heap ID", 2, len(id))
			}
			n, start = (int(id[0]&0x0F)<<8|int(id[1]))+1, 2
		}
		if len(id) < start+n {
			return nil, utils.Truncated("tiny heap object", start+n, len(id))
		}
		return id[start : start+n], nil

	case heapIDHuge:
		return nil, fmt.Errorf("%w: huge fractal heap object", core.ErrUnsupported)
	}
	return nil, fmt.Errorf("unknown heap ID type 0x%X", id[0]&0x30)
}

// managed locates the direct block holding offset and reads length bytes.
func (h *FractalHeap) managed(offset, length uint64) ([]byte, error) {
	if length > uint64(h.MaxManagedSize) {
		return nil, fmt.Errorf("managed object of %d bytes exceeds heap limit %d", length, h.MaxManagedSize)
	}
	if !utils.IsDefined(h.RootAddress) {
		return nil, fmt.Errorf("fractal heap 0x%X is empty", h.Address)
	}

	blockAddr, blockOffset := h.RootAddress, uint64(0)
	if h.CurrentRows > 0 {
		var err error
		blockAddr, blockOffset, err = h.findDirectBlock(h.RootAddress, 0, int(h.CurrentRows), offset, 0)
		if err != nil {
			return nil, err
		}
	} else if offset+length > h.StartBlockSize {
		return nil, fmt.Errorf("heap offset %d beyond root direct block", offset)
	}

	if err := h.checkBlock(blockAddr, "FHDB"); err != nil {
		return nil, err
	}
	return utils.ReadAt(h.r, blockAddr+(offset-blockOffset), int(length))
}

// rowSize is the block size of doubling table row r.
func (h *FractalHeap) rowSize(r int) uint64 {
	if r < 2 {
		return h.StartBlockSize
	}
	return h.StartBlockSize << uint(r-1)
}

// findDirectBlock descends an indirect block whose heap space starts at
// base and returns the direct block containing offset with its own base.
func (h *FractalHeap) findDirectBlock(addr, base uint64, nrows int, offset uint64, depth int) (uint64, uint64, error) {
	if depth > maxIndirectDepth {
		return 0, 0, fmt.Errorf("fractal heap indirect blocks nested too deep")
	}
	if err := h.checkBlock(addr, "FHIB"); err != nil {
		return 0, 0, err
	}
	o := int(h.sb.OffsetSize)
	width := int(h.TableWidth)
	entriesAt := addr + 5 + uint64(o) + uint64(h.heapOffsetSize) //nolint:gosec // G115: small sizes

	pos := base
	for r := 0; r < nrows; r++ {
		size := h.rowSize(r)
		for c := 0; c < width; c++ {
			if offset < pos+size {
				idx := r*width + c
				raw, err := utils.ReadAt(h.r, entriesAt+uint64(idx*o), o) //nolint:gosec // G115: bounded by nrows*width
				if err != nil {
					return 0, 0, utils.WrapError("fractal heap indirect entry", err)
				}
				child := utils.ReadAddress(raw, o)
				if !utils.IsDefined(child) {
					return 0, 0, fmt.Errorf("heap offset %d falls in an unallocated block", offset)
				}
				if r < h.maxDirectRows {
					return child, pos, nil
				}
				childRows := log2(size) - log2(h.StartBlockSize*uint64(width)) + 1
				return h.findDirectBlock(child, pos, childRows, offset, depth+1)
			}
			pos += size
		}
	}
	return 0, 0, fmt.Errorf("heap offset %d beyond indirect block at 0x%X", offset, addr)
}

func (h *FractalHeap) checkBlock(addr uint64, sig string) error {
	head, err := utils.ReadAt(h.r, addr, 5)
	if err != nil {
		return utils.WrapError("fractal heap block", err)
	}
	if string(head[:4]) != sig {
		return fmt.Errorf("invalid fractal heap block signature %q at 0x%X, want %s", head[:4], addr, sig)
	}
	return nil
}

func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// log2 of a power of two.
func log2(v uint64) int {
	return bits.TrailingZeros64(v)
}

// log2Gen is floor(log2(v)) for any v > 0.
func log2Gen(v uint64) int {
	if v == 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(v)
}
