package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
)

// DataLayoutClass is the storage class of a dataset.
type DataLayoutClass uint8

// Storage classes.
const (
	LayoutCompact    DataLayoutClass = 0
	LayoutContiguous DataLayoutClass = 1
	LayoutChunked    DataLayoutClass = 2
	LayoutVirtual    DataLayoutClass = 3
)

func (c DataLayoutClass) String() string {
	switch c {
	case LayoutCompact:
		return "compact"
	case LayoutContiguous:
		return "contiguous"
	case LayoutChunked:
		return "chunked"
	case LayoutVirtual:
		return "virtual"
	}
	return fmt.Sprintf("layout-%d", uint8(c))
}

// ChunkIndexType names the structure indexing the chunks of a dataset.
type ChunkIndexType uint8

// Chunk indexes. Layout versions below 4 always use a version 1 B-tree.
const (
	ChunkIndexBTreeV1         ChunkIndexType = 0
	ChunkIndexSingleChunk     ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

// DataLayoutMessage is a decoded layout message (type 0x0008).
type DataLayoutMessage struct {
	Version uint8
	Class   DataLayoutClass

	// Address is the contiguous data address or the chunk index address.
	Address uint64

	// Size is the contiguous storage size. Layout versions 1 and 2 do not
	// record it; it is zero then and must be derived from the dataspace.
	Size uint64

	CompactData []byte

	// ChunkDims are the chunk dimensions followed by the element size.
	ChunkDims []uint32

	IndexType    ChunkIndexType
	ChunkFlags   uint8
	FilteredSize uint64 // single chunk index with filters
	FilterMask   uint32 // single chunk index with filters
}

// ParseDataLayoutMessage decodes layout versions 1 through 4.
func ParseDataLayoutMessage(data []byte, sb *Superblock) (*DataLayoutMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("layout message too short")
	}
	msg := &DataLayoutMessage{Version: data[0], Address: utils.UndefinedAddress}
	var err error
	switch msg.Version {
	case 1, 2:
		err = msg.parseV1(data, sb)
	case 3, 4:
		err = msg.parseV3(data, sb)
	default:
		err = fmt.Errorf("unsupported layout version %d", msg.Version)
	}
	if err != nil {
		return nil, utils.WrapError("layout message", err)
	}
	return msg, nil
}

// parseV1 handles versions 1 and 2: dimensionality, class, 5 reserved
// bytes, an address unless compact, 4-byte dimensions, the element size
// for chunked storage and the inline data for compact storage.
func (msg *DataLayoutMessage) parseV1(data []byte, sb *Superblock) error {
	if len(data) < 8 {
		return utils.Truncated("layout", 8, len(data))
	}
	ndims := int(data[1])
	msg.Class = DataLayoutClass(data[2])
	p := 8
	o := int(sb.OffsetSize)
	if msg.Class != LayoutCompact {
		if len(data) < p+o {
			return utils.Truncated("layout address", p+o, len(data))
		}
		msg.Address = utils.ReadAddress(data[p:], o)
		p += o
	}
	if len(data) < p+4*ndims {
		return utils.Truncated("layout dims", p+4*ndims, len(data))
	}
	dims := make([]uint32, ndims)
	for i := range dims {
		dims[i] = binary.LittleEndian.Uint32(data[p:])
		p += 4
	}

	switch msg.Class {
	case LayoutChunked:
		if len(data) < p+4 {
			return utils.Truncated("layout element size", p+4, len(data))
		}
		msg.ChunkDims = append(dims, binary.LittleEndian.Uint32(data[p:]))
	case LayoutCompact:
		if len(data) < p+4 {
			return utils.Truncated("compact size", p+4, len(data))
		}
		size := int(binary.LittleEndian.Uint32(data[p:]))
		p += 4
		if len(data) < p+size {
			return utils.Truncated("compact data", p+size, len(data))
		}
		msg.CompactData = data[p : p+size]
	case LayoutContiguous:
	default:
		return fmt.Errorf("unknown layout class %d", msg.Class)
	}
	return nil
}

// parseV3 handles versions 3 and 4, which share compact and contiguous
// encodings. Version 4 chunked layouts carry variable-width dimensions and
// an explicit chunk index type.
func (msg *DataLayoutMessage) parseV3(data []byte, sb *Superblock) error {
	msg.Class = DataLayoutClass(data[1])
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	p := 2

	switch msg.Class {
	case LayoutCompact:
		if len(data) < p+2 {
			return utils.Truncated("compact size", p+2, len(data))
		}
		size := int(binary.LittleEndian.Uint16(data[p:]))
		p += 2
		if len(data) < p+size {
			return utils.Truncated("compact data", p+size, len(data))
		}
		msg.CompactData = data[p : p+size]
		return nil

	case LayoutContiguous:
		if len(data) < p+o+l {
			return utils.Truncated("contiguous layout", p+o+l, len(data))
		}
		msg.Address = utils.ReadAddress(data[p:], o)
		msg.Size = utils.ReadUint(data[p+o:], l)
		return nil

	case LayoutChunked:
		if msg.Version == 3 {
			return msg.parseChunkedV3(data, o)
		}
		return msg.parseChunkedV4(data, o, l)

	case LayoutVirtual:
		return fmt.Errorf("%w: virtual dataset layout", ErrUnsupported)
	}
	return fmt.Errorf("unknown layout class %d", msg.Class)
}

func (msg *DataLayoutMessage) parseChunkedV3(data []byte, o int) error {
	if len(data) < 3 {
		return utils.Truncated("chunked layout", 3, len(data))
	}
	ndims := int(data[2])
	p := 3
	if len(data) < p+o+4*ndims {
		return utils.Truncated("chunked layout", p+o+4*ndims, len(data))
	}
	msg.IndexType = ChunkIndexBTreeV1
	msg.Address = utils.ReadAddress(data[p:], o)
	p += o
	msg.ChunkDims = make([]uint32, ndims)
	for i := range msg.ChunkDims {
		msg.ChunkDims[i] = binary.LittleEndian.Uint32(data[p:])
		p += 4
	}
	return nil
}

func (msg *DataLayoutMessage) parseChunkedV4(data []byte, o, l int) error {
	if len(data) < 5 {
		return utils.Truncated("chunked layout", 5, len(data))
	}
	msg.ChunkFlags = data[2]
	ndims := int(data[3])
	width := int(data[4])
	if width < 1 || width > 8 {
		return fmt.Errorf("invalid chunk dimension width %d", width)
	}
	p := 5
	if len(data) < p+ndims*width+1 {
		return utils.Truncated("chunked layout dims", p+ndims*width+1, len(data))
	}
	msg.ChunkDims = make([]uint32, ndims)
	for i := range msg.ChunkDims {
		v := utils.ReadUint(data[p:], width)
		if v > 0xFFFFFFFF {
			return fmt.Errorf("chunk dimension %d too large: %d", i, v)
		}
		msg.ChunkDims[i] = uint32(v)
		p += width
	}

	msg.IndexType = ChunkIndexType(data[p])
	p++
	switch msg.IndexType {
	case ChunkIndexSingleChunk:
		if msg.ChunkFlags&0x02 != 0 {
			if len(data) < p+l+4 {
				return utils.Truncated("single chunk info", p+l+4, len(data))
			}
			msg.FilteredSize = utils.ReadUint(data[p:], l)
			msg.FilterMask = binary.LittleEndian.Uint32(data[p+l:])
			p += l + 4
		}
	case ChunkIndexImplicit:
	case ChunkIndexFixedArray:
		p++
	case ChunkIndexExtensibleArray:
		p += 5
	case ChunkIndexBTreeV2:
		p += 6
	default:
		return fmt.Errorf("unknown chunk index type %d", msg.IndexType)
	}
	if len(data) < p+o {
		return utils.Truncated("chunk index address", p+o, len(data))
	}
	msg.Address = utils.ReadAddress(data[p:], o)
	return nil
}

// ElementSize is the trailing chunk dimension of a chunked layout.
func (msg *DataLayoutMessage) ElementSize() uint32 {
	if len(msg.ChunkDims) == 0 {
		return 0
	}
	return msg.ChunkDims[len(msg.ChunkDims)-1]
}

// ChunkBytes is the byte size of one unfiltered chunk.
func (msg *DataLayoutMessage) ChunkBytes() (uint64, error) {
	if msg.Class != LayoutChunked || len(msg.ChunkDims) < 2 {
		return 0, fmt.Errorf("not a chunked layout")
	}
	n := len(msg.ChunkDims) - 1
	return utils.CalculateChunkSize(msg.ChunkDims[:n], uint64(msg.ChunkDims[n]))
}

// IsChunked reports chunked storage.
func (msg *DataLayoutMessage) IsChunked() bool {
	return msg.Class == LayoutChunked
}

// EncodeCompactLayout encodes a version 3 compact layout holding data.
func EncodeCompactLayout(data []byte) ([]byte, error) {
	if len(data) > maxMessageSize-4 {
		return nil, fmt.Errorf("compact data of %d bytes does not fit a header message", len(data))
	}
	buf := make([]byte, 4+len(data))
	buf[0], buf[1] = 3, byte(LayoutCompact)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(data))) //nolint:gosec // G115: checked above
	copy(buf[4:], data)
	return buf, nil
}

// EncodeContiguousLayout encodes a version 3 contiguous layout.
func EncodeContiguousLayout(address, size uint64) []byte {
	buf := make([]byte, 18)
	buf[0], buf[1] = 3, byte(LayoutContiguous)
	binary.LittleEndian.PutUint64(buf[2:], address)
	binary.LittleEndian.PutUint64(buf[10:], size)
	return buf
}

// EncodeChunkedLayout encodes a version 3 chunked layout indexed by a
// version 1 B-tree at btreeAddr. chunkDims includes the element size.
func EncodeChunkedLayout(btreeAddr uint64, chunkDims []uint32) ([]byte, error) {
	if len(chunkDims) < 2 || len(chunkDims) > 33 {
		return nil, fmt.Errorf("invalid chunk dimensionality %d", len(chunkDims))
	}
	buf := make([]byte, 11+4*len(chunkDims))
	buf[0], buf[1] = 3, byte(LayoutChunked)
	buf[2] = byte(len(chunkDims))
	binary.LittleEndian.PutUint64(buf[3:], btreeAddr)
	for i, d := range chunkDims {
		if d == 0 {
			return nil, fmt.Errorf("chunk dimension %d is zero", i)
		}
		binary.LittleEndian.PutUint32(buf[11+4*i:], d)
	}
	return buf, nil
}
