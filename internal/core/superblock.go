package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/utils"
)

// Signature is the 8-byte HDF5 format signature.
const Signature = "\x89HDF\r\n\x1a\n"

// Default B-tree K values written into v0 superblocks. They match the
// libhdf5 defaults so files are readable with default property lists.
const (
	DefaultGroupLeafK     = 4
	DefaultGroupInternalK = 16
	DefaultChunkK         = 32
)

// SuperblockV0Size is the encoded size of a v0 superblock with 8-byte
// offsets and lengths, including the root symbol table entry.
const SuperblockV0Size = 96

// Superblock holds the file-level metadata needed to decode everything else.
type Superblock struct {
	Version    uint8
	OffsetSize uint8
	LengthSize uint8

	GroupLeafK     uint16
	GroupInternalK uint16
	ChunkK         uint16

	// BaseAddress is the absolute file offset all other addresses are
	// relative to. Readers are wrapped so that it is already applied.
	BaseAddress uint64
	EOFAddress  uint64

	// RootGroup is the object header address of "/".
	RootGroup uint64

	// RootBTree and RootHeap come from the root symbol table entry's scratch
	// pad in v0/v1 superblocks. They are undefined for v2+.
	RootBTree uint64
	RootHeap  uint64

	Endianness binary.ByteOrder
}

// ReadSuperblock locates and decodes the superblock. The signature is
// searched at 0, 512, 1024, 2048, ... to skip a user block.
func ReadSuperblock(r io.ReaderAt) (*Superblock, error) {
	var (
		buf []byte
		at  uint64
	)
	for at = 0; ; at = nextSignatureOffset(at) {
		b := make([]byte, 128)
		//nolint:gosec // G115: search offsets are small
		n, err := r.ReadAt(b, int64(at))
		if n < 8 {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, utils.WrapError("superblock read failed", err)
			}
			return nil, errors.New("invalid HDF5 signature")
		}
		if string(b[:8]) == Signature {
			buf = b[:n]
			break
		}
		if at > 1<<30 {
			return nil, errors.New("invalid HDF5 signature")
		}
	}

	if len(buf) < 9 {
		return nil, utils.Truncated("superblock", 9, len(buf))
	}

	var (
		sb  *Superblock
		err error
	)
	switch version := buf[8]; version {
	case 0, 1:
		sb, err = decodeSuperblockV0(buf)
	case 2, 3:
		sb, err = decodeSuperblockV2(buf)
	default:
		return nil, fmt.Errorf("unsupported superblock version: %d", version)
	}
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("superblock v%d", buf[8]), err)
	}

	if sb.BaseAddress == 0 && at > 0 {
		sb.BaseAddress = at
	}
	return sb, nil
}

func nextSignatureOffset(at uint64) uint64 {
	if at == 0 {
		return 512
	}
	return at * 2
}

// decodeSuperblockV0 handles versions 0 and 1. Version 1 adds the indexed
// storage K and two reserved bytes before the addresses.
func decodeSuperblockV0(buf []byte) (*Superblock, error) {
	if len(buf) < 24 {
		return nil, utils.Truncated("superblock", 24, len(buf))
	}
	sb := &Superblock{
		Version:        buf[8],
		OffsetSize:     buf[13],
		LengthSize:     buf[14],
		GroupLeafK:     binary.LittleEndian.Uint16(buf[16:18]),
		GroupInternalK: binary.LittleEndian.Uint16(buf[18:20]),
		ChunkK:         DefaultChunkK,
		Endianness:     binary.LittleEndian,
	}
	if err := sb.checkSizes(); err != nil {
		return nil, err
	}

	p := 24
	if sb.Version == 1 {
		sb.ChunkK = binary.LittleEndian.Uint16(buf[24:26])
		p = 28
	}

	o := int(sb.OffsetSize)
	need := p + 4*o + 2*o + 8 + 16
	if len(buf) < need {
		return nil, utils.Truncated("superblock", need, len(buf))
	}

	sb.BaseAddress = utils.ReadAddress(buf[p:], o)
	p += 2 * o // base address, free-space info address
	sb.EOFAddress = utils.ReadAddress(buf[p:], o)
	p += 2 * o // end-of-file address, driver info address

	// Root group symbol table entry: link name offset, object header
	// address, cache type, reserved, 16-byte scratch pad.
	p += o
	sb.RootGroup = utils.ReadAddress(buf[p:], o)
	p += o
	cacheType := binary.LittleEndian.Uint32(buf[p:])
	p += 8
	sb.RootBTree, sb.RootHeap = utils.UndefinedAddress, utils.UndefinedAddress
	if cacheType == 1 {
		sb.RootBTree = utils.ReadAddress(buf[p:], o)
		sb.RootHeap = utils.ReadAddress(buf[p+o:], o)
	}
	if sb.GroupLeafK == 0 || sb.GroupInternalK == 0 {
		return nil, fmt.Errorf("invalid B-tree K values %d/%d", sb.GroupLeafK, sb.GroupInternalK)
	}
	return sb, nil
}

// decodeSuperblockV2 handles versions 2 and 3: sizes, flags, four
// addresses and a lookup3 checksum.
func decodeSuperblockV2(buf []byte) (*Superblock, error) {
	if len(buf) < 12 {
		return nil, utils.Truncated("superblock", 12, len(buf))
	}
	sb := &Superblock{
		Version:        buf[8],
		OffsetSize:     buf[9],
		LengthSize:     buf[10],
		GroupLeafK:     DefaultGroupLeafK,
		GroupInternalK: DefaultGroupInternalK,
		ChunkK:         DefaultChunkK,
		RootBTree:      utils.UndefinedAddress,
		RootHeap:       utils.UndefinedAddress,
		Endianness:     binary.LittleEndian,
	}
	if err := sb.checkSizes(); err != nil {
		return nil, err
	}

	o := int(sb.OffsetSize)
	end := 12 + 4*o
	if len(buf) < end+4 {
		return nil, utils.Truncated("superblock", end+4, len(buf))
	}
	if sum := checksumLookup3(buf[:end]); sum != binary.LittleEndian.Uint32(buf[end:]) {
		return nil, fmt.Errorf("superblock checksum mismatch")
	}

	sb.BaseAddress = utils.ReadAddress(buf[12:], o)
	sb.EOFAddress = utils.ReadAddress(buf[12+2*o:], o)
	sb.RootGroup = utils.ReadAddress(buf[12+3*o:], o)
	return sb, nil
}

func (sb *Superblock) checkSizes() error {
	for _, s := range []uint8{sb.OffsetSize, sb.LengthSize} {
		if s != 2 && s != 4 && s != 8 {
			return fmt.Errorf("unsupported offset/length size %d", s)
		}
	}
	return nil
}

// NewSuperblockV0 describes the output files this module writes: version
// 0, 8-byte offsets and lengths, libhdf5 default K values.
func NewSuperblockV0() *Superblock {
	return &Superblock{
		Version:        0,
		OffsetSize:     8,
		LengthSize:     8,
		GroupLeafK:     DefaultGroupLeafK,
		GroupInternalK: DefaultGroupInternalK,
		ChunkK:         DefaultChunkK,
		RootGroup:      utils.UndefinedAddress,
		RootBTree:      utils.UndefinedAddress,
		RootHeap:       utils.UndefinedAddress,
		Endianness:     binary.LittleEndian,
	}
}

// EncodeV0 encodes a version 0 superblock. The root symbol table entry
// carries cache type 1 with the root B-tree and heap addresses so that old
// readers can find the root group without reading its object header.
func (sb *Superblock) EncodeV0() ([]byte, error) {
	if sb.OffsetSize != 8 || sb.LengthSize != 8 {
		return nil, fmt.Errorf("v0 encoding supports 8-byte offsets only")
	}
	buf := make([]byte, SuperblockV0Size)
	copy(buf, Signature)
	// versions: superblock, free-space, root group entry, reserved, shared header
	buf[13] = sb.OffsetSize
	buf[14] = sb.LengthSize
	binary.LittleEndian.PutUint16(buf[16:], sb.GroupLeafK)
	binary.LittleEndian.PutUint16(buf[18:], sb.GroupInternalK)

	binary.LittleEndian.PutUint64(buf[24:], 0)
	binary.LittleEndian.PutUint64(buf[32:], utils.UndefinedAddress)
	binary.LittleEndian.PutUint64(buf[40:], sb.EOFAddress)
	binary.LittleEndian.PutUint64(buf[48:], utils.UndefinedAddress)

	binary.LittleEndian.PutUint64(buf[56:], 0)
	binary.LittleEndian.PutUint64(buf[64:], sb.RootGroup)
	binary.LittleEndian.PutUint32(buf[72:], 1)
	binary.LittleEndian.PutUint64(buf[80:], sb.RootBTree)
	binary.LittleEndian.PutUint64(buf[88:], sb.RootHeap)
	return buf, nil
}

// WriteTo writes the v0 superblock at address 0.
func (sb *Superblock) WriteTo(w io.WriterAt) error {
	buf, err := sb.EncodeV0()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(buf, 0); err != nil {
		return utils.WrapError("superblock write failed", err)
	}
	return nil
}
