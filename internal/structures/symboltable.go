package structures

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// Symbol table entry cache types.
const (
	CacheNone        = 0
	CacheSymbolTable = 1
	CacheSoftLink    = 2
)

// EntrySize is the size of a symbol table entry with 8-byte offsets.
const EntrySize = 40

// SNODCapacity is the number of entries a symbol table node holds with the
// default group leaf K.
const SNODCapacity = 2 * core.DefaultGroupLeafK

// SNODSize is the allocated size of a symbol table node.
const SNODSize = 8 + SNODCapacity*EntrySize

// Entry is one symbol table entry: a link name in the local heap and the
// object it names. Cached B-tree and heap addresses are set for groups;
// soft links keep their target's heap offset instead of an address.
type Entry struct {
	NameOffset     uint64
	ObjectAddress  uint64
	CacheType      uint32
	BTreeAddress   uint64
	HeapAddress    uint64
	SoftLinkOffset uint32
}

// IsSoftLink reports an entry naming a soft link.
func (e *Entry) IsSoftLink() bool {
	return e.CacheType == CacheSoftLink
}

// DecodeEntry decodes a symbol table entry. buf must hold 2·O+24 bytes.
func DecodeEntry(buf []byte, sb *core.Superblock) Entry {
	o := int(sb.OffsetSize)
	e := Entry{
		NameOffset:    utils.ReadUint(buf, o),
		ObjectAddress: utils.ReadAddress(buf[o:], o),
		CacheType:     binary.LittleEndian.Uint32(buf[2*o:]),
	}
	scratch := buf[2*o+8:]
	switch e.CacheType {
	case CacheSymbolTable:
		e.BTreeAddress = utils.ReadAddress(scratch, o)
		e.HeapAddress = utils.ReadAddress(scratch[o:], o)
	case CacheSoftLink:
		e.SoftLinkOffset = binary.LittleEndian.Uint32(scratch)
	}
	return e
}

// Encode writes the entry with 8-byte offsets into buf.
func (e *Entry) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf, e.NameOffset)
	binary.LittleEndian.PutUint64(buf[8:], e.ObjectAddress)
	binary.LittleEndian.PutUint32(buf[16:], e.CacheType)
	switch e.CacheType {
	case CacheSymbolTable:
		binary.LittleEndian.PutUint64(buf[24:], e.BTreeAddress)
		binary.LittleEndian.PutUint64(buf[32:], e.HeapAddress)
	case CacheSoftLink:
		binary.LittleEndian.PutUint32(buf[24:], e.SoftLinkOffset)
	}
}

// ReadSNOD reads the entries of a symbol table node.
func ReadSNOD(r io.ReaderAt, address uint64, sb *core.Superblock) ([]Entry, error) {
	head, err := utils.ReadAt(r, address, 8)
	if err != nil {
		return nil, utils.WrapError("symbol table node", err)
	}
	if string(head[:4]) != "SNOD" {
		return nil, fmt.Errorf("invalid symbol table node signature %q at 0x%X", head[:4], address)
	}
	if head[4] != 1 {
		return nil, fmt.Errorf("unsupported symbol table node version %d", head[4])
	}
	count := int(binary.LittleEndian.Uint16(head[6:]))
	if count > 2*int(sb.GroupLeafK) {
		return nil, fmt.Errorf("symbol table node holds %d entries, capacity %d", count, 2*sb.GroupLeafK)
	}

	size := 2*int(sb.OffsetSize) + 24
	body, err := utils.ReadAt(r, address+8, count*size)
	if err != nil {
		return nil, utils.WrapError("symbol table entries", err)
	}
	entries := make([]Entry, count)
	for i := range entries {
		entries[i] = DecodeEntry(body[i*size:], sb)
	}
	return entries, nil
}

// EncodeSNOD encodes a full-capacity symbol table node. Entries must
// already be sorted by name.
func EncodeSNOD(entries []Entry) ([]byte, error) {
	if len(entries) == 0 || len(entries) > SNODCapacity {
		return nil, fmt.Errorf("symbol table node needs 1..%d entries, got %d", SNODCapacity, len(entries))
	}
	buf := make([]byte, SNODSize)
	copy(buf, "SNOD")
	buf[4] = 1
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(entries))) //nolint:gosec // G115: checked above
	for i := range entries {
		entries[i].Encode(buf[8+i*EntrySize:])
	}
	return buf, nil
}
