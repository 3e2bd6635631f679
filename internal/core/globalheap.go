package core

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/utils"
)

// GlobalHeapMinSize is the smallest collection libhdf5 creates.
const GlobalHeapMinSize = 4096

// GlobalHeapCollection is a decoded "GCOL" block holding the elements of
// variable-length data.
type GlobalHeapCollection struct {
	Address uint64
	Size    uint64
	Objects map[uint32][]byte
}

// ReadGlobalHeapCollection reads the collection at address. Object 0 marks
// the free space at the end of the collection and stops the scan.
func ReadGlobalHeapCollection(r io.ReaderAt, address uint64, sb *Superblock) (*GlobalHeapCollection, error) {
	l := int(sb.LengthSize)
	head, err := utils.ReadAt(r, address, 8+l)
	if err != nil {
		return nil, utils.WrapError("global heap header", err)
	}
	if string(head[:4]) != "GCOL" {
		return nil, fmt.Errorf("invalid global heap signature %q at 0x%X", head[:4], address)
	}
	if head[4] != 1 {
		return nil, fmt.Errorf("unsupported global heap version %d", head[4])
	}
	size := utils.ReadUint(head[8:], l)
	if size < uint64(8+l) || size > utils.MaxAttributeSize {
		return nil, fmt.Errorf("invalid global heap collection size %d", size)
	}
	data, err := utils.ReadAt(r, address, int(size))
	if err != nil {
		return nil, utils.WrapError("global heap collection", err)
	}

	gc := &GlobalHeapCollection{Address: address, Size: size, Objects: make(map[uint32][]byte)}
	p := int(utils.Align8(uint64(8 + l)))
	for p+8+l <= len(data) {
		id := binary.LittleEndian.Uint16(data[p:])
		objSize := utils.ReadUint(data[p+8:], l)
		if id == 0 {
			break
		}
		start := p + 8 + l
		if objSize > uint64(len(data)-start) {
			return nil, fmt.Errorf("global heap object %d extends beyond collection", id)
		}
		gc.Objects[uint32(id)] = data[start : start+int(objSize)]
		p = start + int(utils.Align8(objSize))
	}
	return gc, nil
}

// Object returns the data of object index.
func (gc *GlobalHeapCollection) Object(index uint32) ([]byte, error) {
	obj, ok := gc.Objects[index]
	if !ok {
		return nil, fmt.Errorf("global heap 0x%X has no object %d", gc.Address, index)
	}
	return obj, nil
}

// VarLenRefSize is the size of one variable-length element with 8-byte
// addresses: sequence length, collection address and object index.
const VarLenRefSize = 16

// VarLenRef is one variable-length element as stored in a dataset or
// attribute.
type VarLenRef struct {
	Length      uint32
	HeapAddress uint64
	Index       uint32
}

// ParseVarLenRef decodes a variable-length element.
func ParseVarLenRef(data []byte, sb *Superblock) (VarLenRef, error) {
	o := int(sb.OffsetSize)
	if len(data) < 8+o {
		return VarLenRef{}, utils.Truncated("vlen reference", 8+o, len(data))
	}
	return VarLenRef{
		Length:      binary.LittleEndian.Uint32(data),
		HeapAddress: utils.ReadAddress(data[4:], o),
		Index:       binary.LittleEndian.Uint32(data[4+o:]),
	}, nil
}

// Encode writes the element with an 8-byte address into buf.
func (v VarLenRef) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf, v.Length)
	binary.LittleEndian.PutUint64(buf[4:], v.HeapAddress)
	binary.LittleEndian.PutUint32(buf[12:], v.Index)
}

// GlobalHeapBuilder accumulates objects for a new collection.
type GlobalHeapBuilder struct {
	objects [][]byte
}

// Add appends obj and returns its 1-based index.
func (b *GlobalHeapBuilder) Add(obj []byte) uint32 {
	b.objects = append(b.objects, obj)
	return uint32(len(b.objects)) //nolint:gosec // G115: bounded by Encode
}

// Len returns the number of objects added.
func (b *GlobalHeapBuilder) Len() int {
	return len(b.objects)
}

// Encode lays the collection out with 8-byte lengths and pads it to at
// least GlobalHeapMinSize with a trailing free space object.
func (b *GlobalHeapBuilder) Encode() ([]byte, error) {
	if len(b.objects) > 0xFFFF {
		return nil, fmt.Errorf("too many global heap objects: %d", len(b.objects))
	}
	size := uint64(16)
	for _, obj := range b.objects {
		size += 16 + utils.Align8(uint64(len(obj)))
	}
	if size+16 <= GlobalHeapMinSize {
		size = GlobalHeapMinSize
	} else {
		size += 16
	}

	buf := make([]byte, size)
	copy(buf, "GCOL")
	buf[4] = 1
	binary.LittleEndian.PutUint64(buf[8:], size)
	p := uint64(16)
	for i, obj := range b.objects {
		binary.LittleEndian.PutUint16(buf[p:], uint16(i+1)) //nolint:gosec // G115: checked above
		binary.LittleEndian.PutUint16(buf[p+2:], 1)
		binary.LittleEndian.PutUint64(buf[p+8:], uint64(len(obj)))
		copy(buf[p+16:], obj)
		p += 16 + utils.Align8(uint64(len(obj)))
	}
	// Free space object: its size counts its own header.
	binary.LittleEndian.PutUint64(buf[p+8:], size-p)
	return buf, nil
}
