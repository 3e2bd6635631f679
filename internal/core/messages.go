package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
)

// SymbolTableMessage (type 0x0011) locates the B-tree and local heap of an
// old-style group.
type SymbolTableMessage struct {
	BTreeAddress uint64
	HeapAddress  uint64
}

// ParseSymbolTableMessage decodes a symbol table message.
func ParseSymbolTableMessage(data []byte, sb *Superblock) (*SymbolTableMessage, error) {
	o := int(sb.OffsetSize)
	if len(data) < 2*o {
		return nil, utils.Truncated("symbol table message", 2*o, len(data))
	}
	return &SymbolTableMessage{
		BTreeAddress: utils.ReadAddress(data, o),
		HeapAddress:  utils.ReadAddress(data[o:], o),
	}, nil
}

// EncodeSymbolTableMessage encodes a symbol table message with 8-byte addresses.
func EncodeSymbolTableMessage(btreeAddr, heapAddr uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, btreeAddr)
	binary.LittleEndian.PutUint64(buf[8:], heapAddr)
	return buf
}

// LinkInfoMessage (type 0x0002) is present in new-style groups. A defined
// FractalHeapAddress means the links live in dense storage.
type LinkInfoMessage struct {
	Flags                     uint8
	MaxCreationOrder          uint64
	FractalHeapAddress        uint64
	NameBTreeAddress          uint64
	CreationOrderBTreeAddress uint64
}

// IsDense reports whether links are stored in a fractal heap.
func (m *LinkInfoMessage) IsDense() bool {
	return utils.IsDefined(m.FractalHeapAddress)
}

// ParseLinkInfoMessage decodes a version 0 link info message.
func ParseLinkInfoMessage(data []byte, sb *Superblock) (*LinkInfoMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("link info message too short")
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("unsupported link info version %d", data[0])
	}
	m := &LinkInfoMessage{Flags: data[1], CreationOrderBTreeAddress: utils.UndefinedAddress}
	p := 2
	if m.Flags&0x01 != 0 {
		if len(data) < p+8 {
			return nil, utils.Truncated("link info", p+8, len(data))
		}
		m.MaxCreationOrder = binary.LittleEndian.Uint64(data[p:])
		p += 8
	}
	o := int(sb.OffsetSize)
	if len(data) < p+2*o {
		return nil, utils.Truncated("link info", p+2*o, len(data))
	}
	m.FractalHeapAddress = utils.ReadAddress(data[p:], o)
	m.NameBTreeAddress = utils.ReadAddress(data[p+o:], o)
	p += 2 * o
	if m.Flags&0x02 != 0 && len(data) >= p+o {
		m.CreationOrderBTreeAddress = utils.ReadAddress(data[p:], o)
	}
	return m, nil
}

// AttributeInfoMessage (type 0x0015) points at dense attribute storage.
type AttributeInfoMessage struct {
	Flags                     uint8
	MaxCreationOrder          uint16
	FractalHeapAddress        uint64
	NameBTreeAddress          uint64
	CreationOrderBTreeAddress uint64
}

// IsDense reports whether attributes are stored in a fractal heap.
func (m *AttributeInfoMessage) IsDense() bool {
	return utils.IsDefined(m.FractalHeapAddress)
}

// ParseAttributeInfoMessage decodes a version 0 attribute info message.
func ParseAttributeInfoMessage(data []byte, sb *Superblock) (*AttributeInfoMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("attribute info message too short")
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("unsupported attribute info version %d", data[0])
	}
	m := &AttributeInfoMessage{Flags: data[1], CreationOrderBTreeAddress: utils.UndefinedAddress}
	p := 2
	if m.Flags&0x01 != 0 {
		if len(data) < p+2 {
			return nil, utils.Truncated("attribute info", p+2, len(data))
		}
		m.MaxCreationOrder = binary.LittleEndian.Uint16(data[p:])
		p += 2
	}
	o := int(sb.OffsetSize)
	if len(data) < p+2*o {
		return nil, utils.Truncated("attribute info", p+2*o, len(data))
	}
	m.FractalHeapAddress = utils.ReadAddress(data[p:], o)
	m.NameBTreeAddress = utils.ReadAddress(data[p+o:], o)
	p += 2 * o
	if m.Flags&0x02 != 0 && len(data) >= p+o {
		m.CreationOrderBTreeAddress = utils.ReadAddress(data[p:], o)
	}
	return m, nil
}

// SharedMessage is the body of a message whose shared flag is set: a
// reference to the object header holding the real message.
type SharedMessage struct {
	Version uint8
	Address uint64

	// InSharedHeap marks a reference into the shared object header message
	// heap rather than to an object header.
	InSharedHeap bool
}

// ParseSharedMessage decodes shared message versions 1 to 3.
func ParseSharedMessage(data []byte, sb *Superblock) (*SharedMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("shared message too short")
	}
	o := int(sb.OffsetSize)
	m := &SharedMessage{Version: data[0]}
	p := 2
	switch m.Version {
	case 1:
		p += 6
	case 2:
	case 3:
		switch data[1] {
		case 1:
			m.InSharedHeap = true
			return m, nil
		case 2:
		default:
			return nil, fmt.Errorf("unknown shared message type %d", data[1])
		}
	default:
		return nil, fmt.Errorf("unsupported shared message version %d", m.Version)
	}
	if len(data) < p+o {
		return nil, utils.Truncated("shared message", p+o, len(data))
	}
	m.Address = utils.ReadAddress(data[p:], o)
	return m, nil
}

// Space allocation times used in fill value messages.
const (
	AllocTimeEarly       = 1
	AllocTimeIncremental = 3
)

// EncodeFillValueMessage encodes a version 2 fill value message with no
// user-defined value, so readers fill with zeros.
func EncodeFillValueMessage(allocTime uint8) []byte {
	return []byte{2, allocTime, 2, 0}
}
