package core

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/utils"
)

// ObjectType identifies the kind of object an object header describes.
type ObjectType uint8

// Object kinds.
const (
	ObjectTypeGroup ObjectType = iota
	ObjectTypeDataset
	ObjectTypeDatatype
	ObjectTypeUnknown
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypeGroup:
		return "group"
	case ObjectTypeDataset:
		return "dataset"
	case ObjectTypeDatatype:
		return "datatype"
	default:
		return "unknown"
	}
}

// MessageType identifies a header message.
type MessageType uint16

// Header message types handled by the codec.
const (
	MsgNil             MessageType = 0x00
	MsgDataspace       MessageType = 0x01
	MsgLinkInfo        MessageType = 0x02
	MsgDatatype        MessageType = 0x03
	MsgFillValueOld    MessageType = 0x04
	MsgFillValue       MessageType = 0x05
	MsgLink            MessageType = 0x06
	MsgExternalFiles   MessageType = 0x07
	MsgDataLayout      MessageType = 0x08
	MsgBogus           MessageType = 0x09
	MsgGroupInfo       MessageType = 0x0A
	MsgFilterPipeline  MessageType = 0x0B
	MsgAttribute       MessageType = 0x0C
	MsgComment         MessageType = 0x0D
	MsgModTimeOld      MessageType = 0x0E
	MsgSharedTable     MessageType = 0x0F
	MsgContinuation    MessageType = 0x10
	MsgSymbolTable     MessageType = 0x11
	MsgModTime         MessageType = 0x12
	MsgBTreeK          MessageType = 0x13
	MsgDriverInfo      MessageType = 0x14
	MsgAttributeInfo   MessageType = 0x15
	MsgRefCount        MessageType = 0x16
	MsgFileSpaceInfo   MessageType = 0x17
)

// Header message flag bits.
const (
	MsgFlagConstant    = 0x01
	MsgFlagShared      = 0x02
	MsgFlagNotShared   = 0x04
	MsgFlagFailUnknown = 0x08
)

// HeaderMessage is one raw message of an object header. Data is the message
// body without the per-message header; in v1 headers it includes the
// trailing alignment padding.
type HeaderMessage struct {
	Type   MessageType
	Flags  uint8
	Offset uint64
	Data   []byte
}

// Shared reports whether the message body is a reference to a shared message.
func (m *HeaderMessage) Shared() bool {
	return m.Flags&MsgFlagShared != 0
}

// ObjectHeader is a decoded object header with all continuation chunks
// folded into one message list.
type ObjectHeader struct {
	Address  uint64
	Version  uint8
	Flags    uint8
	RefCount uint32
	Type     ObjectType
	Messages []*HeaderMessage
}

// maxHeaderChunks bounds continuation chains in damaged files.
const maxHeaderChunks = 4096

// ReadObjectHeader decodes the object header at address. Version 1 headers
// start with a version byte of 1; version 2 headers start with "OHDR".
func ReadObjectHeader(r io.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	if !utils.IsDefined(address) {
		return nil, fmt.Errorf("object header address is undefined")
	}
	prefix, err := utils.ReadAt(r, address, 4)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("object header at 0x%X", address), err)
	}

	var oh *ObjectHeader
	if string(prefix) == "OHDR" {
		oh, err = readV2Header(r, address, sb)
	} else if prefix[0] == 1 {
		oh, err = readV1Header(r, address, sb)
	} else {
		err = fmt.Errorf("unknown object header version %d", prefix[0])
	}
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("object header at 0x%X", address), err)
	}
	oh.Address = address
	oh.Type = determineObjectType(oh.Messages)
	return oh, nil
}

// Find returns the first message of type t, or nil.
func (h *ObjectHeader) Find(t MessageType) *HeaderMessage {
	for _, m := range h.Messages {
		if m.Type == t {
			return m
		}
	}
	return nil
}

// FindAll returns every message of type t in header order.
func (h *ObjectHeader) FindAll(t MessageType) []*HeaderMessage {
	var out []*HeaderMessage
	for _, m := range h.Messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func determineObjectType(messages []*HeaderMessage) ObjectType {
	var hasDatatype, hasDataspace bool
	for _, m := range messages {
		switch m.Type {
		case MsgSymbolTable, MsgLinkInfo, MsgGroupInfo, MsgLink:
			return ObjectTypeGroup
		case MsgDataLayout:
			return ObjectTypeDataset
		case MsgDatatype:
			hasDatatype = true
		case MsgDataspace:
			hasDataspace = true
		}
	}
	if hasDatatype && !hasDataspace {
		return ObjectTypeDatatype
	}
	return ObjectTypeUnknown
}

// Continuation locates another chunk of an object header.
type Continuation struct {
	Address uint64
	Length  uint64
}

// readV1Header decodes a version 1 header.
//
// Prefix (16 bytes): version, reserved, message count (2), reference count
// (4), size of the first chunk (4), padding to 8. Each message: type (2),
// size (2), flags (1), reserved (3), then size bytes of 8-aligned data.
func readV1Header(r io.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	prefix, err := utils.ReadAt(r, address, 16)
	if err != nil {
		return nil, err
	}
	oh := &ObjectHeader{
		Version:  1,
		RefCount: binary.LittleEndian.Uint32(prefix[4:8]),
	}
	numMessages := int(binary.LittleEndian.Uint16(prefix[2:4]))
	queue := []Continuation{{Address: address + 16, Length: uint64(binary.LittleEndian.Uint32(prefix[8:12]))}}

	for i := 0; i < len(queue); i++ {
		if i >= maxHeaderChunks {
			return nil, fmt.Errorf("too many header continuation chunks")
		}
		chunk := queue[i]
		buf, err := utils.ReadAt(r, chunk.Address, int(chunk.Length))
		if err != nil {
			return nil, fmt.Errorf("chunk at 0x%X: %w", chunk.Address, err)
		}

		for p := 0; p+8 <= len(buf) && len(oh.Messages) < numMessages; {
			size := int(binary.LittleEndian.Uint16(buf[p+2 : p+4]))
			if p+8+size > len(buf) {
				return nil, fmt.Errorf("message at chunk offset %d overruns chunk", p)
			}
			msg := &HeaderMessage{
				Type:   MessageType(binary.LittleEndian.Uint16(buf[p : p+2])),
				Flags:  buf[p+4],
				Offset: chunk.Address + uint64(p) + 8, //nolint:gosec // G115: p is bounded by chunk size
				Data:   buf[p+8 : p+8+size],
			}
			oh.Messages = append(oh.Messages, msg)
			if msg.Type == MsgContinuation {
				c, err := ParseContinuation(msg.Data, sb)
				if err != nil {
					return nil, err
				}
				queue = append(queue, c)
			}
			p += 8 + size
		}
	}
	return oh, nil
}

// readV2Header decodes a version 2 header.
//
// Prefix: "OHDR", version, flags, optional times (flag 0x20), optional
// attribute phase change values (flag 0x10), chunk #0 size in 1/2/4/8 bytes
// (flag bits 0-1). Messages: type (1), size (2), flags (1), creation order
// (2, if flag 0x04). Every chunk ends with a lookup3 checksum.
func readV2Header(r io.ReaderAt, address uint64, sb *Superblock) (*ObjectHeader, error) {
	head, err := utils.ReadAt(r, address, 6)
	if err != nil {
		return nil, err
	}
	if head[4] != 2 {
		return nil, fmt.Errorf("unsupported OHDR version %d", head[4])
	}
	oh := &ObjectHeader{Version: 2, Flags: head[5], RefCount: 1}

	prefixLen := 6
	if oh.Flags&0x20 != 0 {
		prefixLen += 16
	}
	if oh.Flags&0x10 != 0 {
		prefixLen += 4
	}
	sizeWidth := 1 << (oh.Flags & 0x03)

	//nolint:gosec // G115: prefixLen is at most 26
	sizeBuf, err := utils.ReadAt(r, address+uint64(prefixLen), sizeWidth)
	if err != nil {
		return nil, err
	}
	chunk0 := utils.ReadUint(sizeBuf, sizeWidth)
	start := prefixLen + sizeWidth

	//nolint:gosec // G115: chunk sizes are bounded by the file
	whole, err := utils.ReadAt(r, address, start+int(chunk0)+4)
	if err != nil {
		return nil, err
	}
	if err := verifyChecksum(whole, "object header"); err != nil {
		return nil, err
	}

	trackOrder := oh.Flags&0x04 != 0
	//nolint:gosec // G115: start is small
	conts, err := oh.parseV2Messages(whole[start:len(whole)-4], address+uint64(start), trackOrder, sb)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(conts); i++ {
		if i >= maxHeaderChunks {
			return nil, fmt.Errorf("too many header continuation chunks")
		}
		c := conts[i]
		buf, err := utils.ReadAt(r, c.Address, int(c.Length))
		if err != nil {
			return nil, fmt.Errorf("continuation at 0x%X: %w", c.Address, err)
		}
		if len(buf) < 8 || string(buf[:4]) != "OCHK" {
			return nil, fmt.Errorf("invalid continuation chunk signature at 0x%X", c.Address)
		}
		if err := verifyChecksum(buf, "continuation chunk"); err != nil {
			return nil, err
		}
		more, err := oh.parseV2Messages(buf[4:len(buf)-4], c.Address+4, trackOrder, sb)
		if err != nil {
			return nil, err
		}
		conts = append(conts, more...)
	}

	if m := oh.Find(MsgRefCount); m != nil && len(m.Data) >= 5 {
		oh.RefCount = binary.LittleEndian.Uint32(m.Data[1:5])
	}
	return oh, nil
}

func (oh *ObjectHeader) parseV2Messages(buf []byte, base uint64, trackOrder bool, sb *Superblock) ([]Continuation, error) {
	hdrLen := 4
	if trackOrder {
		hdrLen = 6
	}
	var conts []Continuation
	for p := 0; p+hdrLen <= len(buf); {
		size := int(binary.LittleEndian.Uint16(buf[p+1 : p+3]))
		if p+hdrLen+size > len(buf) {
			return nil, fmt.Errorf("message at chunk offset %d overruns chunk", p)
		}
		msg := &HeaderMessage{
			Type:   MessageType(buf[p]),
			Flags:  buf[p+3],
			Offset: base + uint64(p+hdrLen), //nolint:gosec // G115: bounded by chunk size
			Data:   buf[p+hdrLen : p+hdrLen+size],
		}
		oh.Messages = append(oh.Messages, msg)
		if msg.Type == MsgContinuation {
			c, err := ParseContinuation(msg.Data, sb)
			if err != nil {
				return nil, err
			}
			conts = append(conts, c)
		}
		p += hdrLen + size
	}
	return conts, nil
}

// ParseContinuation decodes a continuation message: the address and length
// of the next header chunk.
func ParseContinuation(data []byte, sb *Superblock) (Continuation, error) {
	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	if len(data) < o+l {
		return Continuation{}, utils.Truncated("continuation message", o+l, len(data))
	}
	c := Continuation{
		Address: utils.ReadAddress(data, o),
		Length:  utils.ReadUint(data[o:], l),
	}
	if !utils.IsDefined(c.Address) || c.Length == 0 {
		return Continuation{}, fmt.Errorf("invalid continuation target 0x%X+%d", c.Address, c.Length)
	}
	return c, nil
}

func verifyChecksum(block []byte, what string) error {
	n := len(block) - 4
	if n < 0 {
		return utils.Truncated(what, 4, len(block))
	}
	if got, want := checksumLookup3(block[:n]), binary.LittleEndian.Uint32(block[n:]); got != want {
		return fmt.Errorf("%s checksum mismatch: stored=%08x computed=%08x", what, want, got)
	}
	return nil
}
