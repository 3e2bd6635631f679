package fixture

import (
	"encoding/binary"

	"github.com/scigolib/h5trim/internal/core"
)

// Message is one header message to encode.
type Message struct {
	Type  core.MessageType
	Flags uint8
	Data  []byte
}

func encodeV2Messages(msgs []Message) []byte {
	var out []byte
	for _, m := range msgs {
		head := make([]byte, 4)
		head[0] = byte(m.Type)
		binary.LittleEndian.PutUint16(head[1:], uint16(len(m.Data))) //nolint:gosec // G115: fixture messages are small
		head[3] = m.Flags
		out = append(out, head...)
		out = append(out, m.Data...)
	}
	return out
}

// ObjectHeaderV2 encodes an "OHDR" header with every message in chunk 0.
// The chunk size field is as narrow as the chunk allows.
func ObjectHeaderV2(msgs ...Message) []byte {
	body := encodeV2Messages(msgs)
	var flags uint8
	width := 1
	switch {
	case len(body) > 0xFFFF:
		flags, width = 2, 4
	case len(body) > 0xFF:
		flags, width = 1, 2
	}

	buf := append([]byte("OHDR"), 2, flags)
	size := make([]byte, 8)
	binary.LittleEndian.PutUint64(size, uint64(len(body)))
	buf = append(buf, size[:width]...)
	buf = append(buf, body...)
	return appendChecksum(buf)
}

// ContinuationChunk encodes an "OCHK" block holding msgs.
func ContinuationChunk(msgs ...Message) []byte {
	buf := append([]byte("OCHK"), encodeV2Messages(msgs)...)
	return appendChecksum(buf)
}

// ContinuationMessage points at a chunk of length bytes at addr.
func ContinuationMessage(addr uint64, length int) Message {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, addr)
	binary.LittleEndian.PutUint64(data[8:], uint64(length)) //nolint:gosec // G115: length is non-negative
	return Message{Type: core.MsgContinuation, Data: data}
}

func appendChecksum(buf []byte) []byte {
	sum := make([]byte, 4)
	binary.LittleEndian.PutUint32(sum, core.Checksum(buf))
	return append(buf, sum...)
}

// HardLink encodes a link message for a hard link with a one-byte name
// length and an implicit link type.
func HardLink(name string, addr uint64) []byte {
	buf := []byte{1, 0, byte(len(name))}
	buf = append(buf, name...)
	a := make([]byte, 8)
	binary.LittleEndian.PutUint64(a, addr)
	return append(buf, a...)
}

// SoftLink encodes a link message for a soft link.
func SoftLink(name, target string) []byte {
	return linkWithValue(core.LinkTypeSoft, name, []byte(target))
}

// ExternalLink encodes a link message for an external link.
func ExternalLink(name, file, path string) []byte {
	value := []byte{0}
	value = append(value, file...)
	value = append(value, 0)
	value = append(value, path...)
	value = append(value, 0)
	return linkWithValue(core.LinkTypeExternal, name, value)
}

func linkWithValue(t core.LinkType, name string, value []byte) []byte {
	buf := []byte{1, 0x08, byte(t), byte(len(name))}
	buf = append(buf, name...)
	n := make([]byte, 2)
	binary.LittleEndian.PutUint16(n, uint16(len(value))) //nolint:gosec // G115: fixture values are small
	buf = append(buf, n...)
	return append(buf, value...)
}

// LinkInfo encodes a link info message. Undefined addresses mean the links
// are stored as compact link messages.
func LinkInfo(heapAddr, nameIndex uint64) []byte {
	return infoMessage(heapAddr, nameIndex)
}

// AttributeInfo encodes an attribute info message.
func AttributeInfo(heapAddr, nameIndex uint64) []byte {
	return infoMessage(heapAddr, nameIndex)
}

func infoMessage(heapAddr, nameIndex uint64) []byte {
	buf := make([]byte, 18)
	binary.LittleEndian.PutUint64(buf[2:], heapAddr)
	binary.LittleEndian.PutUint64(buf[10:], nameIndex)
	return buf
}

// GroupInfo encodes an empty version 0 group info message.
func GroupInfo() []byte {
	return []byte{0, 0}
}
