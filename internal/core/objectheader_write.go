package core

import (
	"encoding/binary"
	"fmt"
)

// maxMessageSize is the largest body a header message size field can hold
// once padded to 8 bytes.
const maxMessageSize = 0xFFF8

// ObjectHeaderWriter encodes a version 1 object header: the layout used by
// files with a version 0 superblock.
type ObjectHeaderWriter struct {
	Messages []*HeaderMessage
	RefCount uint32
}

// NewObjectHeaderWriter creates a writer with a reference count of one.
func NewObjectHeaderWriter(messages ...*HeaderMessage) *ObjectHeaderWriter {
	return &ObjectHeaderWriter{Messages: messages, RefCount: 1}
}

// Add appends a message.
func (w *ObjectHeaderWriter) Add(t MessageType, flags uint8, data []byte) {
	w.Messages = append(w.Messages, &HeaderMessage{Type: t, Flags: flags, Data: data})
}

// Size returns the encoded size in bytes.
func (w *ObjectHeaderWriter) Size() uint64 {
	size := uint64(16)
	for _, m := range w.Messages {
		size += 8 + align8(len(m.Data))
	}
	if len(w.Messages) == 0 {
		size += 8
	}
	return size
}

// Encode produces the header bytes: a 16-byte prefix followed by a single
// chunk holding every message. An empty header gets one NIL message so the
// chunk is never empty.
func (w *ObjectHeaderWriter) Encode() ([]byte, error) {
	messages := w.Messages
	if len(messages) == 0 {
		messages = []*HeaderMessage{{Type: MsgNil}}
	}
	if len(messages) > 0xFFFF {
		return nil, fmt.Errorf("too many header messages: %d", len(messages))
	}

	buf := make([]byte, w.Size())
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(messages))) //nolint:gosec // G115: checked above
	binary.LittleEndian.PutUint32(buf[4:], w.RefCount)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(buf)-16)) //nolint:gosec // G115: headers are far below 4GB

	p := 16
	for _, m := range messages {
		size := int(align8(len(m.Data)))
		if size > maxMessageSize {
			return nil, fmt.Errorf("message type 0x%X is %d bytes, too large for an object header", m.Type, len(m.Data))
		}
		binary.LittleEndian.PutUint16(buf[p:], uint16(m.Type))
		binary.LittleEndian.PutUint16(buf[p+2:], uint16(size)) //nolint:gosec // G115: checked above
		buf[p+4] = m.Flags
		copy(buf[p+8:], m.Data)
		p += 8 + size
	}
	return buf, nil
}

// RefCountOffset is where the reference count sits inside a v1 header, for
// patching after more hard links to the object were created.
const RefCountOffset = 4

func align8(n int) uint64 {
	return uint64((n + 7) &^ 7) //nolint:gosec // G115: n is non-negative
}
