package core

import (
	"io"
)

// memFile is an in-memory file for codec tests.
type memFile struct {
	buf []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) Allocate(size uint64) (uint64, error) {
	addr := uint64(len(m.buf))
	m.buf = append(m.buf, make([]byte, (size+7)&^7)...)
	return addr, nil
}

func (m *memFile) WriteAtAddress(data []byte, addr uint64) error {
	if end := addr + uint64(len(data)); end > uint64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-uint64(len(m.buf)))...)
	}
	copy(m.buf[addr:], data)
	return nil
}

func (m *memFile) put(data []byte) uint64 {
	addr, _ := m.Allocate(uint64(len(data)))
	_ = m.WriteAtAddress(data, addr)
	return addr
}

func testSuperblock() *Superblock {
	return NewSuperblockV0()
}
