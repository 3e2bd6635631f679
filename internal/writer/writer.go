package writer

import (
	"fmt"
	"io"
	"os"
)

// FileWriter wraps an os.File for writing HDF5 files. Space is handed out by
// an end-of-file Allocator; callers write into the blocks they were given.
//
// Not safe for concurrent use.
type FileWriter struct {
	file      *os.File
	allocator *Allocator
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, fails if it exists.
	ModeExclusive
)

// copyBufferSize bounds the memory used by CopyFrom.
const copyBufferSize = 1 << 20

// NewFileWriter creates a writer for a new HDF5 file. Allocation starts at
// initialOffset, which reserves room for the superblock at address 0.
func NewFileWriter(filename string, mode CreateMode, initialOffset uint64) (*FileWriter, error) {
	var osFile *os.File
	var err error

	switch mode {
	case ModeTruncate:
		osFile, err = os.Create(filename)
	case ModeExclusive:
		osFile, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		file:      osFile,
		allocator: NewAllocator(initialOffset),
	}, nil
}

// Allocate reserves size bytes at the end of the file and returns the
// 8-byte aligned address of the block.
func (w *FileWriter) Allocate(size uint64) (uint64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.allocator.Allocate(size)
}

// WriteAt writes data at offset. It implements io.WriterAt.
func (w *FileWriter) WriteAt(data []byte, offset int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := w.file.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("write at address %d failed: %w", offset, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write at address %d: wrote %d of %d bytes", offset, n, len(data))
	}
	return n, nil
}

// WriteAtAddress is WriteAt with an HDF5 address.
func (w *FileWriter) WriteAtAddress(data []byte, addr uint64) error {
	//nolint:gosec // G115: addresses come from the allocator and fit in int64
	_, err := w.WriteAt(data, int64(addr))
	return err
}

// WriteBlock allocates room for data, writes it and returns its address.
func (w *FileWriter) WriteBlock(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("cannot write empty block")
	}
	addr, err := w.Allocate(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := w.WriteAtAddress(data, addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// CopyFrom allocates size bytes and fills them with the bytes found at
// srcAddr in r, streaming through a bounded buffer. It returns the address
// of the new block.
func (w *FileWriter) CopyFrom(r io.ReaderAt, srcAddr, size uint64) (uint64, error) {
	addr, err := w.Allocate(size)
	if err != nil {
		return 0, err
	}

	bufSize := uint64(copyBufferSize)
	if size < bufSize {
		bufSize = size
	}
	buf := make([]byte, bufSize)

	for done := uint64(0); done < size; {
		n := size - done
		if n > bufSize {
			n = bufSize
		}
		//nolint:gosec // G115: file offsets fit in int64
		got, err := r.ReadAt(buf[:n], int64(srcAddr+done))
		if uint64(got) < n { //nolint:gosec // G115: got is non-negative
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("read source block at %d: %w", srcAddr+done, err)
		}
		if err := w.WriteAtAddress(buf[:n], addr+done); err != nil {
			return 0, err
		}
		done += n
	}
	return addr, nil
}

// ReadAt reads back bytes already written. It implements io.ReaderAt.
func (w *FileWriter) ReadAt(buf []byte, off int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.file.ReadAt(buf, off)
}

// EndOfFile returns the address where the next allocation would occur.
func (w *FileWriter) EndOfFile() uint64 {
	return w.allocator.EndOfFile()
}

// Allocator returns the space allocator.
func (w *FileWriter) Allocator() *Allocator {
	return w.allocator
}

// Flush commits all writes to disk.
func (w *FileWriter) Flush() error {
	if w.file == nil {
		return fmt.Errorf("writer is closed")
	}
	return w.file.Sync()
}

// Close closes the underlying file without flushing. Closing twice is a
// no-op.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

var (
	_ io.ReaderAt = (*FileWriter)(nil)
	_ io.WriterAt = (*FileWriter)(nil)
)
