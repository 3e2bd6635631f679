// Package fixture crafts HDF5 structures the writer never emits: version 2
// superblocks and object headers, compact and dense link storage, fractal
// heaps and version 2 B-trees. Tests use it to exercise the read paths for
// files produced by newer libhdf5 releases.
package fixture

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// SuperblockV2Size is the encoded size of a version 2 superblock with
// 8-byte offsets.
const SuperblockV2Size = 48

// Image is an in-memory HDF5 file under construction. The first
// SuperblockV2Size bytes are reserved for the superblock.
type Image struct {
	buf []byte
}

// NewImage returns an image with room for the superblock.
func NewImage() *Image {
	return &Image{buf: make([]byte, SuperblockV2Size)}
}

// ReadAt implements io.ReaderAt.
func (im *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(im.buf)) {
		return 0, io.EOF
	}
	n := copy(p, im.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Allocate reserves size bytes at the 8-aligned end of the image.
func (im *Image) Allocate(size uint64) (uint64, error) {
	addr := uint64(len(im.buf))
	im.buf = append(im.buf, make([]byte, utils.Align8(size))...)
	return addr, nil
}

// WriteAtAddress copies data to addr, growing the image when needed.
func (im *Image) WriteAtAddress(data []byte, addr uint64) error {
	if end := addr + uint64(len(data)); end > uint64(len(im.buf)) {
		im.buf = append(im.buf, make([]byte, end-uint64(len(im.buf)))...)
	}
	copy(im.buf[addr:], data)
	return nil
}

// Put appends data and returns its address.
func (im *Image) Put(data []byte) uint64 {
	addr, _ := im.Allocate(uint64(len(data)))
	_ = im.WriteAtAddress(data, addr)
	return addr
}

// Len is the current end of the image.
func (im *Image) Len() uint64 {
	return uint64(len(im.buf))
}

// Finish writes a version 2 superblock pointing at the root object header
// and returns the file bytes.
func (im *Image) Finish(root uint64) []byte {
	sb := im.buf[:SuperblockV2Size]
	copy(sb, core.Signature)
	sb[8] = 2
	sb[9], sb[10] = 8, 8
	sb[11] = 0
	binary.LittleEndian.PutUint64(sb[12:], 0)
	binary.LittleEndian.PutUint64(sb[20:], utils.UndefinedAddress)
	binary.LittleEndian.PutUint64(sb[28:], uint64(len(im.buf)))
	binary.LittleEndian.PutUint64(sb[36:], root)
	binary.LittleEndian.PutUint32(sb[44:], core.Checksum(sb[:44]))
	return im.buf
}

// WriteFile finishes the image and stores it at path.
func (im *Image) WriteFile(path string, root uint64) error {
	return os.WriteFile(path, im.Finish(root), 0o600)
}

// Superblock describes the images this package builds.
func Superblock() *core.Superblock {
	sb := core.NewSuperblockV0()
	sb.Version = 2
	return sb
}
