package core

import (
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/utils"
)

// DatasetInfo gathers the messages that describe a dataset's storage.
type DatasetInfo struct {
	Dataspace *DataspaceMessage
	Datatype  *DatatypeMessage
	Layout    *DataLayoutMessage
	Filters   *FilterPipelineMessage // nil when unfiltered
}

// ReadDatasetInfo decodes the dataspace, datatype, layout and filter
// pipeline of a dataset header. A shared datatype is resolved to the
// committed datatype it references.
func ReadDatasetInfo(r io.ReaderAt, header *ObjectHeader, sb *Superblock) (*DatasetInfo, error) {
	info := &DatasetInfo{}
	if header.Find(MsgExternalFiles) != nil {
		return nil, fmt.Errorf("%w: external file list", ErrUnsupported)
	}

	msg := header.Find(MsgDataspace)
	if msg == nil {
		return nil, fmt.Errorf("dataset at 0x%X has no dataspace", header.Address)
	}
	ds, err := ParseDataspaceMessage(msg.Data, sb)
	if err != nil {
		return nil, err
	}
	info.Dataspace = ds

	msg = header.Find(MsgDatatype)
	if msg == nil {
		return nil, fmt.Errorf("dataset at 0x%X has no datatype", header.Address)
	}
	if info.Datatype, err = ReadDatatype(r, msg, sb); err != nil {
		return nil, err
	}

	msg = header.Find(MsgDataLayout)
	if msg == nil {
		return nil, fmt.Errorf("dataset at 0x%X has no layout", header.Address)
	}
	if info.Layout, err = ParseDataLayoutMessage(msg.Data, sb); err != nil {
		return nil, err
	}

	if msg = header.Find(MsgFilterPipeline); msg != nil {
		if info.Filters, err = ParseFilterPipelineMessage(msg.Data); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// ReadDatatype decodes a datatype message, following a shared message to
// the committed datatype's object header.
func ReadDatatype(r io.ReaderAt, msg *HeaderMessage, sb *Superblock) (*DatatypeMessage, error) {
	if !msg.Shared() {
		return ParseDatatypeMessage(msg.Data)
	}
	ref, err := ParseSharedMessage(msg.Data, sb)
	if err != nil {
		return nil, err
	}
	return ReadCommittedDatatype(r, ref, sb)
}

// ReadCommittedDatatype loads the datatype a shared message points at.
func ReadCommittedDatatype(r io.ReaderAt, ref *SharedMessage, sb *Superblock) (*DatatypeMessage, error) {
	if ref.InSharedHeap {
		return nil, fmt.Errorf("%w: datatype in shared message heap", ErrUnsupported)
	}
	header, err := ReadObjectHeader(r, ref.Address, sb)
	if err != nil {
		return nil, utils.WrapError("committed datatype", err)
	}
	msg := header.Find(MsgDatatype)
	if msg == nil || msg.Shared() {
		return nil, fmt.Errorf("committed datatype at 0x%X has no datatype message", ref.Address)
	}
	return ParseDatatypeMessage(msg.Data)
}

// StorageSize is the byte size of the full dataset image.
func (info *DatasetInfo) StorageSize() (uint64, error) {
	n, err := info.Dataspace.ElementCount()
	if err != nil {
		return 0, err
	}
	return utils.SafeMultiply(n, uint64(info.Datatype.Size))
}

// ReadDatasetRaw returns the row-major byte image of a dataset. Chunks are
// decoded through the filter pipeline; unallocated storage reads as zeros.
func ReadDatasetRaw(r io.ReaderAt, info *DatasetInfo, sb *Superblock) ([]byte, error) {
	size, err := info.StorageSize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	layout := info.Layout

	switch layout.Class {
	case LayoutCompact:
		if uint64(len(layout.CompactData)) < size {
			return nil, utils.Truncated("compact data", int(size), len(layout.CompactData))
		}
		copy(out, layout.CompactData)
		return out, nil

	case LayoutContiguous:
		if !utils.IsDefined(layout.Address) || size == 0 {
			return out, nil
		}
		if _, err := r.ReadAt(out, int64(layout.Address)); err != nil { //nolint:gosec // G115: file offsets fit int64
			return nil, utils.WrapError("contiguous data", err)
		}
		return out, nil

	case LayoutChunked:
		return out, readChunked(r, info, sb, out)
	}
	return nil, fmt.Errorf("%w: layout %s", ErrUnsupported, layout.Class)
}

func readChunked(r io.ReaderAt, info *DatasetInfo, sb *Superblock, out []byte) error {
	layout := info.Layout
	rank := len(layout.ChunkDims) - 1
	if rank != len(info.Dataspace.Dimensions) {
		return fmt.Errorf("chunk rank %d does not match dataspace rank %d", rank, len(info.Dataspace.Dimensions))
	}
	grid, err := NewChunkGrid(info.Dataspace.Dimensions, layout.ChunkDims[:rank], uint64(layout.ElementSize()))
	if err != nil {
		return err
	}

	records, err := ChunkRecords(r, layout, grid, sb)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !utils.IsDefined(rec.Address) {
			continue
		}
		raw, err := utils.ReadAt(r, rec.Address, int(rec.Size))
		if err != nil {
			return utils.WrapError(fmt.Sprintf("chunk %v", rec.Offsets), err)
		}
		chunk, err := info.Filters.Decode(raw, rec.FilterMask)
		if err != nil {
			return utils.WrapError(fmt.Sprintf("chunk %v", rec.Offsets), err)
		}
		if err := grid.Scatter(out, chunk, rec.Offsets); err != nil {
			return err
		}
	}
	return nil
}

// ChunkRecords lists the stored chunks of a chunked layout whatever its
// index type. Single-chunk and implicit indexes are expanded into records
// so callers see one uniform shape.
func ChunkRecords(r io.ReaderAt, layout *DataLayoutMessage, grid *ChunkGrid, sb *Superblock) ([]ChunkRecord, error) {
	rank := len(grid.Dims)
	full := grid.ChunkBytes()
	if full > 0xFFFFFFFF {
		return nil, fmt.Errorf("chunk of %d bytes is too large", full)
	}

	switch layout.IndexType {
	case ChunkIndexBTreeV1:
		return ReadChunkIndex(r, layout.Address, rank, sb)

	case ChunkIndexSingleChunk:
		if !utils.IsDefined(layout.Address) {
			return nil, nil
		}
		rec := ChunkRecord{Offsets: make([]uint64, rank), Size: uint32(full), Address: layout.Address}
		if layout.ChunkFlags&0x02 != 0 {
			if layout.FilteredSize > 0xFFFFFFFF {
				return nil, fmt.Errorf("filtered chunk of %d bytes is too large", layout.FilteredSize)
			}
			rec.Size = uint32(layout.FilteredSize)
			rec.FilterMask = layout.FilterMask
		}
		return []ChunkRecord{rec}, nil

	case ChunkIndexImplicit:
		if !utils.IsDefined(layout.Address) {
			return nil, nil
		}
		offsets := grid.Offsets()
		records := make([]ChunkRecord, len(offsets))
		for i, off := range offsets {
			records[i] = ChunkRecord{
				Offsets: off,
				Size:    uint32(full),
				Address: layout.Address + uint64(i)*full,
			}
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: chunk index type %d", ErrUnsupported, layout.IndexType)
}
