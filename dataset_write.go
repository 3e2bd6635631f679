package h5trim

import (
	"fmt"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
	"github.com/scigolib/h5trim/internal/writer"
)

// Unlimited marks an extendible dimension in DatasetSpec.MaxShape.
const Unlimited = core.UnlimitedDim

// DatasetSpec describes a dataset to create.
type DatasetSpec struct {
	Type  *Type
	Shape []uint64

	// MaxShape defaults to Shape. Unlimited dimensions need Chunk.
	MaxShape []uint64

	// Chunk selects chunked storage. Filters need it.
	Chunk []uint32

	// Deflate is the zlib level, 1 to 9; 0 disables compression.
	Deflate    int
	Shuffle    bool
	Fletcher32 bool

	// Data is the row-major image of the whole dataset. Nil leaves the
	// storage unallocated.
	Data []byte

	// Attrs are set in name order; values are those SetAttr accepts.
	Attrs map[string]any
}

// CreateDataset creates a dataset at path; the parent group must exist.
// Filters run in the order shuffle, deflate, Fletcher-32, the order
// PyTables uses.
//
// Parameters:
//   - path: dataset path (must start with "/")
//   - spec: datatype, shape, optional chunking and filters, data and attributes
//
// Returns:
//   - *Node: the new dataset
//   - error: ErrExists, ErrNotFound for a missing parent, or a spec
//     validation error (data length, chunk shape, deflate level)
//
// Example:
//
//	data := make([]byte, 8*1000)
//	_, err := w.CreateDataset("/dl2/energy", h5trim.DatasetSpec{
//		Type:     h5trim.Float64,
//		Shape:    []uint64{1000},
//		MaxShape: []uint64{h5trim.Unlimited},
//		Chunk:    []uint32{100},
//		Shuffle:  true,
//		Deflate:  5,
//		Data:     data,
//	})
func (w *Writer) CreateDataset(path string, spec DatasetSpec) (*Node, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	parentPath, name := SplitPath(cleanPath(path))
	parent, err := w.lookupGroup(parentPath)
	if err != nil {
		return nil, err
	}
	if _, ok := parent.links[name]; ok {
		return nil, exists(path)
	}

	n, err := w.buildDataset(spec)
	if err != nil {
		return nil, utils.WrapError("dataset "+path, err)
	}
	if err := link(parent, parentPath, name, &wlink{target: n}); err != nil {
		return nil, err
	}
	return &Node{path: joinPath(parentPath, name), n: n}, nil
}

func (w *Writer) buildDataset(spec DatasetSpec) (*wnode, error) {
	if spec.Type == nil {
		return nil, fmt.Errorf("datatype is required")
	}
	if spec.Type.msg.ContainsVarLen() {
		return nil, fmt.Errorf("%w: variable-length dataset elements", ErrUnsupported)
	}
	elemSize := uint64(spec.Type.msg.Size)
	count, err := utils.ElementCount(spec.Shape)
	if err != nil {
		return nil, err
	}
	size, err := utils.SafeMultiply(count, elemSize)
	if err != nil {
		return nil, err
	}
	if spec.Data != nil && uint64(len(spec.Data)) != size {
		return nil, fmt.Errorf("data is %d bytes, shape needs %d", len(spec.Data), size)
	}

	filtered := spec.Deflate != 0 || spec.Shuffle || spec.Fletcher32
	if spec.Chunk == nil && (filtered || hasUnlimited(spec.MaxShape)) {
		return nil, fmt.Errorf("chunk shape is required for filters and unlimited dimensions")
	}
	if spec.Deflate < 0 || spec.Deflate > 9 {
		return nil, fmt.Errorf("deflate level %d out of range 0-9", spec.Deflate)
	}

	space, err := core.EncodeDataspaceMessage(spec.Shape, spec.MaxShape)
	if err != nil {
		return nil, err
	}
	n := &wnode{kind: kindDataset}
	n.messages = append(n.messages,
		&core.HeaderMessage{Type: core.MsgDataspace, Data: space},
		&core.HeaderMessage{Type: core.MsgDatatype, Flags: core.MsgFlagConstant, Data: spec.Type.msg.Raw},
	)

	if spec.Chunk == nil {
		n.messages = append(n.messages, &core.HeaderMessage{
			Type: core.MsgFillValue, Flags: core.MsgFlagConstant, Data: core.EncodeFillValueMessage(core.AllocTimeEarly),
		})
		addr := utils.UndefinedAddress
		if len(spec.Data) > 0 {
			if addr, err = w.fw.WriteBlock(spec.Data); err != nil {
				return nil, err
			}
		}
		n.messages = append(n.messages, &core.HeaderMessage{
			Type: core.MsgDataLayout, Data: core.EncodeContiguousLayout(addr, size),
		})
	} else {
		n.messages = append(n.messages, &core.HeaderMessage{
			Type: core.MsgFillValue, Flags: core.MsgFlagConstant, Data: core.EncodeFillValueMessage(core.AllocTimeIncremental),
		})
		pipeline := writer.NewFilterPipeline()
		if spec.Shuffle {
			pipeline.AddFilter(writer.NewShuffleFilter(uint32(elemSize))) //nolint:gosec // G115: datatype sizes are 32-bit
		}
		if spec.Deflate != 0 {
			pipeline.AddFilter(writer.NewDeflateFilter(spec.Deflate))
		}
		if spec.Fletcher32 {
			pipeline.AddFilter(writer.NewFletcher32Filter())
		}
		if !pipeline.IsEmpty() {
			msg, err := pipeline.EncodePipelineMessage()
			if err != nil {
				return nil, err
			}
			n.messages = append(n.messages, &core.HeaderMessage{Type: core.MsgFilterPipeline, Flags: core.MsgFlagConstant, Data: msg})
		}
		layout, err := w.writeChunks(spec, elemSize, pipeline)
		if err != nil {
			return nil, err
		}
		n.messages = append(n.messages, &core.HeaderMessage{Type: core.MsgDataLayout, Data: layout})
	}

	names := sortedNames(spec.Attrs)
	for _, name := range names {
		msg, err := attributeFromValue(name, spec.Attrs[name])
		if err != nil {
			return nil, err
		}
		n.setAttr(&wattr{msg: msg})
	}
	return n, nil
}

// writeChunks splits spec.Data into chunks, filters and stores them, and
// returns the chunked layout message.
func (w *Writer) writeChunks(spec DatasetSpec, elemSize uint64, pipeline *writer.FilterPipeline) ([]byte, error) {
	if len(spec.Chunk) != len(spec.Shape) {
		return nil, fmt.Errorf("chunk rank %d does not match rank %d", len(spec.Chunk), len(spec.Shape))
	}
	grid, err := core.NewChunkGrid(spec.Shape, spec.Chunk, elemSize)
	if err != nil {
		return nil, err
	}
	if grid.ChunkBytes() > utils.MaxChunkSize {
		return nil, fmt.Errorf("chunk of %d bytes exceeds %d", grid.ChunkBytes(), utils.MaxChunkSize)
	}

	var records []core.ChunkRecord
	if spec.Data != nil {
		for _, off := range grid.Offsets() {
			chunk := grid.Extract(spec.Data, off)
			if !pipeline.IsEmpty() {
				if chunk, err = pipeline.Apply(chunk); err != nil {
					return nil, err
				}
			}
			addr, err := w.fw.WriteBlock(chunk)
			if err != nil {
				return nil, err
			}
			records = append(records, core.ChunkRecord{
				Offsets: off,
				Size:    uint32(len(chunk)), //nolint:gosec // G115: bounded by MaxChunkSize
				Address: addr,
			})
		}
	}
	btree, err := core.BuildChunkIndex(w.fw, records, spec.Chunk)
	if err != nil {
		return nil, err
	}
	return core.EncodeChunkedLayout(btree, append(append([]uint32(nil), spec.Chunk...), uint32(elemSize))) //nolint:gosec // G115: datatype sizes are 32-bit
}

func hasUnlimited(dims []uint64) bool {
	for _, d := range dims {
		if d == Unlimited {
			return true
		}
	}
	return false
}
