package h5trim

import (
	"fmt"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// CopyOption configures CopyNode and CopyAttrs.
type CopyOption func(*copyConfig)

type copyConfig struct {
	onWarning func(error)
}

// OnWarning registers fn to receive AttrCollisionWarning and
// ExternalLinkWarning values. Without it warnings are dropped.
func OnWarning(fn func(error)) CopyOption {
	return func(c *copyConfig) { c.onWarning = fn }
}

func newCopyConfig(opts []CopyOption) *copyConfig {
	c := &copyConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *copyConfig) warn(err error) {
	if c.onWarning != nil {
		c.onWarning(err)
	}
}

// copier copies objects of one source file. Objects reachable by more
// than one hard link are copied once and linked again.
type copier struct {
	w    *Writer
	src  *File
	cfg  *copyConfig
	memo map[uint64]*wnode
}

// headerMessages keeps the dataset header messages a copy carries over
// verbatim. The layout is rebuilt, attributes are re-encoded and every
// other message is dropped.
var headerMessages = map[core.MessageType]bool{
	core.MsgFillValueOld:   true,
	core.MsgFillValue:      true,
	core.MsgFilterPipeline: true,
	core.MsgComment:        true,
	core.MsgModTimeOld:     true,
	core.MsgModTime:        true,
}

// CopyNode copies src, and everything below it when it is a group, to
// name under the group at dstParent. Dataset storage is copied byte for
// byte, so chunks keep their compression. Soft links are copied as links;
// external links are skipped and reported as ExternalLinkWarning.
//
// Objects reachable through several hard links inside src are copied once
// and stay shared in the output.
//
// Parameters:
//   - src: object from a file opened with Open (group, dataset, datatype or link)
//   - dstParent: existing group in the output, e.g. "/dl1/event/subarray"
//   - name: link name of the copy; ErrExists if already taken
//   - opts: OnWarning to observe skipped links and replaced attributes
//
// Returns:
//   - error: ErrNotFound, ErrExists, ErrUnsupported or an I/O error
//
// Example:
//
//	src, _ := h5trim.Open("archive.h5")
//	defer src.Close()
//	w, _ := h5trim.Create("events.h5")
//	defer w.Close()
//
//	trigger, _ := src.Get("/dl1/event/subarray/trigger")
//	w.CreateGroup("/dl1/event/subarray", true)
//	err := w.CopyNode(trigger, "/dl1/event/subarray", "trigger")
func (w *Writer) CopyNode(src Object, dstParent, name string, opts ...CopyOption) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	parent, err := w.lookupGroup(dstParent)
	if err != nil {
		return err
	}
	if _, ok := parent.links[name]; ok {
		return exists(joinPath(dstParent, name))
	}

	cfg := newCopyConfig(opts)
	var l *wlink
	switch s := src.(type) {
	case *SoftLink:
		l = &wlink{soft: s.Target}
	case *ExternalLink:
		cfg.warn(&ExternalLinkWarning{Path: s.Path(), File: s.File, Target: s.Target})
		return nil
	case *Group:
		n, err := w.newCopier(s.file, cfg).copyObject(src, s.node)
		if err != nil {
			return err
		}
		l = &wlink{target: n}
	case *Dataset:
		n, err := w.newCopier(s.file, cfg).copyObject(src, s.node)
		if err != nil {
			return err
		}
		l = &wlink{target: n}
	case *Datatype:
		n, err := w.newCopier(s.file, cfg).copyObject(src, s.node)
		if err != nil {
			return err
		}
		l = &wlink{target: n}
	default:
		return fmt.Errorf("%w: cannot copy %T", ErrUnsupported, src)
	}
	return link(parent, dstParent, name, l)
}

func (w *Writer) newCopier(src *File, cfg *copyConfig) *copier {
	return &copier{w: w, src: src, cfg: cfg, memo: make(map[uint64]*wnode)}
}

func (c *copier) copyObject(obj Object, n node) (*wnode, error) {
	if done, ok := c.memo[n.address]; ok {
		return done, nil
	}
	header, err := n.header()
	if err != nil {
		return nil, err
	}

	var out *wnode
	switch o := obj.(type) {
	case *Group:
		out = newGroupNode()
		c.memo[n.address] = out
		if err := c.copyChildren(o, out); err != nil {
			return nil, err
		}
	case *Dataset:
		if out, err = c.copyDataset(header); err != nil {
			return nil, utils.WrapError("dataset "+n.path, err)
		}
	case *Datatype:
		dt, err := o.Type()
		if err != nil {
			return nil, err
		}
		out = &wnode{kind: kindDatatype, messages: []*core.HeaderMessage{
			{Type: core.MsgDatatype, Flags: core.MsgFlagConstant, Data: dt.msg.Raw},
		}}
	}
	c.memo[n.address] = out

	attrs, err := c.src.loadAttributes(header)
	if err != nil {
		return nil, utils.WrapError(n.path, err)
	}
	for _, a := range attrs {
		wa, err := copyAttribute(a)
		if err != nil {
			return nil, utils.WrapError(n.path, err)
		}
		out.setAttr(wa)
	}
	return out, nil
}

func (c *copier) copyChildren(g *Group, out *wnode) error {
	children, err := g.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		var l *wlink
		switch ch := child.(type) {
		case *SoftLink:
			l = &wlink{soft: ch.Target}
		case *ExternalLink:
			c.cfg.warn(&ExternalLinkWarning{Path: ch.Path(), File: ch.File, Target: ch.Target})
			continue
		case *Group:
			n, err := c.copyObject(ch, ch.node)
			if err != nil {
				return err
			}
			l = &wlink{target: n}
		case *Dataset:
			n, err := c.copyObject(ch, ch.node)
			if err != nil {
				return err
			}
			l = &wlink{target: n}
		case *Datatype:
			n, err := c.copyObject(ch, ch.node)
			if err != nil {
				return err
			}
			l = &wlink{target: n}
		}
		out.links[child.Name()] = l
	}
	return nil
}

// copyDataset rebuilds a dataset header around a copy of its storage.
// Shared datatypes are written inline.
func (c *copier) copyDataset(header *core.ObjectHeader) (*wnode, error) {
	info, err := core.ReadDatasetInfo(c.src.r, header, c.src.sb)
	if err != nil {
		return nil, err
	}
	if info.Datatype.ContainsVarLen() {
		return nil, fmt.Errorf("%w: variable-length dataset elements", ErrUnsupported)
	}

	out := &wnode{kind: kindDataset}
	for _, msg := range header.Messages {
		var data []byte
		switch {
		case msg.Type == core.MsgDataspace:
			if data, err = encodeDataspace(info.Dataspace, msg.Data); err != nil {
				return nil, err
			}
		case msg.Type == core.MsgDatatype:
			data = info.Datatype.Raw
		case msg.Type == core.MsgDataLayout:
			if data, err = c.copyStorage(info); err != nil {
				return nil, err
			}
		case headerMessages[msg.Type]:
			if msg.Shared() {
				return nil, fmt.Errorf("%w: shared header message of type %d", ErrUnsupported, msg.Type)
			}
			data = msg.Data
		default:
			continue
		}
		flags := msg.Flags &^ (core.MsgFlagShared | core.MsgFlagNotShared)
		out.messages = append(out.messages, &core.HeaderMessage{Type: msg.Type, Flags: flags, Data: data})
	}
	return out, nil
}

// encodeDataspace re-encodes with 8-byte lengths. A null dataspace has no
// lengths and is kept as it was.
func encodeDataspace(ds *core.DataspaceMessage, raw []byte) ([]byte, error) {
	switch ds.Type {
	case core.DataspaceNull:
		return raw, nil
	case core.DataspaceScalar:
		return core.EncodeDataspaceMessage(nil, nil)
	}
	return core.EncodeDataspaceMessage(ds.Dimensions, ds.MaxDims)
}

// copyStorage copies the dataset's raw storage and returns the layout
// message describing the copy.
func (c *copier) copyStorage(info *core.DatasetInfo) ([]byte, error) {
	layout := info.Layout
	fw := c.w.fw
	switch layout.Class {
	case core.LayoutCompact:
		return core.EncodeCompactLayout(layout.CompactData)

	case core.LayoutContiguous:
		size := layout.Size
		if size == 0 {
			var err error
			if size, err = info.StorageSize(); err != nil {
				return nil, err
			}
		}
		if !utils.IsDefined(layout.Address) || size == 0 {
			return core.EncodeContiguousLayout(utils.UndefinedAddress, size), nil
		}
		addr, err := fw.CopyFrom(c.src.r, layout.Address, size)
		if err != nil {
			return nil, utils.WrapError("contiguous data", err)
		}
		return core.EncodeContiguousLayout(addr, size), nil

	case core.LayoutChunked:
		rank := len(layout.ChunkDims) - 1
		if rank != len(info.Dataspace.Dimensions) {
			return nil, fmt.Errorf("chunk rank %d does not match dataspace rank %d", rank, len(info.Dataspace.Dimensions))
		}
		chunkDims := layout.ChunkDims[:rank]
		grid, err := core.NewChunkGrid(info.Dataspace.Dimensions, chunkDims, uint64(layout.ElementSize()))
		if err != nil {
			return nil, err
		}
		records, err := core.ChunkRecords(c.src.r, layout, grid, c.src.sb)
		if err != nil {
			return nil, err
		}
		copied := make([]core.ChunkRecord, 0, len(records))
		for _, rec := range records {
			if !utils.IsDefined(rec.Address) {
				continue
			}
			addr, err := fw.CopyFrom(c.src.r, rec.Address, uint64(rec.Size))
			if err != nil {
				return nil, utils.WrapError(fmt.Sprintf("chunk %v", rec.Offsets), err)
			}
			rec.Address = addr
			copied = append(copied, rec)
		}
		btree, err := core.BuildChunkIndex(fw, copied, chunkDims)
		if err != nil {
			return nil, err
		}
		return core.EncodeChunkedLayout(btree, layout.ChunkDims)
	}
	return nil, fmt.Errorf("%w: layout %s", ErrUnsupported, layout.Class)
}

// CopyAttrs copies every attribute of src onto the object at dstPath. An
// attribute that already exists there is replaced and reported as an
// AttrCollisionWarning.
//
// Parameters:
//   - src: object whose attributes are copied
//   - dstPath: group or dataset in the output
//   - opts: OnWarning receives one AttrCollisionWarning per replaced name
//
// Returns:
//   - error: ErrNotFound if dstPath is missing, ErrUnsupported for
//     attributes that cannot be re-encoded
//
// Example:
//
//	err := w.CopyAttrs(src.Root(), "/", h5trim.OnWarning(func(err error) {
//		log.Debug(err)
//	}))
func (w *Writer) CopyAttrs(src Object, dstPath string, opts ...CopyOption) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	holder, ok := src.(interface {
		Attributes() ([]*Attribute, error)
	})
	if !ok {
		return fmt.Errorf("%w: %s has no attributes", ErrUnsupported, src.Path())
	}
	dst, err := w.lookup(dstPath)
	if err != nil {
		return err
	}
	attrs, err := holder.Attributes()
	if err != nil {
		return err
	}

	cfg := newCopyConfig(opts)
	for _, a := range attrs {
		wa, err := copyAttribute(a)
		if err != nil {
			return utils.WrapError(src.Path(), err)
		}
		if dst.setAttr(wa) {
			cfg.warn(&AttrCollisionWarning{Path: cleanPath(dstPath), Name: a.Name})
		}
	}
	return nil
}

// copyAttribute prepares a for writing. Variable-length values are read
// from the source global heap now and stored again when the writer closes.
func copyAttribute(a *Attribute) (*wattr, error) {
	src := a.msg
	msg := &core.Attribute{
		Name:      src.Name,
		CharSet:   src.CharSet,
		Datatype:  src.Datatype,
		Dataspace: src.Dataspace,
		Data:      src.Data,
	}
	if src.Dataspace.Type == core.DataspaceNull {
		msg.DataspaceRaw = src.DataspaceRaw
	}
	out := &wattr{msg: msg}

	dt := src.Datatype
	if !dt.ContainsVarLen() {
		return out, nil
	}
	if dt.Class != core.DatatypeVarLen || dt.Size != core.VarLenRefSize {
		return nil, fmt.Errorf("%w: attribute %q of type %s", ErrUnsupported, a.Name, dt)
	}
	values, err := a.VarLen()
	if err != nil {
		return nil, utils.WrapError("attribute "+a.Name, err)
	}
	out.vlen = values
	out.vlenLen = make([]uint32, len(values))
	for i := range values {
		ref, err := core.ParseVarLenRef(src.Data[i*core.VarLenRefSize:], a.file.sb)
		if err != nil {
			return nil, err
		}
		out.vlenLen[i] = ref.Length
	}
	return out, nil
}
