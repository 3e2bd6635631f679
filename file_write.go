package h5trim

import (
	"fmt"
	"sort"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/structures"
	"github.com/scigolib/h5trim/internal/utils"
	"github.com/scigolib/h5trim/internal/writer"
)

// Writer builds a new HDF5 file. Raw data (contiguous blocks and chunks)
// is written as soon as a dataset is created or copied; object headers,
// groups and the superblock are laid out by Close.
//
// Not safe for concurrent use.
type Writer struct {
	fw     *writer.FileWriter
	path   string
	root   *wnode
	closed bool
}

type nodeKind int

const (
	kindGroup nodeKind = iota
	kindDataset
	kindDatatype
)

// wnode is an object of the file being written.
type wnode struct {
	kind     nodeKind
	messages []*core.HeaderMessage
	attrs    []*wattr
	links    map[string]*wlink

	// Set by Close.
	addr       uint64
	headerSize uint64
	btree      uint64
	heap       uint64
	stored     bool
}

// wlink is a hard link when target is set, a soft link otherwise.
type wlink struct {
	target *wnode
	soft   string
}

// wattr is an attribute waiting to be encoded. Variable-length values keep
// their heap objects until Close writes the global heap.
type wattr struct {
	msg     *core.Attribute
	vlen    [][]byte
	vlenLen []uint32
}

func newGroupNode() *wnode {
	return &wnode{kind: kindGroup, links: make(map[string]*wlink)}
}

// Create creates or truncates filename.
func Create(filename string) (*Writer, error) {
	fw, err := writer.NewFileWriter(filename, writer.ModeTruncate, core.SuperblockV0Size)
	if err != nil {
		return nil, err
	}
	return &Writer{fw: fw, path: filename, root: newGroupNode()}, nil
}

// Path returns the file name the writer was created with.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) checkOpen() error {
	if w.closed {
		return ErrClosed
	}
	return nil
}

// Node is a handle to a group or dataset of a file being written.
type Node struct {
	path string
	n    *wnode
}

// Path returns the absolute path of the node.
func (n *Node) Path() string { return n.path }

// Name returns the last path segment.
func (n *Node) Name() string {
	_, name := SplitPath(n.path)
	if name == "" {
		return "/"
	}
	return name
}

// IsGroup reports whether the node is a group.
func (n *Node) IsGroup() bool { return n.n.kind == kindGroup }

// lookup resolves an absolute path through hard links.
func (w *Writer) lookup(path string) (*wnode, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, fmt.Errorf("path %q is not absolute", path)
	}
	cur := w.root
	for _, name := range splitPath(path) {
		if cur.kind != kindGroup {
			return nil, notFound(path)
		}
		l, ok := cur.links[name]
		if !ok || l.target == nil {
			return nil, notFound(path)
		}
		cur = l.target
	}
	return cur, nil
}

// lookupGroup is lookup restricted to groups.
func (w *Writer) lookupGroup(path string) (*wnode, error) {
	n, err := w.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.kind != kindGroup {
		return nil, fmt.Errorf("%s is not a group: %w", path, ErrNotFound)
	}
	return n, nil
}

// link adds name to parent, refusing to replace an existing link.
func link(parent *wnode, parentPath, name string, l *wlink) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid link name %q", name)
	}
	if _, ok := parent.links[name]; ok {
		return exists(joinPath(parentPath, name))
	}
	parent.links[name] = l
	return nil
}

// Close lays out every object header and group, writes the superblock and
// closes the file. Calling Close again does nothing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.finish()
	if cerr := w.fw.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) finish() error {
	order := w.nodes()
	if err := w.writeGlobalHeap(order); err != nil {
		return err
	}

	refs := make(map[*wnode]uint32, len(order))
	refs[w.root] = 1
	for _, n := range order {
		for _, l := range n.links {
			if l.target != nil {
				refs[l.target]++
			}
		}
	}

	for _, n := range order {
		hw, err := w.headerWriter(n)
		if err != nil {
			return err
		}
		n.headerSize = hw.Size()
		if n.addr, err = w.fw.Allocate(n.headerSize); err != nil {
			return err
		}
	}

	if err := w.storeGroup(w.root, make(map[*wnode]bool)); err != nil {
		return err
	}

	for _, n := range order {
		hw, err := w.headerWriter(n)
		if err != nil {
			return err
		}
		hw.RefCount = refs[n]
		buf, err := hw.Encode()
		if err != nil {
			return err
		}
		if uint64(len(buf)) != n.headerSize {
			return fmt.Errorf("object header changed size from %d to %d", n.headerSize, len(buf))
		}
		if err := w.fw.WriteAtAddress(buf, n.addr); err != nil {
			return err
		}
	}

	sb := core.NewSuperblockV0()
	sb.RootGroup, sb.RootBTree, sb.RootHeap = w.root.addr, w.root.btree, w.root.heap
	sb.EOFAddress = w.fw.EndOfFile()
	if err := sb.WriteTo(w.fw); err != nil {
		return err
	}
	return w.fw.Flush()
}

// nodes lists every reachable object once, depth-first with links in name
// order, so that layout is the same on every run.
func (w *Writer) nodes() []*wnode {
	var order []*wnode
	seen := make(map[*wnode]bool)
	var visit func(n *wnode)
	visit = func(n *wnode) {
		if seen[n] {
			return
		}
		seen[n] = true
		order = append(order, n)
		for _, name := range sortedNames(n.links) {
			if t := n.links[name].target; t != nil {
				visit(t)
			}
		}
	}
	visit(w.root)
	return order
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// writeGlobalHeap stores the values of variable-length attributes in one
// collection and points their references at it.
func (w *Writer) writeGlobalHeap(order []*wnode) error {
	var (
		b       core.GlobalHeapBuilder
		pending []*wattr
		indices [][]uint32
	)
	for _, n := range order {
		for _, a := range n.attrs {
			if a.vlen == nil {
				continue
			}
			idx := make([]uint32, len(a.vlen))
			for i, obj := range a.vlen {
				if len(obj) > 0 {
					idx[i] = b.Add(obj)
				}
			}
			pending = append(pending, a)
			indices = append(indices, idx)
		}
	}
	if b.Len() == 0 {
		for _, a := range pending {
			a.msg.Data = make([]byte, len(a.vlen)*core.VarLenRefSize)
		}
		return nil
	}

	buf, err := b.Encode()
	if err != nil {
		return err
	}
	addr, err := w.fw.WriteBlock(buf)
	if err != nil {
		return utils.WrapError("global heap", err)
	}
	for i, a := range pending {
		data := make([]byte, len(a.vlen)*core.VarLenRefSize)
		for j := range a.vlen {
			ref := core.VarLenRef{Length: a.vlenLen[j]}
			if indices[i][j] != 0 {
				ref.HeapAddress, ref.Index = addr, indices[i][j]
			}
			ref.Encode(data[j*core.VarLenRefSize:])
		}
		a.msg.Data = data
	}
	return nil
}

// headerWriter assembles the messages of n. Group symbol table messages
// carry whatever addresses are known; their size never changes.
func (w *Writer) headerWriter(n *wnode) (*core.ObjectHeaderWriter, error) {
	hw := core.NewObjectHeaderWriter()
	if n.kind == kindGroup {
		hw.Add(core.MsgSymbolTable, 0, core.EncodeSymbolTableMessage(n.btree, n.heap))
	}
	for _, m := range n.messages {
		hw.Add(m.Type, m.Flags, m.Data)
	}
	for _, a := range n.attrs {
		data, err := core.EncodeAttributeMessage(a.msg)
		if err != nil {
			return nil, err
		}
		hw.Add(core.MsgAttribute, 0, data)
	}
	return hw, nil
}

// storeGroup writes the local heap, symbol table nodes and B-tree of g
// after those of its child groups, so entries can cache child addresses.
func (w *Writer) storeGroup(g *wnode, visiting map[*wnode]bool) error {
	if g.stored || visiting[g] {
		return nil
	}
	visiting[g] = true
	names := sortedNames(g.links)
	for _, name := range names {
		if t := g.links[name].target; t != nil && t.kind == kindGroup {
			if err := w.storeGroup(t, visiting); err != nil {
				return err
			}
		}
	}

	heap := structures.NewLocalHeapBuilder()
	entries := make([]structures.Entry, len(names))
	for i, name := range names {
		l := g.links[name]
		e := structures.Entry{NameOffset: heap.Add(name)}
		switch {
		case l.target == nil:
			off := heap.Add(l.soft)
			if off > 0xFFFFFFFF {
				return fmt.Errorf("soft link %q: local heap too large", name)
			}
			e.ObjectAddress = utils.UndefinedAddress
			e.CacheType = structures.CacheSoftLink
			e.SoftLinkOffset = uint32(off)
		case l.target.kind == kindGroup && l.target.stored:
			e.ObjectAddress = l.target.addr
			e.CacheType = structures.CacheSymbolTable
			e.BTreeAddress, e.HeapAddress = l.target.btree, l.target.heap
		default:
			e.ObjectAddress = l.target.addr
		}
		entries[i] = e
	}

	heapAddr, err := w.fw.Allocate(heap.Size())
	if err != nil {
		return err
	}
	if err := w.fw.WriteAtAddress(heap.Encode(heapAddr), heapAddr); err != nil {
		return err
	}

	var children []structures.GroupChild
	for lo := 0; lo < len(entries); lo += structures.SNODCapacity {
		hi := min(lo+structures.SNODCapacity, len(entries))
		snod, err := structures.EncodeSNOD(entries[lo:hi])
		if err != nil {
			return err
		}
		addr, err := w.fw.WriteBlock(snod)
		if err != nil {
			return err
		}
		children = append(children, structures.GroupChild{Address: addr, LastName: entries[hi-1].NameOffset})
	}
	btree, err := structures.BuildGroupBTree(w.fw, children)
	if err != nil {
		return err
	}

	g.btree, g.heap, g.stored = btree, heapAddr, true
	return nil
}
