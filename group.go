package h5trim

import (
	"fmt"
	"path"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/structures"
	"github.com/scigolib/h5trim/internal/utils"
)

// Object is anything a group can link to: *Group, *Dataset, *Datatype,
// *SoftLink or *ExternalLink.
type Object interface {
	Name() string
	Path() string
}

// node is the part shared by objects that have an object header.
type node struct {
	file    *File
	name    string
	path    string
	address uint64
}

// Name returns the link name the object was reached by.
func (n *node) Name() string { return n.name }

// Path returns the absolute path the object was reached by.
func (n *node) Path() string { return n.path }

// Address returns the object header address.
func (n *node) Address() uint64 { return n.address }

func (n *node) header() (*core.ObjectHeader, error) {
	if err := n.file.checkOpen(); err != nil {
		return nil, err
	}
	return core.ReadObjectHeader(n.file.r, n.address, n.file.sb)
}

// Attributes returns the object's attributes in storage order, from
// header messages and from dense attribute storage.
func (n *node) Attributes() ([]*Attribute, error) {
	header, err := n.header()
	if err != nil {
		return nil, err
	}
	return n.file.loadAttributes(header)
}

// Attribute returns the attribute called name.
func (n *node) Attribute(name string) (*Attribute, error) {
	attrs, err := n.Attributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s attribute %q: %w", n.path, name, ErrNotFound)
}

// Group is a container of links.
type Group struct {
	node
	children []Object
	loaded   bool
}

// Children returns the group's members sorted by name. They are loaded
// on first use.
func (g *Group) Children() ([]Object, error) {
	if err := g.file.checkOpen(); err != nil {
		return nil, err
	}
	if !g.loaded {
		children, err := g.loadChildren()
		if err != nil {
			return nil, utils.WrapError("group "+g.path, err)
		}
		sortObjects(children)
		g.children, g.loaded = children, true
	}
	return g.children, nil
}

// Child returns the member called name or ErrNotFound.
func (g *Group) Child(name string) (Object, error) {
	children, err := g.Children()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (g *Group) loadChildren() ([]Object, error) {
	header, err := g.header()
	if err != nil {
		return nil, err
	}
	f := g.file

	if msg := header.Find(core.MsgSymbolTable); msg != nil {
		st, err := core.ParseSymbolTableMessage(msg.Data, f.sb)
		if err != nil {
			return nil, err
		}
		return g.loadSymbolTable(st)
	}

	var children []Object
	for _, msg := range header.FindAll(core.MsgLink) {
		lm, err := core.ParseLinkMessage(msg.Data, f.sb)
		if err != nil {
			return nil, err
		}
		child, err := g.linkTarget(lm)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	if msg := header.Find(core.MsgLinkInfo); msg != nil {
		info, err := core.ParseLinkInfoMessage(msg.Data, f.sb)
		if err != nil {
			return nil, err
		}
		if info.IsDense() {
			dense, err := g.loadDenseLinks(info)
			if err != nil {
				return nil, err
			}
			children = append(children, dense...)
		}
	}
	return children, nil
}

func (g *Group) loadSymbolTable(st *core.SymbolTableMessage) ([]Object, error) {
	f := g.file
	heap, err := structures.LoadLocalHeap(f.r, st.HeapAddress, f.sb)
	if err != nil {
		return nil, err
	}
	entries, err := structures.ReadGroupEntries(f.r, st.BTreeAddress, f.sb)
	if err != nil {
		return nil, err
	}

	children := make([]Object, 0, len(entries))
	for _, e := range entries {
		name, err := heap.String(e.NameOffset)
		if err != nil {
			return nil, err
		}
		if e.IsSoftLink() {
			target, err := heap.String(uint64(e.SoftLinkOffset))
			if err != nil {
				return nil, err
			}
			children = append(children, &SoftLink{name: name, path: joinPath(g.path, name), Target: target})
			continue
		}
		child, err := f.loadObject(e.ObjectAddress, name, joinPath(g.path, name))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (g *Group) loadDenseLinks(info *core.LinkInfoMessage) ([]Object, error) {
	f := g.file
	heap, err := structures.OpenFractalHeap(f.r, info.FractalHeapAddress, f.sb)
	if err != nil {
		return nil, err
	}
	index, err := structures.OpenBTreeV2(f.r, info.NameBTreeAddress, f.sb)
	if err != nil {
		return nil, err
	}
	records, err := index.Records()
	if err != nil {
		return nil, err
	}

	children := make([]Object, 0, len(records))
	for _, rec := range records {
		id, err := index.HeapID(rec)
		if err != nil {
			return nil, err
		}
		obj, err := heap.Object(id)
		if err != nil {
			return nil, err
		}
		lm, err := core.ParseLinkMessage(obj, f.sb)
		if err != nil {
			return nil, err
		}
		child, err := g.linkTarget(lm)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (g *Group) linkTarget(lm *core.LinkMessage) (Object, error) {
	p := joinPath(g.path, lm.Name)
	switch lm.Type {
	case core.LinkTypeHard:
		return g.file.loadObject(lm.Address, lm.Name, p)
	case core.LinkTypeSoft:
		return &SoftLink{name: lm.Name, path: p, Target: lm.Target}, nil
	case core.LinkTypeExternal:
		return &ExternalLink{name: lm.Name, path: p, File: lm.File, Target: lm.Target}, nil
	}
	return nil, fmt.Errorf("%w: %s link %s", ErrUnsupported, lm.Type, p)
}

// loadObject classifies the object at address by its header messages.
func (f *File) loadObject(address uint64, name, p string) (Object, error) {
	header, err := core.ReadObjectHeader(f.r, address, f.sb)
	if err != nil {
		return nil, utils.WrapError(p, err)
	}
	n := node{file: f, name: name, path: p, address: address}
	switch header.Type {
	case core.ObjectTypeGroup:
		return &Group{node: n}, nil
	case core.ObjectTypeDataset:
		return &Dataset{node: n}, nil
	case core.ObjectTypeDatatype:
		return &Datatype{node: n}, nil
	}
	return nil, fmt.Errorf("%w: object %s of unknown kind", ErrUnsupported, p)
}

// Datatype is a committed (named) datatype stored as its own object.
type Datatype struct {
	node
}

// Type decodes the committed type.
func (d *Datatype) Type() (*Type, error) {
	header, err := d.header()
	if err != nil {
		return nil, err
	}
	msg := header.Find(core.MsgDatatype)
	if msg == nil {
		return nil, fmt.Errorf("committed datatype %s has no datatype message", d.path)
	}
	dt, err := core.ReadDatatype(d.file.r, msg, d.file.sb)
	if err != nil {
		return nil, err
	}
	return &Type{msg: dt}, nil
}

// SoftLink is a symbolic link to a path in the same file.
type SoftLink struct {
	name   string
	path   string
	Target string
}

// Name returns the link name.
func (l *SoftLink) Name() string { return l.name }

// Path returns the link's own path.
func (l *SoftLink) Path() string { return l.path }

// absTarget resolves a relative target against the link's group.
func (l *SoftLink) absTarget() string {
	if path.IsAbs(l.Target) {
		return l.Target
	}
	parent, _ := SplitPath(l.path)
	return path.Join(parent, l.Target)
}

// ExternalLink points at an object in another file.
type ExternalLink struct {
	name   string
	path   string
	File   string
	Target string
}

// Name returns the link name.
func (l *ExternalLink) Name() string { return l.name }

// Path returns the link's own path.
func (l *ExternalLink) Path() string { return l.path }
