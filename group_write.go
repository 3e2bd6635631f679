package h5trim

import (
	"fmt"
)

// CreateGroup creates the group at path. With parents set, missing
// intermediate groups are created too; otherwise a missing parent is
// ErrNotFound. Creating a group that already exists returns it, and a
// path occupied by anything other than a group is ErrExists.
//
// Example:
//
//	w, _ := h5trim.Create("out.h5")
//	defer w.Close()
//	g, err := w.CreateGroup("/dl1/event/subarray", true)
func (w *Writer) CreateGroup(path string, parents bool) (*Node, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("group path must start with '/' (got %q)", path)
	}

	cur, curPath := w.root, "/"
	segments := splitPath(path)
	for i, name := range segments {
		next := joinPath(curPath, name)
		l, ok := cur.links[name]
		switch {
		case ok && l.target != nil && l.target.kind == kindGroup:
			cur = l.target
		case ok:
			return nil, exists(next)
		case !parents && i < len(segments)-1:
			return nil, notFound(next)
		default:
			g := newGroupNode()
			if err := link(cur, curPath, name, &wlink{target: g}); err != nil {
				return nil, err
			}
			cur = g
		}
		curPath = next
	}
	return &Node{path: curPath, n: cur}, nil
}

// Lookup returns the group or dataset at path.
func (w *Writer) Lookup(path string) (*Node, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	n, err := w.lookup(path)
	if err != nil {
		return nil, err
	}
	return &Node{path: cleanPath(path), n: n}, nil
}

// CreateSoftLink adds a soft link called name under the group at
// parentPath. The target is stored as given and is not checked.
func (w *Writer) CreateSoftLink(parentPath, name, target string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("soft link %q: empty target", name)
	}
	parent, err := w.lookupGroup(parentPath)
	if err != nil {
		return err
	}
	return link(parent, parentPath, name, &wlink{soft: target})
}

// Link adds a second hard link to an existing object.
func (w *Writer) Link(targetPath, parentPath, name string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	target, err := w.lookup(targetPath)
	if err != nil {
		return err
	}
	parent, err := w.lookupGroup(parentPath)
	if err != nil {
		return err
	}
	return link(parent, parentPath, name, &wlink{target: target})
}

func cleanPath(path string) string {
	p := "/"
	for _, name := range splitPath(path) {
		p = joinPath(p, name)
	}
	return p
}
