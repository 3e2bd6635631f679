// Package h5trim reads HDF5 archives and writes trimmed copies of them.
//
// The reader understands superblocks version 0 to 3, object headers
// version 1 and 2, symbol-table, compact and dense groups, and compact,
// contiguous and chunked datasets. The writer produces the layout
// PyTables writes: a version 0 superblock, version 1 object headers and
// symbol-table groups. Copies move chunk bytes without decoding them.
package h5trim

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// maxLinkDepth bounds soft link resolution while walking a path.
const maxLinkDepth = 16

// File is an HDF5 file opened for reading.
type File struct {
	osFile *os.File
	r      io.ReaderAt
	sb     *core.Superblock
	root   *Group

	heaps map[uint64]*core.GlobalHeapCollection
}

// Open opens an HDF5 file for reading and loads its root group.
func Open(filename string) (*File, error) {
	//nolint:gosec // G304: opening a user-named file is the purpose
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	sb, err := core.ReadSuperblock(f)
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError(filename, err)
	}

	file := &File{osFile: f, r: f, sb: sb, heaps: make(map[uint64]*core.GlobalHeapCollection)}
	if sb.BaseAddress != 0 {
		//nolint:gosec // G115: base addresses are file offsets
		file.r = io.NewSectionReader(f, int64(sb.BaseAddress), math.MaxInt64-int64(sb.BaseAddress))
	}

	header, err := core.ReadObjectHeader(file.r, sb.RootGroup, sb)
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("root group", err)
	}
	if header.Type != core.ObjectTypeGroup {
		_ = f.Close()
		return nil, fmt.Errorf("root object is a %s, not a group", header.Type)
	}
	file.root = &Group{node: node{file: file, name: "/", path: "/", address: sb.RootGroup}}
	return file, nil
}

// Close releases the file. It is safe to call Close more than once.
func (f *File) Close() error {
	if f.osFile == nil {
		return nil
	}
	err := f.osFile.Close()
	f.osFile = nil
	return err
}

func (f *File) checkOpen() error {
	if f.osFile == nil {
		return ErrClosed
	}
	return nil
}

// Root returns the root group.
func (f *File) Root() *Group {
	return f.root
}

// Superblock returns the decoded superblock.
func (f *File) Superblock() *core.Superblock {
	return f.sb
}

// Reader returns the reader all addresses resolve against.
func (f *File) Reader() io.ReaderAt {
	return f.r
}

// Get returns the object at an absolute path. Soft links along the way
// are followed; a soft link at the end of the path is returned as is.
func (f *File) Get(path string) (Object, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	return f.resolve(path, 0)
}

func (f *File) resolve(path string, depth int) (Object, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path %q is not absolute", path)
	}
	if depth > maxLinkDepth {
		return nil, fmt.Errorf("%s: too many levels of soft links", path)
	}

	var cur Object = f.root
	segments := splitPath(path)
	for i, name := range segments {
		g, ok := cur.(*Group)
		if !ok {
			if link, isLink := cur.(*SoftLink); isLink {
				target, err := f.resolve(link.absTarget(), depth+1)
				if err != nil {
					return nil, err
				}
				g, ok = target.(*Group)
			}
			if !ok {
				return nil, notFound(path)
			}
		}
		child, err := g.Child(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", "/"+strings.Join(segments[:i+1], "/"), err)
		}
		cur = child
	}
	return cur, nil
}

// Walk visits every object depth-first, children in name order, starting
// with the root group. A group reachable through more than one hard link
// is descended into once. Walk stops at the first error fn returns.
func (f *File) Walk(fn func(path string, obj Object) error) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	return walkGroup(f.root, fn, make(map[uint64]bool))
}

// WalkFrom is Walk restricted to the subtree at path.
func (f *File) WalkFrom(path string, fn func(path string, obj Object) error) error {
	obj, err := f.Get(path)
	if err != nil {
		return err
	}
	g, ok := obj.(*Group)
	if !ok {
		return fn(obj.Path(), obj)
	}
	return walkGroup(g, fn, make(map[uint64]bool))
}

func walkGroup(g *Group, fn func(string, Object) error, seen map[uint64]bool) error {
	if err := fn(g.Path(), g); err != nil {
		return err
	}
	if seen[g.address] {
		return nil
	}
	seen[g.address] = true

	children, err := g.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		if cg, ok := child.(*Group); ok {
			if err := walkGroup(cg, fn, seen); err != nil {
				return err
			}
			continue
		}
		if err := fn(child.Path(), child); err != nil {
			return err
		}
	}
	return nil
}

// splitPath returns the non-empty segments of a slash-separated path.
func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// joinPath appends name to a group path.
func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// SplitPath returns the parent path and the last segment of an absolute
// path: "/a/b/c" gives "/a/b" and "c", "/a" gives "/" and "a".
func SplitPath(path string) (parent, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	parent, name = path[:i], path[i+1:]
	if parent == "" {
		parent = "/"
	}
	return parent, name
}

func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name() < objs[j].Name() })
}
