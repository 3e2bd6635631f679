package structures

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/utils"
)

// GroupEntriesPerNode is the fan-out of group B-trees written with the
// default internal K of 16.
const GroupEntriesPerNode = 2 * core.DefaultGroupInternalK

// GroupNodeSize is the allocated size of a group B-tree node with 8-byte
// offsets and lengths.
const GroupNodeSize = 24 + (GroupEntriesPerNode+1)*8 + GroupEntriesPerNode*8

const maxGroupDepth = 64

// ReadGroupEntries walks the group B-tree rooted at address and returns
// the entries of every symbol table node, in name order.
func ReadGroupEntries(r io.ReaderAt, address uint64, sb *core.Superblock) ([]Entry, error) {
	var snods []uint64
	visited := make(map[uint64]bool)
	if err := collectSNODs(r, address, sb, 0, visited, &snods); err != nil {
		return nil, err
	}
	var entries []Entry
	for _, addr := range snods {
		e, err := ReadSNOD(r, addr, sb)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e...)
	}
	return entries, nil
}

func collectSNODs(r io.ReaderAt, address uint64, sb *core.Superblock, depth int, visited map[uint64]bool, out *[]uint64) error {
	if depth > maxGroupDepth {
		return fmt.Errorf("group B-tree deeper than %d levels", maxGroupDepth)
	}
	if visited[address] {
		return fmt.Errorf("group B-tree cycle at 0x%X", address)
	}
	visited[address] = true

	o, l := int(sb.OffsetSize), int(sb.LengthSize)
	head, err := utils.ReadAt(r, address, 8+2*o)
	if err != nil {
		return utils.WrapError("group B-tree node", err)
	}
	if string(head[:4]) != "TREE" {
		return fmt.Errorf("invalid B-tree signature %q at 0x%X", head[:4], address)
	}
	if head[4] != core.BTreeNodeGroup {
		return fmt.Errorf("B-tree node at 0x%X has type %d, want group", address, head[4])
	}
	level := head[5]
	entries := int(binary.LittleEndian.Uint16(head[6:]))
	if entries == 0 {
		return nil
	}

	body, err := utils.ReadAt(r, address+uint64(len(head)), entries*(l+o)+l)
	if err != nil {
		return utils.WrapError("group B-tree entries", err)
	}
	for i := 0; i < entries; i++ {
		child := utils.ReadAddress(body[i*(l+o)+l:], o)
		if !utils.IsDefined(child) {
			continue
		}
		if level == 0 {
			*out = append(*out, child)
			continue
		}
		if err := collectSNODs(r, child, sb, depth+1, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// GroupChild is a symbol table node to index: its address and the heap
// offset of the last name it holds.
type GroupChild struct {
	Address  uint64
	LastName uint64
}

// BuildGroupBTree writes a group B-tree over children, which must be in
// name order, and returns the root address. An empty group still gets a
// root leaf with no entries.
func BuildGroupBTree(w core.NodeWriter, children []GroupChild) (uint64, error) {
	type ref struct {
		left, right uint64
		addr        uint64
	}
	level := make([]ref, len(children))
	var prev uint64
	for i, c := range children {
		level[i] = ref{left: prev, right: c.LastName, addr: c.Address}
		prev = c.LastName
	}

	for depth := 0; ; depth++ {
		groups := (len(level) + GroupEntriesPerNode - 1) / GroupEntriesPerNode
		if groups == 0 {
			groups = 1
		}
		addrs := make([]uint64, groups)
		for g := range addrs {
			addr, err := w.Allocate(GroupNodeSize)
			if err != nil {
				return 0, err
			}
			addrs[g] = addr
		}

		next := make([]ref, groups)
		for g := 0; g < groups; g++ {
			lo := g * GroupEntriesPerNode
			hi := lo + GroupEntriesPerNode
			if hi > len(level) {
				hi = len(level)
			}

			node := make([]byte, GroupNodeSize)
			copy(node, "TREE")
			node[4] = core.BTreeNodeGroup
			node[5] = byte(depth)
			binary.LittleEndian.PutUint16(node[6:], uint16(hi-lo)) //nolint:gosec // G115: at most 32
			left, right := utils.UndefinedAddress, utils.UndefinedAddress
			if g > 0 {
				left = addrs[g-1]
			}
			if g < groups-1 {
				right = addrs[g+1]
			}
			binary.LittleEndian.PutUint64(node[8:], left)
			binary.LittleEndian.PutUint64(node[16:], right)

			p := 24
			var first uint64
			if lo < hi {
				first = level[lo].left
			}
			binary.LittleEndian.PutUint64(node[p:], first)
			p += 8
			for _, e := range level[lo:hi] {
				binary.LittleEndian.PutUint64(node[p:], e.addr)
				binary.LittleEndian.PutUint64(node[p+8:], e.right)
				p += 16
			}
			if err := w.WriteAtAddress(node, addrs[g]); err != nil {
				return 0, err
			}
			if lo < hi {
				next[g] = ref{left: level[lo].left, right: level[hi-1].right, addr: addrs[g]}
			}
		}
		if groups == 1 {
			return addrs[0], nil
		}
		level = next
	}
}
