package h5trim

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/fixture"
	"github.com/scigolib/h5trim/internal/utils"
)

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// writeV2Fixture lays out a file the way newer libhdf5 releases do:
// version 2 superblock and headers, compact links split over a
// continuation chunk, a dense group, dense attributes and a
// variable-length string attribute.
func writeV2Fixture(t *testing.T) (path string, values []byte) {
	t.Helper()
	im := fixture.NewImage()

	values = make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(values[4*i:], uint32(10*i+1))
	}
	dataAddr := im.Put(values)

	var gh core.GlobalHeapBuilder
	idx := gh.Add([]byte("hello"))
	heapBytes, err := gh.Encode()
	require.NoError(t, err)
	heapAddr := im.Put(heapBytes)
	ref := make([]byte, core.VarLenRefSize)
	core.VarLenRef{Length: 5, HeapAddress: heapAddr, Index: idx}.Encode(ref)
	comment, err := core.EncodeAttributeMessage(&core.Attribute{
		Name:      "comment",
		Datatype:  core.NewVarLenString(8),
		Dataspace: &core.DataspaceMessage{Type: core.DataspaceScalar},
		Data:      ref,
	})
	require.NoError(t, err)

	units, err := attributeFromValue("units", "m")
	require.NoError(t, err)
	unitsMsg, err := core.EncodeAttributeMessage(units)
	require.NoError(t, err)
	attrInfo, err := fixture.DenseAttributes(im, []string{"units"}, [][]byte{unitsMsg}, fixture.HeapOptions{})
	require.NoError(t, err)

	space, err := core.EncodeDataspaceMessage([]uint64{4}, nil)
	require.NoError(t, err)
	dsAddr := im.Put(fixture.ObjectHeaderV2(
		fixture.Message{Type: core.MsgDataspace, Data: space},
		fixture.Message{Type: core.MsgDatatype, Flags: core.MsgFlagConstant, Data: Int32.Bytes()},
		fixture.Message{Type: core.MsgDataLayout, Data: core.EncodeContiguousLayout(dataAddr, 16)},
		fixture.Message{Type: core.MsgAttribute, Data: comment},
		fixture.Message{Type: core.MsgAttributeInfo, Data: attrInfo},
	))

	compact := fixture.LinkInfo(utils.UndefinedAddress, utils.UndefinedAddress)
	leaf := im.Put(fixture.ObjectHeaderV2(
		fixture.Message{Type: core.MsgLinkInfo, Data: compact},
		fixture.Message{Type: core.MsgGroupInfo, Data: fixture.GroupInfo()},
	))

	names := make([]string, 20)
	links := make([][]byte, 20)
	for i := range names {
		names[i] = fmt.Sprintf("n%02d", i)
		links[i] = fixture.HardLink(names[i], leaf)
	}
	denseInfo, err := fixture.DenseLinks(im, names, links, fixture.HeapOptions{})
	require.NoError(t, err)
	dense := im.Put(fixture.ObjectHeaderV2(
		fixture.Message{Type: core.MsgLinkInfo, Data: denseInfo},
		fixture.Message{Type: core.MsgGroupInfo, Data: fixture.GroupInfo()},
	))

	chunk := fixture.ContinuationChunk(
		fixture.Message{Type: core.MsgLink, Data: fixture.ExternalLink("ext", "other.h5", "/x")},
		fixture.Message{Type: core.MsgLink, Data: fixture.HardLink("dense", dense)},
	)
	chunkAddr := im.Put(chunk)
	root := im.Put(fixture.ObjectHeaderV2(
		fixture.Message{Type: core.MsgLinkInfo, Data: compact},
		fixture.Message{Type: core.MsgGroupInfo, Data: fixture.GroupInfo()},
		fixture.Message{Type: core.MsgLink, Data: fixture.HardLink("data", dsAddr)},
		fixture.Message{Type: core.MsgLink, Data: fixture.SoftLink("alias", "/data")},
		fixture.ContinuationMessage(chunkAddr, len(chunk)),
	))

	path = tempFile(t, "v2.h5")
	require.NoError(t, im.WriteFile(path, root))
	return path, values
}

func TestOpen_V2Layout(t *testing.T) {
	path, values := writeV2Fixture(t)
	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, uint8(2), f.Superblock().Version)

	children, err := f.Root().Children()
	require.NoError(t, err)
	var names []string
	for _, c := range children {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"alias", "data", "dense", "ext"}, names)

	ext, ok := children[3].(*ExternalLink)
	require.True(t, ok)
	assert.Equal(t, "other.h5", ext.File)
	assert.Equal(t, "/x", ext.Target)

	alias, err := f.Get("/alias")
	require.NoError(t, err)
	soft, ok := alias.(*SoftLink)
	require.True(t, ok, "/alias is %T", alias)
	assert.Equal(t, "/data", soft.Target)

	ds := openDataset(t, f, "/data")
	raw, err := ds.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, values, raw)

	attrs, err := ds.Attributes()
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "comment", attrs[0].Name)
	assert.Equal(t, "units", attrs[1].Name)
	s, err := attrs[0].AsString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	s, err = attrs[1].AsString()
	require.NoError(t, err)
	assert.Equal(t, "m", s)

	obj, err := f.Get("/dense")
	require.NoError(t, err)
	denseChildren, err := obj.(*Group).Children()
	require.NoError(t, err)
	require.Len(t, denseChildren, 20)
	assert.Equal(t, "n00", denseChildren[0].Name())
	assert.Equal(t, "/dense/n19", denseChildren[19].Path())

	var visited []string
	require.NoError(t, f.Walk(func(p string, _ Object) error {
		visited = append(visited, p)
		return nil
	}))
	assert.Len(t, visited, 25)
	assert.Equal(t, "/", visited[0])
	assert.Contains(t, visited, "/dense/n07")

	var sub []string
	require.NoError(t, f.WalkFrom("/dense", func(p string, _ Object) error {
		sub = append(sub, p)
		return nil
	}))
	assert.Len(t, sub, 21)
}

func TestCopyNode_FromV2Layout(t *testing.T) {
	path, values := writeV2Fixture(t)
	src, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	outPath := tempFile(t, "from_v2.h5")
	w, err := Create(outPath)
	require.NoError(t, err)
	var warnings []error
	require.NoError(t, w.CopyNode(src.Root(), "/", "copy", OnWarning(func(err error) { warnings = append(warnings, err) })))
	require.NoError(t, w.Close())

	require.Len(t, warnings, 1)
	var skipped *ExternalLinkWarning
	require.ErrorAs(t, warnings[0], &skipped)
	assert.Equal(t, "/ext", skipped.Path)

	dst, err := Open(outPath)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	assert.Equal(t, uint8(0), dst.Superblock().Version)

	_, err = dst.Get("/copy/ext")
	require.ErrorIs(t, err, ErrNotFound)

	ds := openDataset(t, dst, "/copy/data")
	raw, err := ds.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, values, raw)
	comment, err := ds.Attribute("comment")
	require.NoError(t, err)
	s, err := comment.AsString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	units, err := ds.Attribute("units")
	require.NoError(t, err)
	s, err = units.AsString()
	require.NoError(t, err)
	assert.Equal(t, "m", s)

	obj, err := dst.Get("/copy/dense")
	require.NoError(t, err)
	children, err := obj.(*Group).Children()
	require.NoError(t, err)
	require.Len(t, children, 20)
	first := children[0].(*Group)
	last := children[19].(*Group)
	assert.Equal(t, first.Address(), last.Address())

	alias, err := dst.Get("/copy/alias")
	require.NoError(t, err)
	assert.Equal(t, "/data", alias.(*SoftLink).Target)
}
