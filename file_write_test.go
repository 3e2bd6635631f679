package h5trim

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// eventType mimics a small PyTables table row.
func eventType(t *testing.T) *Type {
	t.Helper()
	name, err := FixedString(8)
	require.NoError(t, err)
	typ, err := Compound(
		Field{Name: "obs_id", Type: Int32},
		Field{Name: "event_id", Type: Int64},
		Field{Name: "energy", Type: Float64},
		Field{Name: "label", Type: name},
	)
	require.NoError(t, err)
	return typ
}

func eventRows(typ *Type, n int, seed int64) []byte {
	data := make([]byte, n*typ.Size())
	for i := 0; i < n; i++ {
		row := data[i*typ.Size():]
		binary.LittleEndian.PutUint32(row, uint32(seed))
		binary.LittleEndian.PutUint64(row[4:], uint64(seed)*1000+uint64(i))
		binary.LittleEndian.PutUint64(row[12:], math.Float64bits(float64(i)/8))
		copy(row[20:28], fmt.Sprintf("ev%d", i))
	}
	return data
}

func float64Data(n int) []byte {
	data := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(math.Sin(float64(i))))
	}
	return data
}

func openDataset(t *testing.T, f *File, path string) *Dataset {
	t.Helper()
	obj, err := f.Get(path)
	require.NoError(t, err)
	ds, ok := obj.(*Dataset)
	require.True(t, ok, "%s is %T", path, obj)
	return ds
}

func TestWriter_RoundTrip(t *testing.T) {
	path := tempFile(t, "roundtrip.h5")
	typ := eventType(t)
	rows := eventRows(typ, 100, 7)

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateGroup("/dl1/event/subarray", true)
	require.NoError(t, err)
	node, err := w.CreateDataset("/dl1/event/subarray/trigger", DatasetSpec{
		Type:  typ,
		Shape: []uint64{100},
		Data:  rows,
		Attrs: map[string]any{"CLASS": "TABLE", "NROWS": int64(100)},
	})
	require.NoError(t, err)
	assert.Equal(t, "trigger", node.Name())
	assert.False(t, node.IsGroup())
	require.NoError(t, w.SetAttr("/", "CTA PRODUCT DATA LEVELS", "DL1,DL2"))
	require.NoError(t, w.SetAttr("/dl1", "offset", int32(-3)))
	require.NoError(t, w.SetAttr("/dl1", "scale", float32(1.5)))
	require.NoError(t, w.SetAttr("/dl1", "pointing", []float64{1, 2, 3}))
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	ds := openDataset(t, f, "/dl1/event/subarray/trigger")
	n, err := ds.NumRows()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
	dt, err := ds.Datatype()
	require.NoError(t, err)
	assert.True(t, typ.Equal(dt))
	assert.Equal(t, []string{"obs_id", "event_id", "energy", "label"}, fieldNames(dt))
	layout, err := ds.Layout()
	require.NoError(t, err)
	assert.Equal(t, "contiguous", layout)
	raw, err := ds.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, rows, raw)

	class, err := ds.Attribute("CLASS")
	require.NoError(t, err)
	s, err := class.AsString()
	require.NoError(t, err)
	assert.Equal(t, "TABLE", s)
	nrows, err := ds.Attribute("NROWS")
	require.NoError(t, err)
	v, err := nrows.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	levels, err := f.Root().Attribute("CTA PRODUCT DATA LEVELS")
	require.NoError(t, err)
	s, err = levels.AsString()
	require.NoError(t, err)
	assert.Equal(t, "DL1,DL2", s)

	obj, err := f.Get("/dl1")
	require.NoError(t, err)
	dl1 := obj.(*Group)
	offset, err := dl1.Attribute("offset")
	require.NoError(t, err)
	v, err = offset.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v)
	scale, err := dl1.Attribute("scale")
	require.NoError(t, err)
	x, err := scale.AsFloat64()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, x, 0)
	pointing, err := dl1.Attribute("pointing")
	require.NoError(t, err)
	assert.Equal(t, 3, pointing.Len())
	assert.Equal(t, []uint64{3}, pointing.Shape)
	_, err = pointing.AsFloat64()
	require.Error(t, err)

	_, err = dl1.Attribute("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func fieldNames(t *Type) []string {
	var names []string
	for _, f := range t.Fields() {
		names = append(names, f.Name)
	}
	return names
}

func TestWriter_ManyGroupEntries(t *testing.T) {
	// 300 entries need 38 symbol table nodes and a two-level group B-tree.
	for _, count := range []int{9, 300} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			path := tempFile(t, "many.h5")
			w, err := Create(path)
			require.NoError(t, err)
			for i := 0; i < count; i++ {
				_, err := w.CreateGroup(fmt.Sprintf("/tel_%03d", i), false)
				require.NoError(t, err)
			}
			require.NoError(t, w.Close())

			f, err := Open(path)
			require.NoError(t, err)
			defer func() { _ = f.Close() }()
			children, err := f.Root().Children()
			require.NoError(t, err)
			require.Len(t, children, count)
			for i, c := range children {
				assert.Equal(t, fmt.Sprintf("tel_%03d", i), c.Name())
				assert.IsType(t, &Group{}, c)
			}
		})
	}
}

func TestWriter_ChunkedFiltered(t *testing.T) {
	path := tempFile(t, "chunked.h5")
	data := float64Data(1000)

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateDataset("/values", DatasetSpec{
		Type:       Float64,
		Shape:      []uint64{1000},
		MaxShape:   []uint64{Unlimited},
		Chunk:      []uint32{10},
		Shuffle:    true,
		Deflate:    5,
		Fletcher32: true,
		Data:       data,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	ds := openDataset(t, f, "/values")

	filters, err := ds.Filters()
	require.NoError(t, err)
	assert.Equal(t, []string{"shuffle", "deflate", "fletcher32"}, filters)
	chunk, err := ds.ChunkShape()
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, chunk)
	raw, err := ds.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestWriter_ChunkedPartialEdges(t *testing.T) {
	path := tempFile(t, "edges.h5")
	data := make([]byte, 7*5*4)
	for i := 0; i < 35; i++ {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(i*i))
	}

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateDataset("/image", DatasetSpec{
		Type:  Int32,
		Shape: []uint64{7, 5},
		Chunk: []uint32{3, 2},
		Data:  data,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	raw, err := openDataset(t, f, "/image").ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestWriter_EmptyExtendibleTable(t *testing.T) {
	path := tempFile(t, "empty.h5")
	typ := eventType(t)

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateDataset("/events", DatasetSpec{
		Type:     typ,
		Shape:    []uint64{0},
		MaxShape: []uint64{Unlimited},
		Chunk:    []uint32{64},
		Deflate:  1,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	ds := openDataset(t, f, "/events")
	n, err := ds.NumRows()
	require.NoError(t, err)
	assert.Zero(t, n)
	raw, err := ds.ReadRaw()
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestWriter_Links(t *testing.T) {
	path := tempFile(t, "links.h5")

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateGroup("/simulation/service", true)
	require.NoError(t, err)
	_, err = w.CreateDataset("/simulation/service/shower_distribution", DatasetSpec{
		Type: Int64, Shape: []uint64{4}, Data: make([]byte, 32),
	})
	require.NoError(t, err)
	require.NoError(t, w.CreateSoftLink("/", "service", "/simulation/service"))
	require.NoError(t, w.Link("/simulation/service/shower_distribution", "/", "histogram"))
	require.ErrorIs(t, w.CreateSoftLink("/", "service", "/elsewhere"), ErrExists)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	obj, err := f.Get("/service")
	require.NoError(t, err)
	link, ok := obj.(*SoftLink)
	require.True(t, ok)
	assert.Equal(t, "/simulation/service", link.Target)

	viaLink := openDataset(t, f, "/service/shower_distribution")
	direct := openDataset(t, f, "/simulation/service/shower_distribution")
	hard := openDataset(t, f, "/histogram")
	assert.Equal(t, direct.Address(), viaLink.Address())
	assert.Equal(t, direct.Address(), hard.Address())
}

func TestWriter_Errors(t *testing.T) {
	w, err := Create(tempFile(t, "errors.h5"))
	require.NoError(t, err)

	_, err = w.CreateGroup("/a/b", false)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = w.CreateGroup("relative", true)
	require.Error(t, err)

	g, err := w.CreateGroup("/a/b", true)
	require.NoError(t, err)
	assert.True(t, g.IsGroup())
	again, err := w.CreateGroup("/a/b", false)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", again.Path())

	_, err = w.CreateDataset("/a/b/d", DatasetSpec{Type: Int8, Shape: []uint64{2}, Data: []byte{1, 2}})
	require.NoError(t, err)
	_, err = w.CreateDataset("/a/b/d", DatasetSpec{Type: Int8, Shape: []uint64{2}})
	require.ErrorIs(t, err, ErrExists)
	_, err = w.CreateGroup("/a/b/d/e", true)
	require.ErrorIs(t, err, ErrExists)
	_, err = w.CreateDataset("/missing/d", DatasetSpec{Type: Int8, Shape: []uint64{1}})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = w.CreateDataset("/a/short", DatasetSpec{Type: Int8, Shape: []uint64{4}, Data: []byte{1}})
	require.Error(t, err)
	_, err = w.CreateDataset("/a/filtered", DatasetSpec{Type: Int8, Shape: []uint64{4}, Deflate: 4})
	require.ErrorContains(t, err, "chunk shape is required")
	require.Error(t, w.SetAttr("/a", "bad", struct{}{}))
	require.ErrorIs(t, w.SetAttr("/nowhere", "x", 1), ErrNotFound)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.CreateGroup("/c", true)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, w.SetAttr("/", "x", 1), ErrClosed)
}

func TestWriter_Deterministic(t *testing.T) {
	build := func(path string) []byte {
		w, err := Create(path)
		require.NoError(t, err)
		typ := eventType(t)
		for _, name := range []string{"/z", "/a", "/m/n"} {
			_, err := w.CreateGroup(name, true)
			require.NoError(t, err)
		}
		_, err = w.CreateDataset("/m/n/events", DatasetSpec{
			Type: typ, Shape: []uint64{130}, Chunk: []uint32{16}, Deflate: 6, Data: eventRows(typ, 130, 3),
		})
		require.NoError(t, err)
		require.NoError(t, w.SetAttr("/m", "b", "second"))
		require.NoError(t, w.SetAttr("/m", "a", []int64{1, 2}))
		require.NoError(t, w.Close())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}
	first := build(tempFile(t, "one.h5"))
	second := build(tempFile(t, "two.h5"))
	assert.Equal(t, first, second)
}

func TestFile_ClosedAndMissing(t *testing.T) {
	path := tempFile(t, "closed.h5")
	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateGroup("/g", false)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := Open(path)
	require.NoError(t, err)
	_, err = f.Get("/g/missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.Get("g")
	require.Error(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	_, err = f.Get("/g")
	require.ErrorIs(t, err, ErrClosed)

	_, err = Open(filepath.Join(t.TempDir(), "absent.h5"))
	require.Error(t, err)
}
