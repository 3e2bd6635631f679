package h5trim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSource builds a small archive with a shared dataset, a soft link
// and attributes at several levels.
func writeSource(t *testing.T) string {
	t.Helper()
	path := tempFile(t, "source.h5")
	typ := eventType(t)

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.CreateGroup("/configuration/instrument/telescope", true)
	require.NoError(t, err)
	_, err = w.CreateDataset("/configuration/instrument/telescope/optics", DatasetSpec{
		Type: typ, Shape: []uint64{300}, Chunk: []uint32{4}, Shuffle: true, Deflate: 9, Data: eventRows(typ, 300, 1),
		Attrs: map[string]any{"CLASS": "TABLE"},
	})
	require.NoError(t, err)
	_, err = w.CreateDataset("/configuration/instrument/subarray", DatasetSpec{
		Type: Float32, Shape: []uint64{2, 3}, Data: make([]byte, 24),
	})
	require.NoError(t, err)
	require.NoError(t, w.Link("/configuration/instrument/telescope/optics", "/configuration", "optics"))
	require.NoError(t, w.CreateSoftLink("/configuration", "latest", "instrument/telescope"))
	require.NoError(t, w.SetAttr("/configuration/instrument", "version", int64(4)))
	require.NoError(t, w.SetAttr("/", "origin", "simtel"))
	require.NoError(t, w.SetAttr("/", "run", int32(1001)))
	require.NoError(t, w.Close())
	return path
}

func TestCopyNode_Tree(t *testing.T) {
	src, err := Open(writeSource(t))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	outPath := tempFile(t, "copy.h5")
	w, err := Create(outPath)
	require.NoError(t, err)
	cfg, err := src.Get("/configuration")
	require.NoError(t, err)
	require.NoError(t, w.CopyNode(cfg, "/", "configuration"))
	require.NoError(t, w.Close())

	dst, err := Open(outPath)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()

	for _, p := range []string{"/configuration/instrument/telescope/optics", "/configuration/instrument/subarray"} {
		want := openDataset(t, src, p)
		got := openDataset(t, dst, p)
		wantRaw, err := want.ReadRaw()
		require.NoError(t, err)
		gotRaw, err := got.ReadRaw()
		require.NoError(t, err)
		assert.Equal(t, wantRaw, gotRaw, p)
		wantType, err := want.Datatype()
		require.NoError(t, err)
		gotType, err := got.Datatype()
		require.NoError(t, err)
		assert.True(t, wantType.Equal(gotType), p)
	}

	optics := openDataset(t, dst, "/configuration/instrument/telescope/optics")
	filters, err := optics.Filters()
	require.NoError(t, err)
	assert.Equal(t, []string{"shuffle", "deflate"}, filters)
	class, err := optics.Attribute("CLASS")
	require.NoError(t, err)
	s, err := class.AsString()
	require.NoError(t, err)
	assert.Equal(t, "TABLE", s)

	shared := openDataset(t, dst, "/configuration/optics")
	assert.Equal(t, optics.Address(), shared.Address())

	obj, err := dst.Get("/configuration/latest")
	require.NoError(t, err)
	require.IsType(t, &SoftLink{}, obj)
	assert.Equal(t, "instrument/telescope", obj.(*SoftLink).Target)
	viaLink := openDataset(t, dst, "/configuration/latest/optics")
	assert.Equal(t, optics.Address(), viaLink.Address())

	inst, err := dst.Get("/configuration/instrument")
	require.NoError(t, err)
	version, err := inst.(*Group).Attribute("version")
	require.NoError(t, err)
	v, err := version.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	// Root attributes are not part of a subtree copy.
	attrs, err := dst.Root().Attributes()
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestCopyNode_Errors(t *testing.T) {
	src, err := Open(writeSource(t))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()
	sub, err := src.Get("/configuration/instrument/subarray")
	require.NoError(t, err)

	w, err := Create(tempFile(t, "errors.h5"))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.ErrorIs(t, w.CopyNode(sub, "/missing", "subarray"), ErrNotFound)
	require.NoError(t, w.CopyNode(sub, "/", "subarray"))
	require.ErrorIs(t, w.CopyNode(sub, "/", "subarray"), ErrExists)
	require.ErrorIs(t, w.CopyNode(sub, "/subarray", "x"), ErrNotFound)
}

func TestCopyAttrs_Collision(t *testing.T) {
	src, err := Open(writeSource(t))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	outPath := tempFile(t, "attrs.h5")
	w, err := Create(outPath)
	require.NoError(t, err)
	require.NoError(t, w.SetAttr("/", "origin", "local"))
	require.NoError(t, w.SetAttr("/", "kept", uint8(9)))

	var warnings []error
	require.NoError(t, w.CopyAttrs(src.Root(), "/", OnWarning(func(err error) { warnings = append(warnings, err) })))
	require.NoError(t, w.Close())

	require.Len(t, warnings, 1)
	var collision *AttrCollisionWarning
	require.ErrorAs(t, warnings[0], &collision)
	assert.Equal(t, "/", collision.Path)
	assert.Equal(t, "origin", collision.Name)

	dst, err := Open(outPath)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()
	attrs, err := dst.Root().Attributes()
	require.NoError(t, err)
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"origin", "kept", "run"}, names)
	origin, err := dst.Root().Attribute("origin")
	require.NoError(t, err)
	s, err := origin.AsString()
	require.NoError(t, err)
	assert.Equal(t, "simtel", s)
	run, err := dst.Root().Attribute("run")
	require.NoError(t, err)
	v, err := run.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1001), v)
}

func TestCopyNode_Idempotent(t *testing.T) {
	srcPath := writeSource(t)
	build := func(out string) []byte {
		src, err := Open(srcPath)
		require.NoError(t, err)
		defer func() { _ = src.Close() }()
		w, err := Create(out)
		require.NoError(t, err)
		require.NoError(t, w.CopyAttrs(src.Root(), "/"))
		cfg, err := src.Get("/configuration")
		require.NoError(t, err)
		require.NoError(t, w.CopyNode(cfg, "/", "configuration"))
		require.NoError(t, w.Close())
		return readFile(t, out)
	}
	assert.Equal(t, build(tempFile(t, "a.h5")), build(tempFile(t, "b.h5")))
}
