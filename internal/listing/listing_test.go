package listing

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5trim"
)

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.h5")
	w, err := h5trim.Create(path)
	require.NoError(t, err)
	_, err = w.CreateGroup("/dl2/event", true)
	require.NoError(t, err)
	_, err = w.CreateDataset("/dl2/event/energy", h5trim.DatasetSpec{
		Type:    h5trim.Float32,
		Shape:   []uint64{20},
		Chunk:   []uint32{8},
		Deflate: 3,
		Data:    make([]byte, 80),
		Attrs:   map[string]any{"CLASS": "TABLE", "NROWS": int64(20), "scale": 0.25, "flags": []int32{1, 2}},
	})
	require.NoError(t, err)
	require.NoError(t, w.CreateSoftLink("/dl2", "latest", "/dl2/event"))
	require.NoError(t, w.SetAttr("/", "max", uint64(1)<<63))
	require.NoError(t, w.Close())
	return path
}

func TestTree(t *testing.T) {
	f, err := h5trim.Open(writeSample(t))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	entries, err := Tree(f, "/")
	require.NoError(t, err)
	text := Text(entries, false)
	assert.Equal(t, strings.Join([]string{
		"/ group attrs=1",
		"/dl2 group",
		"/dl2/event group",
		"/dl2/event/energy dataset (20) float32 chunked chunks=(8) filters=deflate attrs=4",
		"/dl2/latest soft link -> /dl2/event",
		"",
	}, "\n"), text)

	withAttrs := Text(entries, true)
	assert.Contains(t, withAttrs, "  @max uint64 = 9223372036854775808\n")
	assert.Contains(t, withAttrs, `  @CLASS string[5] = "TABLE"`)
	assert.Contains(t, withAttrs, "  @NROWS int64 = 20\n")
	assert.Contains(t, withAttrs, "  @scale float64 = 0.25\n")
	assert.Contains(t, withAttrs, "  @flags int32 = 2 x 0100000002000000\n")

	sub, err := Tree(f, "/dl2/event/energy")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, []uint64{8}, sub[0].Chunks)

	_, err = Tree(f, "/missing")
	require.ErrorIs(t, err, h5trim.ErrNotFound)
}

func TestYAML(t *testing.T) {
	f, err := h5trim.Open(writeSample(t))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	entries, err := Tree(f, "/dl2")
	require.NoError(t, err)
	out, err := YAML(entries)
	require.NoError(t, err)
	assert.Contains(t, string(out), "path: /dl2/event/energy")

	var back []Entry
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, entries, back)
}
