package structures_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5trim/internal/core"
	"github.com/scigolib/h5trim/internal/fixture"
	"github.com/scigolib/h5trim/internal/structures"
)

func heapObjects(n, size int) [][]byte {
	objs := make([][]byte, n)
	for i := range objs {
		objs[i] = bytes.Repeat([]byte{byte('a' + i%26)}, size)
		copy(objs[i], fmt.Sprintf("obj%03d", i))
	}
	return objs
}

func TestFractalHeapObjects(t *testing.T) {
	tests := []struct {
		name string
		objs [][]byte
		opts fixture.HeapOptions
		rows uint16
	}{
		{"root direct block", heapObjects(5, 40), fixture.HeapOptions{}, 0},
		{"indirect root", heapObjects(60, 90), fixture.HeapOptions{}, 3},
		{"narrow table", heapObjects(12, 100), fixture.HeapOptions{TableWidth: 2, StartBlockSize: 256}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := fixture.NewImage()
			addr, ids, err := fixture.BuildFractalHeap(im, tt.objs, tt.opts)
			require.NoError(t, err)

			heap, err := structures.OpenFractalHeap(im, addr, fixture.Superblock())
			require.NoError(t, err)
			assert.Equal(t, tt.rows, heap.CurrentRows)
			for i, id := range ids {
				got, err := heap.Object(id)
				require.NoError(t, err, "object %d", i)
				assert.Equal(t, tt.objs[i], got, "object %d", i)
			}
		})
	}
}

func TestFractalHeapTinyObjects(t *testing.T) {
	objs := [][]byte{[]byte("abc"), bytes.Repeat([]byte{'x'}, 64), []byte("1234567")}
	im := fixture.NewImage()
	addr, ids, err := fixture.BuildFractalHeap(im, objs, fixture.HeapOptions{TinyLimit: 7})
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), ids[0][0]&0x30)
	assert.Equal(t, byte(0x00), ids[1][0]&0x30)

	heap, err := structures.OpenFractalHeap(im, addr, fixture.Superblock())
	require.NoError(t, err)
	for i, id := range ids {
		got, err := heap.Object(id)
		require.NoError(t, err)
		assert.Equal(t, objs[i], got)
	}
}

func TestFractalHeapHugeUnsupported(t *testing.T) {
	im := fixture.NewImage()
	addr, _, err := fixture.BuildFractalHeap(im, heapObjects(1, 16), fixture.HeapOptions{})
	require.NoError(t, err)
	heap, err := structures.OpenFractalHeap(im, addr, fixture.Superblock())
	require.NoError(t, err)

	_, err = heap.Object([]byte{0x10, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestFractalHeapOffsetOutOfRange(t *testing.T) {
	im := fixture.NewImage()
	addr, _, err := fixture.BuildFractalHeap(im, heapObjects(2, 16), fixture.HeapOptions{})
	require.NoError(t, err)
	heap, err := structures.OpenFractalHeap(im, addr, fixture.Superblock())
	require.NoError(t, err)

	// offset 600, length 16: past the 512-byte root block
	_, err = heap.Object([]byte{0x00, 0x58, 0x02, 0, 0, 16, 0, 0})
	assert.Error(t, err)
}

func TestOpenFractalHeapBadSignature(t *testing.T) {
	im := fixture.NewImage()
	addr := im.Put(make([]byte, 146))
	_, err := structures.OpenFractalHeap(im, addr, fixture.Superblock())
	assert.ErrorContains(t, err, "signature")
}

func TestBTreeV2Records(t *testing.T) {
	records := func(n int) [][]byte {
		out := make([][]byte, n)
		for i := range out {
			id := make([]byte, fixture.HeapIDLength)
			id[1] = byte(i)
			out[i] = fixture.LinkNameRecord(fmt.Sprintf("link%02d", i), id)
		}
		return out
	}
	tests := []struct {
		name    string
		count   int
		leafCap int
		depth   uint16
	}{
		{"single leaf", 5, 0, 0},
		{"internal root", 20, 4, 1},
		{"separator at the end", 12, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := records(tt.count)
			im := fixture.NewImage()
			addr, err := fixture.BuildBTreeV2(im, structures.BTreeV2LinkName, recs, tt.leafCap)
			require.NoError(t, err)

			tree, err := structures.OpenBTreeV2(im, addr, fixture.Superblock())
			require.NoError(t, err)
			assert.Equal(t, tt.depth, tree.Depth)
			assert.Equal(t, uint64(tt.count), tree.TotalRecords) //nolint:gosec // G115: small test values

			got, err := tree.Records()
			require.NoError(t, err)
			require.Len(t, got, tt.count)
			for i := range recs {
				assert.Equal(t, recs[i], got[i])
				id, err := tree.HeapID(got[i])
				require.NoError(t, err)
				assert.Equal(t, byte(i), id[1])
			}
		})
	}
}

func TestBTreeV2AttributeHeapID(t *testing.T) {
	id := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	im := fixture.NewImage()
	addr, err := fixture.BuildBTreeV2(im, structures.BTreeV2AttributeName,
		[][]byte{fixture.AttributeNameRecord("units", id, 0)}, 0)
	require.NoError(t, err)

	tree, err := structures.OpenBTreeV2(im, addr, fixture.Superblock())
	require.NoError(t, err)
	recs, err := tree.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	got, err := tree.HeapID(recs[0])
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestBTreeV2ChecksumMismatch(t *testing.T) {
	im := fixture.NewImage()
	addr, err := fixture.BuildBTreeV2(im, structures.BTreeV2LinkName,
		[][]byte{fixture.LinkNameRecord("a", make([]byte, fixture.HeapIDLength))}, 0)
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, _ = im.ReadAt(buf, int64(addr)+12) //nolint:gosec // G115: small addresses
	buf[0] ^= 0xFF
	require.NoError(t, im.WriteAtAddress(buf, addr+12))

	_, err = structures.OpenBTreeV2(im, addr, fixture.Superblock())
	assert.ErrorContains(t, err, "checksum")
}
