package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Manifest {
	m := New()
	m.Generation = 3
	m.CreatedAt = time.Unix(1_700_000_000, 42).UTC()
	m.NextOrd = 11
	m.NextSegmentID = 3
	m.Segments = []SegmentInfo{
		{ID: 1, Name: "seg_000000000001.spdx", DocCount: 6, MinOrd: 1, MaxOrd: 6, Size: 900},
		{ID: 2, Name: "seg_000000000002.spdx", DocCount: 4, MinOrd: 7, MaxOrd: 10, Size: 512},
	}
	m.Deleted = roaring.BitmapOf(2, 3, 8)
	return m
}

func TestEncodeDecode(t *testing.T) {
	m := sample()
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.Generation, got.Generation)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.NextOrd, got.NextOrd)
	assert.Equal(t, m.NextSegmentID, got.NextSegmentID)
	assert.Equal(t, m.Segments, got.Segments)
	assert.True(t, m.Deleted.Equals(got.Deleted))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := Encode(sample())
	require.NoError(t, err)

	for name, mutate := range map[string]func([]byte) []byte{
		"truncated": func(b []byte) []byte { return b[:10] },
		"magic":     func(b []byte) []byte { b[0] ^= 1; return b },
		"payload":   func(b []byte) []byte { b[len(b)-1] ^= 1; return b },
		"length":    func(b []byte) []byte { return b[:len(b)-3] },
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(mutate(append([]byte(nil), data...)))
			assert.ErrorIs(t, err, apperrors.ErrCorrupt)
		})
	}
}

func TestCounts(t *testing.T) {
	m := sample()
	assert.Equal(t, uint64(10), m.TotalDocs())
	assert.Equal(t, uint64(7), m.LiveDocs())
	assert.Equal(t, uint64(4), m.LiveInSegment(m.Segments[0]))
	assert.Equal(t, uint64(3), m.LiveInSegment(m.Segments[1]))
}

func TestCloneIsIndependent(t *testing.T) {
	m := sample()
	c := m.Clone()
	c.Deleted.Add(9)
	c.Segments[0].DocCount = 99
	assert.False(t, m.Deleted.Contains(9))
	assert.Equal(t, uint32(6), m.Segments[0].DocCount)
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	s := NewStore(dir)

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	m := New()
	require.NoError(t, s.Save(ctx, m))
	m2 := sample()
	require.NoError(t, s.Save(ctx, m2))

	gen, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), gen)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Generation)
	assert.Len(t, loaded.Segments, 2)

	require.NoError(t, s.Delete(ctx, 0))
	names, err := dir.List(ctx, FilePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST-000003"}, names)
}

func TestLoadRejectsGarbageCurrent(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	require.NoError(t, dir.WriteFile(ctx, CurrentFileName, []byte("../../etc/passwd")))
	_, err := NewStore(dir).Load(ctx)
	assert.Error(t, err)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "MANIFEST-000012", FileName(12))
	gen, ok := ParseFileName("MANIFEST-000012")
	assert.True(t, ok)
	assert.Equal(t, uint64(12), gen)
	_, ok = ParseFileName("seg_000000000001.spdx")
	assert.False(t, ok)
}
