package segment

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSegment(t testing.TB, dir directory.Directory, codec Codec, name string, docs []index.Document) Info {
	t.Helper()
	mem := index.NewMemoryIndex(tokenizer.Default())
	for i, d := range docs {
		mem.AddDocument(uint32(i+1), d)
	}
	info, err := NewWriter(dir, codec).Write(context.Background(), name, mem.Snapshot(), mem.Docs())
	require.NoError(t, err)
	return info
}

var sampleDocs = []index.Document{
	{ID: "1", Comment: "Super service, bon prix"},
	{ID: "2", Comment: "Service un peu lent mais prix correct", Fields: map[string]string{"note": "3"}},
	{ID: "3", Comment: "the and"},
}

func TestWriteAndReadEveryCodec(t *testing.T) {
	ctx := context.Background()
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := directory.NewMemory()
			info := buildSegment(t, dir, codec, Name(1), sampleDocs)
			assert.Equal(t, uint32(3), info.DocCount)
			assert.Equal(t, uint32(1), info.MinOrd)
			assert.Equal(t, uint32(3), info.MaxOrd)

			r, err := OpenReader(ctx, dir, Name(1))
			require.NoError(t, err)
			defer r.DecRef()

			assert.Equal(t, codec, r.Codec())
			assert.Equal(t, uint32(3), r.DocCount())

			postings, err := r.Search("prix")
			require.NoError(t, err)
			assert.Equal(t, index.PostingList{{Ord: 1, Frequency: 1}, {Ord: 2, Frequency: 1}}, postings)
			assert.Equal(t, 2, r.DocFreq("prix"))

			missing, err := r.Search("absent")
			require.NoError(t, err)
			assert.Nil(t, missing)

			doc, ok := r.Doc(2)
			require.True(t, ok)
			assert.Equal(t, "2", doc.ID)
			assert.Equal(t, "3", doc.Fields["note"])
			assert.Equal(t, uint32(7), doc.Length)

			stopOnly, ok := r.Doc(3)
			require.True(t, ok)
			assert.Zero(t, stopOnly.Length)

			_, ok = r.Doc(9)
			assert.False(t, ok)
		})
	}
}

func TestCompressibleStoredBlockShrinks(t *testing.T) {
	docs := make([]index.Document, 200)
	for i := range docs {
		docs[i] = index.Document{ID: fmt.Sprint(i), Comment: strings.Repeat("excellent accueil service rapide ", 4)}
	}
	plain := buildSegment(t, directory.NewMemory(), CodecNone, Name(1), docs)
	zstdInfo := buildSegment(t, directory.NewMemory(), CodecZstd, Name(1), docs)
	lz4Info := buildSegment(t, directory.NewMemory(), CodecLZ4, Name(1), docs)
	assert.Less(t, zstdInfo.Size, plain.Size)
	assert.Less(t, lz4Info.Size, plain.Size)
}

func TestForEachTermVisitsInOrder(t *testing.T) {
	dir := directory.NewMemory()
	buildSegment(t, dir, CodecZstd, Name(4), sampleDocs)
	r, err := OpenReader(context.Background(), dir, Name(4))
	require.NoError(t, err)
	defer r.DecRef()

	var terms []string
	require.NoError(t, r.ForEachTerm(func(term string, postings index.PostingList) error {
		terms = append(terms, term)
		assert.NotEmpty(t, postings)
		return nil
	}))
	assert.Equal(t, r.Terms(), len(terms))
	assert.IsIncreasing(t, terms)
}

func TestOpenReaderDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	buildSegment(t, dir, CodecLZ4, Name(1), sampleDocs)
	data, err := dir.ReadFile(ctx, Name(1))
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[HeaderSize+2] ^= 0xff
	require.NoError(t, dir.WriteFile(ctx, "flipped.spdx", flipped))
	_, err = OpenReader(ctx, dir, "flipped.spdx")
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)

	require.NoError(t, dir.WriteFile(ctx, "short.spdx", data[:40]))
	_, err = OpenReader(ctx, dir, "short.spdx")
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 0
	require.NoError(t, dir.WriteFile(ctx, "magic.spdx", badMagic))
	_, err = OpenReader(ctx, dir, "magic.spdx")
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)

	_, err = OpenReader(ctx, dir, "missing.spdx")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestWriteRejectsEmptyAndUnsorted(t *testing.T) {
	w := NewWriter(directory.NewMemory(), CodecNone)
	_, err := w.Write(context.Background(), Name(1), nil, nil)
	assert.Error(t, err)

	_, err = w.Write(context.Background(), Name(1), nil, []index.StoredDoc{{Ord: 2}, {Ord: 1}})
	assert.Error(t, err)
}

func TestRefCounting(t *testing.T) {
	dir := directory.NewMemory()
	buildSegment(t, dir, CodecNone, Name(1), sampleDocs)
	r, err := OpenReader(context.Background(), dir, Name(1))
	require.NoError(t, err)

	var closed string
	r.OnClose(func(name string) { closed = name })

	require.True(t, r.IncRef())
	assert.Equal(t, int32(2), r.RefCount())
	require.NoError(t, r.DecRef())
	assert.Empty(t, closed)
	require.NoError(t, r.DecRef())
	assert.Equal(t, Name(1), closed)
	assert.False(t, r.IncRef())
	assert.Error(t, r.DecRef())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "seg_000000000042.spdx", Name(42))
	assert.True(t, IsSegmentFile(Name(42)))
	assert.False(t, IsSegmentFile("MANIFEST-000001"))

	c, err := ParseCodec("lz4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)
	_, err = ParseCodec("brotli")
	assert.Error(t, err)
}

func BenchmarkSegmentSearch(b *testing.B) {
	docs := make([]index.Document, 1000)
	for i := range docs {
		docs[i] = index.Document{ID: fmt.Sprint(i), Comment: fmt.Sprintf("service %d prix correct accueil", i%17)}
	}
	dir := directory.NewMemory()
	buildSegment(b, dir, CodecZstd, Name(1), docs)
	r, err := OpenReader(context.Background(), dir, Name(1))
	require.NoError(b, err)
	defer r.DecRef()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := r.Search("service"); err != nil {
			b.Fatal(err)
		}
	}
}
