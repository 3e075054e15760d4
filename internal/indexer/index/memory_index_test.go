package index

import (
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexAddCountsFrequencies(t *testing.T) {
	m := NewMemoryIndex(tokenizer.Default())
	stored := m.AddDocument(3, Document{ID: "7", Comment: "Service service, bon prix", Fields: map[string]string{"restaurant": "12"}})

	assert.Equal(t, uint32(4), stored.Length)
	assert.Equal(t, "12", stored.Fields["restaurant"])
	assert.Equal(t, PostingList{{Ord: 3, Frequency: 2}}, m.Search("service"))
	assert.Nil(t, m.Search("absent"))
	assert.Equal(t, 1, m.DocCount())
	assert.Positive(t, m.Size())
}

func TestMemoryIndexSnapshotIsSorted(t *testing.T) {
	m := NewMemoryIndex(tokenizer.Default())
	m.AddDocument(2, Document{ID: "b", Comment: "prix service"})
	m.AddDocument(1, Document{ID: "a", Comment: "service"})

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "prix", snap[0].Term)
	assert.Equal(t, "service", snap[1].Term)
	assert.Equal(t, PostingList{{Ord: 1, Frequency: 1}, {Ord: 2, Frequency: 1}}, snap[1].Postings)

	docs := m.Docs()
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
}

func TestMemoryIndexRemoveDocument(t *testing.T) {
	m := NewMemoryIndex(tokenizer.Default())
	m.AddDocument(1, Document{ID: "a", Comment: "lent"})
	m.AddDocument(2, Document{ID: "b", Comment: "lent correct"})

	assert.True(t, m.RemoveDocument(2))
	assert.False(t, m.RemoveDocument(2))
	assert.Nil(t, m.Search("correct"))
	assert.Equal(t, PostingList{{Ord: 1, Frequency: 1}}, m.Search("lent"))

	m.Reset()
	assert.Zero(t, m.DocCount())
	assert.Empty(t, m.Snapshot())
}

func BenchmarkMemoryIndexAdd(b *testing.B) {
	mi := NewMemoryIndex(tokenizer.Default())
	b.ReportAllocs()
	ord := uint32(1)
	for b.Loop() {
		mi.AddDocument(ord, Document{ID: "bench", Comment: "Cuisine excellente, service impeccable et prix raisonnable pour la qualité"})
		ord++
	}
}

func BenchmarkMemoryIndexSnapshot(b *testing.B) {
	mi := NewMemoryIndex(tokenizer.Default())
	for i := range 5000 {
		mi.AddDocument(uint32(i+1), Document{ID: "d", Comment: "terrasse agréable, service lent mais souriant"})
	}
	b.ReportAllocs()
	for b.Loop() {
		_ = mi.Snapshot()
	}
}
