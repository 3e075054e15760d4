package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFIsPositive(t *testing.T) {
	s := NewScorer(RankParams{TotalDocs: 2, AvgDocLength: 5})
	assert.Greater(t, s.IDF(2), 0.0, "a term in every document still counts")
	assert.Greater(t, s.IDF(1), s.IDF(2), "rarer terms weigh more")
}

func TestScoreFavoursShortDocuments(t *testing.T) {
	s := NewScorer(RankParams{TotalDocs: 2, AvgDocLength: 5.5})
	idf := s.IDF(2)
	assert.Greater(t, s.Score(idf, 1, 4), s.Score(idf, 1, 7))
	assert.Greater(t, s.Score(idf, 2, 7), s.Score(idf, 1, 7))
}

func TestScoreOfEmptyIndex(t *testing.T) {
	s := NewScorer(RankParams{})
	assert.Zero(t, s.Score(s.IDF(0), 1, 1))
}

func TestTopKOrdersByScoreThenOrdinal(t *testing.T) {
	got := TopK(map[uint32]float64{
		4: 1.5,
		2: 2.0,
		9: 1.5,
		1: 1.5,
		7: 0.1,
	}, 4)
	require.Len(t, got, 4)
	assert.Equal(t, []uint32{2, 1, 4, 9}, []uint32{got[0].Ord, got[1].Ord, got[2].Ord, got[3].Ord})
}

func TestTopKTiesAfterRounding(t *testing.T) {
	got := TopK(map[uint32]float64{5: 1.000001, 3: 1.0000004}, 0)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(3), got[0].Ord)
	assert.Equal(t, 1.0, got[0].Score)
}

func TestTopKDefaultLimit(t *testing.T) {
	scores := make(map[uint32]float64)
	for i := uint32(1); i <= 25; i++ {
		scores[i] = float64(i)
	}
	got := TopK(scores, 0)
	require.Len(t, got, DefaultLimit)
	assert.Equal(t, uint32(25), got[0].Ord)
	assert.Equal(t, uint32(16), got[9].Ord)
}

func BenchmarkTopK(b *testing.B) {
	scores := make(map[uint32]float64, 10000)
	for i := uint32(0); i < 10000; i++ {
		scores[i] = float64(i%97) / 7
	}
	for b.Loop() {
		TopK(scores, 10)
	}
}
