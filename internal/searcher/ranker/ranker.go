// Package ranker scores documents with BM25 and keeps the best ones.
package ranker

import (
	"math"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc is a document ordinal with its relevance score.
type ScoredDoc struct {
	Ord   uint32  `json:"ord"`
	Score float64 `json:"score"`
}

type RankParams struct {
	TotalDocs    uint64
	AvgDocLength float64
}

// Scorer computes BM25 contributions for one snapshot.
type Scorer struct {
	params RankParams
}

func NewScorer(params RankParams) Scorer {
	return Scorer{params: params}
}

// IDF weighs a term by how many live documents contain it.
func (s Scorer) IDF(docFreq int) float64 {
	return computeIDF(int64(s.params.TotalDocs), int64(docFreq))
}

// Score is the contribution of a term with the given idf occurring
// termFreq times in a document of docLength terms.
func (s Scorer) Score(idf float64, termFreq, docLength uint32) float64 {
	return idf * computeTFNorm(float64(termFreq), float64(docLength), s.params.AvgDocLength)
}

// Round keeps four decimals so that scores equal up to float noise tie
// and fall back to insertion order.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// computeIDF never goes negative, even for terms present in every document.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
