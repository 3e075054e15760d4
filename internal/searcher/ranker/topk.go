package ranker

import (
	"container/heap"
)

// DefaultLimit is the number of results returned when none is requested.
const DefaultLimit = 10

// TopK returns the limit best documents of scores, highest score first.
// Equal scores are ordered by ordinal, i.e. insertion order.
func TopK(scores map[uint32]float64, limit int) []ScoredDoc {
	if limit <= 0 {
		limit = DefaultLimit
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for ord, score := range scores {
		heap.Push(h, ScoredDoc{Ord: ord, Score: Round(score)})
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ScoredDoc)
	}
	return result
}

// scoredDocHeap keeps the worst kept document on top.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Ord > h[j].Ord
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
