package query

import (
	"fmt"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/ranker"
	"github.com/RoaringBitmap/roaring/v2"
)

// Source is the read side of an index snapshot.
type Source interface {
	Postings(term string) (index.PostingList, error)
	Doc(ord uint32) (index.StoredDoc, bool)
	LiveDocs() uint64
	AvgDocLength() float64
}

// Hit is one ranked match.
type Hit struct {
	Ord     uint32  `json:"-"`
	DocID   string  `json:"id"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

// Evaluate scores every document matching q with BM25, summing the
// contribution of each matching clause, and returns the limit best,
// highest first. Equal scores keep insertion order. A document indexed
// twice under the same id can appear twice; see DistinctIDs.
func Evaluate(q Query, src Source, limit int) ([]Hit, error) {
	if q.IsEmpty() || src.LiveDocs() == 0 {
		return []Hit{}, nil
	}
	e := &evaluator{
		src: src,
		scorer: ranker.NewScorer(ranker.RankParams{
			TotalDocs:    src.LiveDocs(),
			AvgDocLength: src.AvgDocLength(),
		}),
		postings: make(map[string]index.PostingList),
		lengths:  make(map[uint32]uint32),
	}
	m, err := e.eval(q)
	if err != nil {
		return nil, err
	}
	top := ranker.TopK(m.scores, limit)
	hits := make([]Hit, 0, len(top))
	for _, sd := range top {
		doc, ok := src.Doc(sd.Ord)
		if !ok {
			return nil, fmt.Errorf("posting for ordinal %d has no stored document", sd.Ord)
		}
		hits = append(hits, Hit{Ord: sd.Ord, DocID: doc.ID, Score: sd.Score, Comment: doc.Comment})
	}
	return hits, nil
}

// DistinctIDs returns the ids of hits in rank order, each once.
func DistinctIDs(hits []Hit) []string {
	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.DocID]; dup {
			continue
		}
		seen[h.DocID] = struct{}{}
		ids = append(ids, h.DocID)
	}
	return ids
}

// matches is the result of a sub-query: the matching ordinals and their
// accumulated scores.
type matches struct {
	ords   *roaring.Bitmap
	scores map[uint32]float64
}

func emptyMatches() matches {
	return matches{ords: roaring.New(), scores: map[uint32]float64{}}
}

type evaluator struct {
	src      Source
	scorer   ranker.Scorer
	postings map[string]index.PostingList
	lengths  map[uint32]uint32
}

func (e *evaluator) eval(q Query) (matches, error) {
	switch q.Kind {
	case KindTerm:
		return e.evalTerm(q.Term)
	case KindOr:
		return e.evalOr(q.Clauses)
	case KindAnd:
		return e.evalAnd(q.Clauses)
	case KindNot:
		// Only meaningful inside an AND.
		return emptyMatches(), nil
	default:
		return matches{}, fmt.Errorf("unknown query kind %s", q.Kind)
	}
}

func (e *evaluator) evalTerm(term string) (matches, error) {
	m := emptyMatches()
	if term == "" {
		return m, nil
	}
	list, ok := e.postings[term]
	if !ok {
		var err error
		if list, err = e.src.Postings(term); err != nil {
			return matches{}, err
		}
		e.postings[term] = list
	}
	idf := e.scorer.IDF(len(list))
	for _, p := range list {
		m.ords.Add(p.Ord)
		m.scores[p.Ord] += e.scorer.Score(idf, p.Frequency, e.docLength(p.Ord))
	}
	return m, nil
}

func (e *evaluator) evalOr(clauses []Query) (matches, error) {
	out := emptyMatches()
	for _, c := range clauses {
		m, err := e.eval(c)
		if err != nil {
			return matches{}, err
		}
		out.ords.Or(m.ords)
		for ord, s := range m.scores {
			out.scores[ord] += s
		}
	}
	return out, nil
}

func (e *evaluator) evalAnd(clauses []Query) (matches, error) {
	var required []matches
	excluded := roaring.New()
	for _, c := range clauses {
		if c.Kind == KindNot {
			m, err := e.eval(c.Clauses[0])
			if err != nil {
				return matches{}, err
			}
			excluded.Or(m.ords)
			continue
		}
		if c.IsEmpty() {
			continue
		}
		m, err := e.eval(c)
		if err != nil {
			return matches{}, err
		}
		required = append(required, m)
	}
	// A purely negative conjunction matches nothing.
	if len(required) == 0 {
		return emptyMatches(), nil
	}

	ords := required[0].ords.Clone()
	for _, m := range required[1:] {
		ords.And(m.ords)
	}
	ords.AndNot(excluded)

	out := matches{ords: ords, scores: make(map[uint32]float64, ords.GetCardinality())}
	it := ords.Iterator()
	for it.HasNext() {
		ord := it.Next()
		for _, m := range required {
			out.scores[ord] += m.scores[ord]
		}
	}
	return out, nil
}

func (e *evaluator) docLength(ord uint32) uint32 {
	if n, ok := e.lengths[ord]; ok {
		return n
	}
	var n uint32
	if doc, ok := e.src.Doc(ord); ok {
		n = doc.Length
	}
	e.lengths[ord] = n
	return n
}
