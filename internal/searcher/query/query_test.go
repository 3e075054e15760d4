package query

import (
	"strconv"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource indexes documents with a MemoryIndex; ordinals start at 1.
type memSource struct {
	mem  *index.MemoryIndex
	docs map[uint32]index.StoredDoc
}

func newMemSource(analyzer *tokenizer.Analyzer, docs ...index.Document) *memSource {
	s := &memSource{mem: index.NewMemoryIndex(analyzer), docs: make(map[uint32]index.StoredDoc)}
	for i, d := range docs {
		ord := uint32(i + 1)
		s.docs[ord] = s.mem.AddDocument(ord, d)
	}
	return s
}

func (s *memSource) Postings(term string) (index.PostingList, error) {
	return s.mem.Search(term), nil
}

func (s *memSource) Doc(ord uint32) (index.StoredDoc, bool) {
	d, ok := s.docs[ord]
	return d, ok
}

func (s *memSource) LiveDocs() uint64 { return uint64(len(s.docs)) }

func (s *memSource) AvgDocLength() float64 {
	if len(s.docs) == 0 {
		return 0
	}
	var total uint32
	for _, d := range s.docs {
		total += d.Length
	}
	return float64(total) / float64(len(s.docs))
}

func restaurantReviews() []index.Document {
	return []index.Document{
		{ID: "1", Comment: "Super service, bon prix"},
		{ID: "2", Comment: "Service un peu lent mais prix correct"},
		{ID: "3", Comment: "Cuisine excellente, service impeccable"},
		{ID: "4", Comment: "Trop cher pour la qualité"},
	}
}

func TestParse(t *testing.T) {
	a := tokenizer.Default()
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "service", []string{"service"}},
		{"whitespace", "  service \t prix\n", []string{"service", "prix"}},
		{"case folded", "SERVICE Prix", []string{"service", "prix"}},
		{"punctuation splits words", "bon-prix", []string{"bon", "prix"}},
		{"duplicates kept", "prix prix", []string{"prix", "prix"}},
		{"stop words dropped", "the service", []string{"service"}},
		{"empty", "", nil},
		{"only stop words", "the and of", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Parse(a, tt.input)
			assert.Equal(t, KindOr, q.Kind)
			assert.Equal(t, tt.want, q.Terms())
			assert.Equal(t, len(tt.want) == 0, q.IsEmpty())
		})
	}
}

func TestParseBoolean(t *testing.T) {
	a := tokenizer.Default()
	tests := []struct {
		input string
		want  string
	}{
		{"service", "service"},
		{"service prix", "(service OR prix)"},
		{"service OR prix", "(service OR prix)"},
		{"service AND prix", "(service AND prix)"},
		{"service AND prix OR lent", "((service AND prix) OR lent)"},
		{"service NOT lent", "(service AND NOT lent)"},
		{"service AND (prix OR cher)", "(service AND (prix OR cher))"},
		{"NOT lent", "NOT lent"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := ParseBoolean(a, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParseBooleanErrors(t *testing.T) {
	a := tokenizer.Default()
	for _, input := range []string{
		"AND service",
		"service AND",
		"service OR",
		"service NOT",
		"(service",
		"service)",
		"service AND OR prix",
		"()",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseBoolean(a, input)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrParse)
		})
	}
}

func TestParseBooleanEmpty(t *testing.T) {
	q, err := ParseBoolean(tokenizer.Default(), "   ")
	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

func TestEvaluateWorkedExample(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()[:2]...)

	hits, err := Evaluate(Parse(a, "service prix"), src, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, []string{"1", "2"}, DistinctIDs(hits))
	assert.Greater(t, hits[0].Score, 0.0)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestEvaluateOrMatchesAnyTerm(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()...)

	hits, err := Evaluate(Parse(a, "cher impeccable"), src, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3", "4"}, DistinctIDs(hits))
}

func TestEvaluateMoreMatchingTermsRankHigher(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()...)

	hits, err := Evaluate(Parse(a, "service impeccable"), src, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "3", hits[0].DocID)
}

func TestEvaluateDuplicateTermsAmplify(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()...)

	once, err := Evaluate(Parse(a, "service"), src, 10)
	require.NoError(t, err)
	twice, err := Evaluate(Parse(a, "service service"), src, 10)
	require.NoError(t, err)
	require.Equal(t, len(once), len(twice))
	assert.InDelta(t, 2*once[0].Score, twice[0].Score, 0.001)
}

func TestEvaluateTiesKeepInsertionOrder(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a,
		index.Document{ID: "c", Comment: "prix"},
		index.Document{ID: "a", Comment: "prix"},
		index.Document{ID: "b", Comment: "prix"},
	)
	hits, err := Evaluate(Parse(a, "prix"), src, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, DistinctIDs(hits))
}

func TestEvaluateLimit(t *testing.T) {
	a := tokenizer.Default()
	var docs []index.Document
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		docs = append(docs, index.Document{ID: id, Comment: "service"})
	}
	src := newMemSource(a, docs...)

	hits, err := Evaluate(Parse(a, "service"), src, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 10)

	hits, err = Evaluate(Parse(a, "service"), src, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, DistinctIDs(hits))
}

func TestEvaluateEmpty(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()...)

	for _, text := range []string{"", "   ", "the of"} {
		hits, err := Evaluate(Parse(a, text), src, 10)
		require.NoError(t, err)
		assert.Empty(t, hits, "query %q", text)
		assert.NotNil(t, hits)
	}

	hits, err := Evaluate(Parse(a, "service"), newMemSource(a), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEvaluateBoolean(t *testing.T) {
	a := tokenizer.Default()
	src := newMemSource(a, restaurantReviews()...)

	tests := []struct {
		input string
		want  []string
	}{
		{"service AND prix", []string{"1", "2"}},
		{"service NOT lent", []string{"1", "3"}},
		{"service AND (impeccable OR correct)", []string{"3", "2"}},
		{"NOT service", nil},
		{"cher OR (service AND super)", []string{"1", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := ParseBoolean(a, tt.input)
			require.NoError(t, err)
			hits, err := Evaluate(q, src, 10)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, hits)
				return
			}
			assert.ElementsMatch(t, tt.want, DistinctIDs(hits))
		})
	}
}

func TestDistinctIDs(t *testing.T) {
	hits := []Hit{{DocID: "7"}, {DocID: "3"}, {DocID: "7"}, {DocID: "1"}}
	assert.Equal(t, []string{"7", "3", "1"}, DistinctIDs(hits))
	assert.Empty(t, DistinctIDs(nil))
}

func benchmarkSource(n int) *memSource {
	words := []string{"service", "prix", "cuisine", "lent", "accueil", "dessert", "terrasse", "bruyant", "copieux", "frais"}
	docs := make([]index.Document, n)
	for i := range docs {
		comment := ""
		for j := range 12 {
			comment += words[(i*7+j*3)%len(words)] + " "
		}
		docs[i] = index.Document{ID: strconv.Itoa(i), Comment: comment}
	}
	return newMemSource(tokenizer.Default(), docs...)
}

func BenchmarkParse(b *testing.B) {
	a := tokenizer.Default()
	for b.Loop() {
		Parse(a, "service rapide et prix correct, cuisine copieuse")
	}
}

func BenchmarkEvaluate(b *testing.B) {
	for _, terms := range []string{"service", "service prix cuisine"} {
		b.Run(terms, func(b *testing.B) {
			src := benchmarkSource(5000)
			q := Parse(tokenizer.Default(), terms)
			for b.Loop() {
				if _, err := Evaluate(q, src, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
