package indexer

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/manifest"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/segment"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
)

// Snapshot is an immutable view of one committed generation. It stays
// valid, and its content unchanged, until Release drops its last
// reference, whatever the writer commits meanwhile.
type Snapshot struct {
	manifest    *manifest.Manifest
	readers     []*segment.Reader
	deleted     *roaring.Bitmap
	liveDocs    uint64
	totalLength uint64
	refs        atomic.Int32
}

// newSnapshot takes a reference on every reader of st. It returns nil when
// one of them was closed concurrently; callers reload the state and retry.
func newSnapshot(st *state) *Snapshot {
	if st == nil {
		return nil
	}
	for i, r := range st.readers {
		if !r.IncRef() {
			for _, acquired := range st.readers[:i] {
				acquired.DecRef()
			}
			return nil
		}
	}
	s := &Snapshot{
		manifest:    st.manifest,
		readers:     st.readers,
		deleted:     st.manifest.Deleted,
		liveDocs:    st.liveDocs,
		totalLength: st.totalLength,
	}
	s.refs.Store(1)
	return s
}

// SegmentStats summarises one segment of a snapshot.
type SegmentStats struct {
	Name      string `json:"name"`
	Docs      uint32 `json:"docs"`
	LiveDocs  uint64 `json:"live_docs"`
	Terms     int    `json:"terms"`
	SizeBytes int64  `json:"size_bytes"`
	Codec     string `json:"codec"`
}

// Stats summarises a snapshot.
type Stats struct {
	Generation   uint64         `json:"generation"`
	LiveDocs     uint64         `json:"live_docs"`
	DeletedDocs  uint64         `json:"deleted_docs"`
	AvgDocLength float64        `json:"avg_doc_length"`
	Segments     []SegmentStats `json:"segments"`
}

func (s *Snapshot) Generation() uint64 { return s.manifest.Generation }

func (s *Snapshot) LiveDocs() uint64 { return s.liveDocs }

// AvgDocLength is the mean number of indexed terms per live document.
func (s *Snapshot) AvgDocLength() float64 {
	if s.liveDocs == 0 {
		return 0
	}
	return float64(s.totalLength) / float64(s.liveDocs)
}

// Postings returns the live postings of term across all segments, sorted
// by ordinal.
func (s *Snapshot) Postings(term string) (index.PostingList, error) {
	var out index.PostingList
	for _, r := range s.readers {
		list, err := r.Search(term)
		if err != nil {
			return nil, apperrors.IO(fmt.Sprintf("reading postings of %q", term), err)
		}
		for _, p := range list {
			if !s.deleted.Contains(p.Ord) {
				out = append(out, p)
			}
		}
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Ord < out[j].Ord }) {
		sort.Slice(out, func(i, j int) bool { return out[i].Ord < out[j].Ord })
	}
	return out, nil
}

// DocFreq counts live documents containing term.
func (s *Snapshot) DocFreq(term string) (int, error) {
	list, err := s.Postings(term)
	return len(list), err
}

// Doc returns the stored fields of a live document.
func (s *Snapshot) Doc(ord uint32) (index.StoredDoc, bool) {
	if s.deleted.Contains(ord) {
		return index.StoredDoc{}, false
	}
	segs := s.manifest.Segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].MaxOrd >= ord })
	for ; i < len(segs); i++ {
		if segs[i].MinOrd > ord {
			break
		}
		if d, ok := s.readers[i].Doc(ord); ok {
			return d, true
		}
	}
	return index.StoredDoc{}, false
}

// DocLength returns the analysed length of a live document, 0 if unknown.
func (s *Snapshot) DocLength(ord uint32) uint32 {
	d, ok := s.Doc(ord)
	if !ok {
		return 0
	}
	return d.Length
}

// Documents calls fn for every live document in insertion order until fn
// returns false.
func (s *Snapshot) Documents(fn func(index.StoredDoc) bool) {
	for _, r := range s.readers {
		for _, d := range r.Docs() {
			if s.deleted.Contains(d.Ord) {
				continue
			}
			if !fn(d) {
				return
			}
		}
	}
}

func (s *Snapshot) Stats() Stats {
	st := Stats{
		Generation:   s.Generation(),
		LiveDocs:     s.liveDocs,
		DeletedDocs:  s.deleted.GetCardinality(),
		AvgDocLength: s.AvgDocLength(),
		Segments:     make([]SegmentStats, 0, len(s.readers)),
	}
	for i, r := range s.readers {
		st.Segments = append(st.Segments, SegmentStats{
			Name:      r.Name(),
			Docs:      r.DocCount(),
			LiveDocs:  s.manifest.LiveInSegment(s.manifest.Segments[i]),
			Terms:     r.Terms(),
			SizeBytes: r.Size(),
			Codec:     r.Codec().String(),
		})
	}
	return st
}

// Release drops the caller's reference. Segment files no longer part of
// the index are removed once no snapshot uses them.
func (s *Snapshot) Release() {
	n := s.refs.Add(-1)
	if n != 0 {
		return
	}
	for _, r := range s.readers {
		r.DecRef()
	}
}

// tryIncRef adds a reference unless the snapshot was already released.
func (s *Snapshot) tryIncRef() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}
