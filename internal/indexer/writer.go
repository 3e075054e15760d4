package indexer

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/manifest"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/segment"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
)

// Writer is the single mutation path of a Store. Adds and deletes are
// buffered until Commit makes them durable as a new generation.
type Writer struct {
	store *Store
	lock  io.Closer

	mu       sync.Mutex
	mem      *index.MemoryIndex
	segments *segment.Writer
	nextOrd  uint32
	// live maps each document id to the ordinals it occupies, committed
	// or pending. An id added twice without a delete holds two ordinals.
	live           map[string][]uint32
	pendingDeletes *roaring.Bitmap
	added          int
	deleted        int
	closed         bool
}

func (w *Writer) init() {
	w.mem = index.NewMemoryIndex(w.store.opts.Analyzer)
	w.segments = segment.NewWriter(w.store.dir, w.store.opts.Codec)
	w.resetPending()
}

// resetPending drops buffered changes and rebuilds the id table from the
// committed generation.
func (w *Writer) resetPending() {
	st := w.store.state.Load()
	w.mem.Reset()
	w.pendingDeletes = roaring.New()
	w.added, w.deleted = 0, 0
	w.live = make(map[string][]uint32)
	if st == nil {
		w.nextOrd = 1
		return
	}
	w.nextOrd = st.manifest.NextOrd
	for _, r := range st.readers {
		for _, d := range r.Docs() {
			if !st.manifest.Deleted.Contains(d.Ord) {
				w.live[d.ID] = append(w.live[d.ID], d.Ord)
			}
		}
	}
}

// Add buffers doc. Adding an id that is already indexed creates a second
// entry; delete the id first to replace it.
func (w *Writer) Add(_ context.Context, doc index.Document) error {
	if doc.ID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrIndexClosed
	}
	if w.nextOrd == math.MaxUint32 {
		return apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "document ordinal space exhausted, rebuild the index")
	}
	ord := w.nextOrd
	w.nextOrd++
	w.mem.AddDocument(ord, doc)
	w.live[doc.ID] = append(w.live[doc.ID], ord)
	w.added++
	return nil
}

// Delete buffers the removal of every entry for id and returns how many
// there were. Deleting an unknown id is a no-op.
func (w *Writer) Delete(_ context.Context, id string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrIndexClosed
	}
	ords := w.live[id]
	for _, ord := range ords {
		if !w.mem.RemoveDocument(ord) {
			w.pendingDeletes.Add(ord)
		}
	}
	delete(w.live, id)
	w.deleted += len(ords)
	return len(ords), nil
}

// Pending reports whether there are uncommitted changes.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty()
}

func (w *Writer) dirty() bool {
	return w.mem.DocCount() > 0 || !w.pendingDeletes.IsEmpty()
}

// Commit durably persists the buffered changes and returns the new
// generation. With nothing buffered it returns the current generation.
// On failure the buffered changes are discarded and the previous
// generation stays committed.
func (w *Writer) Commit(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrIndexClosed
	}
	cur := w.store.state.Load()
	if !w.dirty() {
		// A buffered add cancelled by a delete leaves nothing to write.
		w.added, w.deleted = 0, 0
		return cur.manifest.Generation, nil
	}
	gen, err := w.commit(ctx, cur, false)
	w.observeCommit(err)
	if err != nil {
		w.resetPending()
		return 0, err
	}
	return gen, nil
}

// ForceMerge commits pending changes and rewrites every segment into one,
// dropping deleted documents for good.
func (w *Writer) ForceMerge(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrIndexClosed
	}
	cur := w.store.state.Load()
	if !w.dirty() && len(cur.readers) <= 1 && cur.manifest.Deleted.IsEmpty() {
		return cur.manifest.Generation, nil
	}
	gen, err := w.commit(ctx, cur, true)
	w.observeCommit(err)
	if err != nil {
		w.resetPending()
		return 0, err
	}
	return gen, nil
}

// Rollback discards every change buffered since the last commit.
func (w *Writer) Rollback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.resetPending()
}

// Close commits pending changes and releases the write lock.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	var err error
	if w.dirty() {
		_, err = w.commit(ctx, w.store.state.Load(), false)
		w.observeCommit(err)
	}
	w.closed = true
	w.mu.Unlock()
	w.release()
	if err != nil {
		return fmt.Errorf("final commit: %w", err)
	}
	return nil
}

func (w *Writer) release() {
	s := w.store
	s.mu.Lock()
	if s.writer == w {
		s.writer = nil
	}
	s.mu.Unlock()
	if w.lock != nil {
		if err := w.lock.Close(); err != nil {
			s.logger.Warn("releasing writer lock failed", "error", err)
		}
		w.lock = nil
	}
}

// commit builds and publishes the next generation. Callers hold w.mu.
func (w *Writer) commit(ctx context.Context, cur *state, forceMerge bool) (uint64, error) {
	start := time.Now()
	logger := w.store.logger
	m := cur.manifest.Clone()
	m.Generation++
	m.CreatedAt = start.UTC()
	m.NextOrd = w.nextOrd

	var added []*segment.Reader
	fail := func(err error) (uint64, error) {
		w.discard(added)
		return 0, err
	}

	if w.mem.DocCount() > 0 {
		r, err := w.writeSegment(ctx, m, w.mem.Snapshot(), w.mem.Docs())
		if err != nil {
			return fail(err)
		}
		added = append(added, r)
	}
	m.Deleted.Or(w.pendingDeletes)
	dropped := dropDeletedSegments(m)

	readers := readersFor(m, cur.readers, added)
	if forceMerge || len(m.Segments) > w.store.opts.MaxSegmentsBeforeMerge {
		merged, err := w.merge(ctx, m, readers)
		if err != nil {
			return fail(err)
		}
		if merged != nil {
			added = append(added, merged)
		}
	}

	// Segments written by this commit that a merge already replaced.
	kept := added[:0]
	var superseded []*segment.Reader
	for _, r := range added {
		if hasSegment(m, r.Name()) {
			kept = append(kept, r)
		} else {
			superseded = append(superseded, r)
		}
	}
	added = kept

	if err := w.store.publish(ctx, m, added); err != nil {
		w.discard(superseded)
		return fail(err)
	}
	w.discard(superseded)

	logger.Info("index committed",
		"generation", m.Generation,
		"segments", len(m.Segments),
		"added", w.added,
		"deleted", w.deleted,
		"dropped_segments", dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if mt := w.store.opts.Metrics; mt != nil {
		mt.DocsIndexedTotal.Add(float64(w.added))
		mt.DocsDeletedTotal.Add(float64(w.deleted))
		mt.IndexCommitDuration.Observe(time.Since(start).Seconds())
	}
	w.mem.Reset()
	w.pendingDeletes = roaring.New()
	w.added, w.deleted = 0, 0
	return m.Generation, nil
}

func (w *Writer) observeCommit(err error) {
	mt := w.store.opts.Metrics
	if err != nil {
		w.store.logger.Error("commit failed, pending changes discarded", "error", err)
	}
	if mt == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	mt.IndexCommitsTotal.WithLabelValues(status).Inc()
}

// writeSegment writes entries and docs as the next segment of m and opens
// it. The returned reader carries one reference.
func (w *Writer) writeSegment(ctx context.Context, m *manifest.Manifest, entries []index.TermEntry, docs []index.StoredDoc) (*segment.Reader, error) {
	id := m.NextSegmentID
	m.NextSegmentID++
	name := segment.Name(id)
	info, err := w.segments.Write(ctx, name, entries, docs)
	if err != nil {
		w.store.dir.Remove(ctx, name)
		return nil, apperrors.IO("writing segment", err)
	}
	r, err := w.store.openReader(ctx, name)
	if err != nil {
		w.store.dir.Remove(ctx, name)
		return nil, apperrors.IO("opening new segment", err)
	}
	m.Segments = append(m.Segments, manifest.SegmentInfo{
		ID:       id,
		Name:     name,
		DocCount: info.DocCount,
		MinOrd:   info.MinOrd,
		MaxOrd:   info.MaxOrd,
		Size:     info.Size,
	})
	return r, nil
}

// merge rewrites every segment of m into a single segment holding only
// live documents and clears the deleted set. It returns nil when no live
// document is left.
func (w *Writer) merge(ctx context.Context, m *manifest.Manifest, readers []*segment.Reader) (*segment.Reader, error) {
	start := time.Now()
	var docs []index.StoredDoc
	postings := make(map[string]index.PostingList)
	for _, r := range readers {
		for _, d := range r.Docs() {
			if !m.Deleted.Contains(d.Ord) {
				docs = append(docs, d)
			}
		}
		err := r.ForEachTerm(func(term string, list index.PostingList) error {
			for _, p := range list {
				if !m.Deleted.Contains(p.Ord) {
					postings[term] = append(postings[term], p)
				}
			}
			return nil
		})
		if err != nil {
			return nil, apperrors.IO("reading segment for merge", err)
		}
	}

	from := len(m.Segments)
	m.Segments = nil
	m.Deleted = roaring.New()
	if len(docs) == 0 {
		return nil, nil
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Ord < docs[j].Ord })
	entries := make([]index.TermEntry, 0, len(postings))
	for term, list := range postings {
		if len(list) == 0 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Ord < list[j].Ord })
		entries = append(entries, index.TermEntry{Term: term, Postings: list})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })

	r, err := w.writeSegment(ctx, m, entries, docs)
	if err != nil {
		return nil, err
	}
	w.store.logger.Info("segments merged",
		"from", from,
		"segment", r.Name(),
		"docs", len(docs),
		"terms", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if mt := w.store.opts.Metrics; mt != nil {
		mt.IndexMergesTotal.Inc()
	}
	return r, nil
}

// discard closes readers of segments that will never be published and
// removes their files.
func (w *Writer) discard(readers []*segment.Reader) {
	for _, r := range readers {
		w.store.markObsolete(r.Name())
		if err := r.DecRef(); err != nil {
			w.store.logger.Warn("releasing discarded segment", "segment", r.Name(), "error", err)
		}
	}
}

// dropDeletedSegments removes segments whose documents are all deleted,
// together with their ordinals in the deleted set.
func dropDeletedSegments(m *manifest.Manifest) int {
	kept := m.Segments[:0]
	dropped := 0
	for _, seg := range m.Segments {
		if m.LiveInSegment(seg) == 0 {
			m.Deleted.RemoveRange(uint64(seg.MinOrd), uint64(seg.MaxOrd)+1)
			dropped++
			continue
		}
		kept = append(kept, seg)
	}
	m.Segments = kept
	return dropped
}

func readersFor(m *manifest.Manifest, groups ...[]*segment.Reader) []*segment.Reader {
	byName := make(map[string]*segment.Reader)
	for _, g := range groups {
		for _, r := range g {
			byName[r.Name()] = r
		}
	}
	out := make([]*segment.Reader, 0, len(m.Segments))
	for _, seg := range m.Segments {
		if r, ok := byName[seg.Name]; ok {
			out = append(out, r)
		}
	}
	return out
}

func hasSegment(m *manifest.Manifest, name string) bool {
	for _, seg := range m.Segments {
		if seg.Name == name {
			return true
		}
	}
	return false
}
