// Package indexer owns the durable comment index: a Store holding the
// latest committed generation, the single Writer that produces new
// generations, and immutable Snapshots that searches run against.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/manifest"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/segment"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// Store is the Index Store. It keeps one open reader per segment of the
// latest generation and hands out snapshots of it.
type Store struct {
	dir       directory.Directory
	manifests *manifest.Store
	opts      Options
	logger    *slog.Logger

	// mu serialises changes of the published state.
	mu     sync.Mutex
	state  atomic.Pointer[state]
	writer *Writer
	closed atomic.Bool

	// obsolete lists segments dropped from the latest generation whose
	// files are removed once the last snapshot using them is released.
	obsMu    sync.Mutex
	obsolete map[string]struct{}
}

// state is one published generation. The store holds one reference on
// every reader listed here.
type state struct {
	manifest    *manifest.Manifest
	readers     []*segment.Reader
	liveDocs    uint64
	totalLength uint64
}

// OpenStore loads the latest committed generation from dir, if any.
func OpenStore(ctx context.Context, dir directory.Directory, opts Options) (*Store, error) {
	s := &Store{
		dir:       dir,
		manifests: manifest.NewStore(dir),
		opts:      opts.withDefaults(),
		obsolete:  make(map[string]struct{}),
	}
	s.logger = s.opts.Logger

	m, err := s.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		s.logger.Info("no committed index found, starting empty")
	case err != nil:
		return nil, apperrors.IO("loading manifest", err)
	default:
		st, err := s.buildState(ctx, m, nil)
		if err != nil {
			return nil, err
		}
		s.install(st)
		s.logger.Info("index store opened",
			"generation", m.Generation,
			"segments", len(m.Segments),
			"live_docs", st.liveDocs,
			"deleted_docs", m.Deleted.GetCardinality(),
		)
	}
	return s, nil
}

// Generation returns the latest committed generation, false if none.
func (s *Store) Generation() (uint64, bool) {
	st := s.state.Load()
	if st == nil {
		return 0, false
	}
	return st.manifest.Generation, true
}

// OpenInitial returns a snapshot of the latest generation. When nothing was
// ever committed it first commits an empty generation 0.
func (s *Store) OpenInitial(ctx context.Context) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, apperrors.ErrIndexClosed
	}
	if err := s.ensureInitial(ctx); err != nil {
		return nil, err
	}
	for {
		snap := newSnapshot(s.state.Load())
		if snap != nil {
			return snap, nil
		}
		if s.closed.Load() {
			return nil, apperrors.ErrIndexClosed
		}
	}
}

// RefreshIfChanged returns a snapshot of the latest committed generation.
// If current already is that generation it is returned unchanged;
// otherwise current is released and the new snapshot returned with true.
//
// A store without a writer also looks for generations committed by
// another process.
func (s *Store) RefreshIfChanged(ctx context.Context, current *Snapshot) (*Snapshot, bool, error) {
	if s.closed.Load() {
		return current, false, apperrors.ErrIndexClosed
	}
	if !s.hasWriter() {
		if err := s.syncFromDirectory(ctx); err != nil {
			return current, false, err
		}
	}
	for {
		latest := s.state.Load()
		if latest == nil || (current != nil && latest.manifest.Generation == current.Generation()) {
			return current, false, nil
		}
		next := newSnapshot(latest)
		if next == nil {
			continue
		}
		if current != nil {
			current.Release()
		}
		s.logger.Debug("snapshot refreshed", "generation", next.Generation())
		if m := s.opts.Metrics; m != nil {
			m.IndexRefreshesTotal.Inc()
		}
		return next, true, nil
	}
}

// Writer returns the store's only writer. It fails with ErrLocked while
// another writer, in this process or another, is open.
func (s *Store) Writer(ctx context.Context) (*Writer, error) {
	if s.closed.Load() {
		return nil, apperrors.ErrIndexClosed
	}
	s.mu.Lock()
	if s.writer != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: writer already open", apperrors.ErrLocked)
	}
	var lock io.Closer
	if l, ok := s.dir.(directory.Locker); ok {
		var err error
		if lock, err = l.Lock(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.logger.Info("writer lock acquired")
	}
	w := &Writer{store: s, lock: lock}
	s.writer = w
	s.mu.Unlock()

	// Another process may have committed while we were not the writer.
	if err := s.syncFromDirectory(ctx); err != nil {
		w.release()
		return nil, err
	}
	if err := s.ensureInitial(ctx); err != nil {
		w.release()
		return nil, err
	}
	// Only the lock holder may treat unreferenced files as garbage.
	if err := s.removeOrphans(ctx); err != nil {
		s.logger.Warn("orphan cleanup failed", "error", err)
	}
	w.init()
	return w, nil
}

// Close releases the store's readers. Snapshots still held stay usable
// until released. An open writer is closed first, committing its pending
// changes.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	var err error
	if w := s.currentWriter(); w != nil {
		err = w.Close(ctx)
	}
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state.Swap(nil); st != nil {
		for _, r := range st.readers {
			r.DecRef()
		}
	}
	return errors.Join(err, s.dir.Close())
}

func (s *Store) hasWriter() bool {
	return s.currentWriter() != nil
}

func (s *Store) currentWriter() *Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer
}

func (s *Store) ensureInitial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() != nil {
		return nil
	}
	m := manifest.New()
	if err := s.manifests.Save(ctx, m); err != nil {
		return apperrors.IO("initial commit", err)
	}
	s.install(&state{manifest: m})
	s.logger.Info("empty index committed", "generation", m.Generation)
	return nil
}

// syncFromDirectory installs a generation committed by another process.
func (s *Store) syncFromDirectory(ctx context.Context) error {
	gen, err := s.manifests.Current(ctx)
	if errors.Is(err, manifest.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.IO("reading current generation", err)
	}
	if cur := s.state.Load(); cur != nil && cur.manifest.Generation == gen {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.manifests.Load(ctx)
	if err != nil {
		return apperrors.IO("loading manifest", err)
	}
	cur := s.state.Load()
	if cur != nil && cur.manifest.Generation >= m.Generation {
		return nil
	}
	st, err := s.buildState(ctx, m, nil)
	if err != nil {
		return err
	}
	s.swap(st)
	s.logger.Info("loaded generation committed elsewhere", "generation", m.Generation)
	return nil
}

// publish makes m the committed generation. added holds readers on the
// segments written by this commit, each carrying one reference that is
// handed over to the new state. On error the caller still owns them.
func (s *Store) publish(ctx context.Context, m *manifest.Manifest, added []*segment.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.buildState(ctx, m, added)
	if err != nil {
		return err
	}
	if err := s.manifests.Save(ctx, m); err != nil {
		fresh := make(map[*segment.Reader]bool, len(added))
		for _, r := range added {
			fresh[r] = true
		}
		for _, r := range st.readers {
			if !fresh[r] {
				r.DecRef()
			}
		}
		s.dir.Remove(ctx, manifest.FileName(m.Generation))
		return apperrors.IO("saving manifest", err)
	}
	prev := s.swap(st)
	if prev != nil && prev.manifest.Generation != m.Generation {
		if err := s.manifests.Delete(ctx, prev.manifest.Generation); err != nil {
			s.logger.Warn("removing previous manifest failed", "generation", prev.manifest.Generation, "error", err)
		}
	}
	return nil
}

// buildState opens readers for every segment of m, reusing the readers of
// the current state and the given freshly written ones.
func (s *Store) buildState(ctx context.Context, m *manifest.Manifest, added []*segment.Reader) (*state, error) {
	known := make(map[string]*segment.Reader)
	if cur := s.state.Load(); cur != nil {
		for _, r := range cur.readers {
			known[r.Name()] = r
		}
	}
	fresh := make(map[string]*segment.Reader, len(added))
	for _, r := range added {
		fresh[r.Name()] = r
	}

	st := &state{manifest: m, readers: make([]*segment.Reader, 0, len(m.Segments))}
	var opened []*segment.Reader
	for _, seg := range m.Segments {
		if r, ok := fresh[seg.Name]; ok {
			st.readers = append(st.readers, r)
			continue
		}
		if r, ok := known[seg.Name]; ok && r.IncRef() {
			st.readers = append(st.readers, r)
			opened = append(opened, r)
			continue
		}
		r, err := s.openReader(ctx, seg.Name)
		if err != nil {
			for _, o := range opened {
				o.DecRef()
			}
			return nil, apperrors.IO("opening segment", err)
		}
		st.readers = append(st.readers, r)
		opened = append(opened, r)
	}

	for _, r := range st.readers {
		for _, d := range r.Docs() {
			if m.Deleted.Contains(d.Ord) {
				continue
			}
			st.liveDocs++
			st.totalLength += uint64(d.Length)
		}
	}
	return st, nil
}

// swap installs st, marks segments it no longer lists as obsolete and drops
// the previous state's references. Callers hold s.mu.
func (s *Store) swap(st *state) *state {
	prev := s.state.Swap(st)
	s.recordMetrics(st)
	if prev == nil {
		return nil
	}
	keep := make(map[string]struct{}, len(st.readers))
	for _, r := range st.readers {
		keep[r.Name()] = struct{}{}
	}
	for _, r := range prev.readers {
		if _, ok := keep[r.Name()]; !ok {
			s.markObsolete(r.Name())
		}
	}
	for _, r := range prev.readers {
		r.DecRef()
	}
	return prev
}

// install publishes the first state. Callers hold s.mu or have exclusive
// access during OpenStore.
func (s *Store) install(st *state) {
	s.state.Store(st)
	s.recordMetrics(st)
}

func (s *Store) recordMetrics(st *state) {
	if m := s.opts.Metrics; m != nil && st != nil {
		m.IndexGeneration.Set(float64(st.manifest.Generation))
		m.IndexSegments.Set(float64(len(st.readers)))
		m.IndexLiveDocs.Set(float64(st.liveDocs))
	}
}

func (s *Store) openReader(ctx context.Context, name string) (*segment.Reader, error) {
	r, err := segment.OpenReader(ctx, s.dir, name)
	if err != nil {
		return nil, err
	}
	r.OnClose(s.readerClosed)
	return r, nil
}

func (s *Store) markObsolete(name string) {
	s.obsMu.Lock()
	s.obsolete[name] = struct{}{}
	s.obsMu.Unlock()
}

func (s *Store) readerClosed(name string) {
	s.obsMu.Lock()
	_, obsolete := s.obsolete[name]
	delete(s.obsolete, name)
	s.obsMu.Unlock()
	if !obsolete {
		return
	}
	if err := s.dir.Remove(context.Background(), name); err != nil {
		s.logger.Warn("removing obsolete segment failed", "segment", name, "error", err)
		return
	}
	s.logger.Debug("obsolete segment removed", "segment", name)
}

// removeOrphans deletes segment files and manifests the latest generation
// does not reference, and temporary files of interrupted writes. Callers
// hold the writer lock.
func (s *Store) removeOrphans(ctx context.Context) error {
	names, err := s.dir.List(ctx, "")
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{})
	if st := s.state.Load(); st != nil {
		referenced[manifest.FileName(st.manifest.Generation)] = struct{}{}
		for _, seg := range st.manifest.Segments {
			referenced[seg.Name] = struct{}{}
		}
	}
	var removed int
	for _, name := range names {
		if _, ok := referenced[name]; ok {
			continue
		}
		_, isManifest := manifest.ParseFileName(name)
		if !isManifest && !segment.IsSegmentFile(name) && !strings.HasSuffix(name, directory.TmpSuffix) {
			continue
		}
		if err := s.dir.Remove(ctx, name); err != nil {
			return err
		}
		removed++
		s.logger.Info("removed orphan file", "file", name)
	}
	if removed > 0 {
		s.logger.Info("orphan cleanup complete", "removed", removed)
	}
	return nil
}
