// Package commentindex is the entry point the rest of the application uses
// to keep evaluation comments searchable. A Service owns the index writer
// and the shared snapshot. Every write is committed before it returns, and
// every search first refreshes the snapshot.
//
// The index follows the primary store eventually: a comment saved or
// deleted there becomes visible to searches once the matching
// IndexDocument or DeleteDocument call has returned.
package commentindex

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/analytics"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/validator"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/cache"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/query"
	"github.com/Hikikomori041/m2-projetweb/internal/searcher/ranker"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/Hikikomori041/m2-projetweb/pkg/tracing"
)

// Service is safe for concurrent use.
type Service struct {
	store     *indexer.Store
	writer    *indexer.Writer
	snapshots *indexer.SnapshotManager
	analyzer  *tokenizer.Analyzer

	// writeMu pairs each mutation with its commit.
	writeMu sync.Mutex

	readOnly     bool
	dir          directory.Directory
	cache        *cache.QueryCache
	collector    *analytics.Collector
	metrics      *metrics.Metrics
	tracer       *tracing.Tracer
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// Option customises Open.
type Option func(*Service)

// WithDirectory overrides the directory selected by the configuration.
func WithDirectory(dir directory.Directory) Option {
	return func(s *Service) { s.dir = dir }
}

// ReadOnly opens the index without taking the writer lock. Searches see
// generations committed by the process holding it; writes fail with
// ErrLocked.
func ReadOnly() Option {
	return func(s *Service) { s.readOnly = true }
}

func WithCache(c *cache.QueryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithCollector(c *analytics.Collector) Option {
	return func(s *Service) { s.collector = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// SearchResult is a ranked answer together with the generation it was
// computed from.
type SearchResult struct {
	Query      string      `json:"query"`
	Generation uint64      `json:"generation"`
	Hits       []query.Hit `json:"hits"`
	CacheHit   bool        `json:"cache_hit"`
}

// IDs returns the distinct document ids of r in rank order.
func (r *SearchResult) IDs() []string {
	return query.DistinctIDs(r.Hits)
}

// Open loads the index from the configured location, creating an empty
// one if none exists, and takes the writer lock.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		defaultLimit: cfg.Search.DefaultLimit,
		maxResults:   cfg.Search.MaxResults,
		logger:       logger.WithComponent("comment-index"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = ranker.DefaultLimit
	}
	if s.maxResults < s.defaultLimit {
		s.maxResults = s.defaultLimit
	}

	idxOpts, err := indexer.OptionsFromConfig(cfg.Indexer)
	if err != nil {
		return nil, apperrors.Subsystem("configuring index", err)
	}
	idxOpts.Metrics = s.metrics
	s.analyzer = idxOpts.Analyzer

	if s.dir == nil {
		if s.dir, err = directory.FromConfig(ctx, cfg.Indexer, cfg.Minio); err != nil {
			return nil, apperrors.Subsystem("opening index directory", apperrors.IO("opening directory", err))
		}
	}
	if s.store, err = indexer.OpenStore(ctx, s.dir, idxOpts); err != nil {
		return nil, apperrors.Subsystem("opening index", err)
	}
	if !s.readOnly {
		if s.writer, err = s.store.Writer(ctx); err != nil {
			s.store.Close(ctx)
			return nil, apperrors.Subsystem("acquiring index writer", err)
		}
	}
	if s.snapshots, err = indexer.NewSnapshotManager(ctx, s.store); err != nil {
		s.store.Close(ctx)
		return nil, apperrors.Subsystem("opening initial snapshot", err)
	}
	gen, _ := s.store.Generation()
	s.logger.Info("comment index ready", "generation", gen, "storage", cfg.Indexer.Storage, "read_only", s.readOnly)
	return s, nil
}

// IndexDocument indexes comment under id and commits. Indexing an id twice
// without deleting it in between keeps both entries.
func (s *Service) IndexDocument(ctx context.Context, id, comment string) error {
	return s.IndexFields(ctx, index.Document{ID: id, Comment: comment})
}

// IndexFields is IndexDocument with extra stored fields.
func (s *Service) IndexFields(ctx context.Context, doc index.Document) error {
	if err := s.writable("indexing document"); err != nil {
		return err
	}
	if err := validator.ValidateDocument(doc); err != nil {
		return apperrors.Subsystem("indexing document", err)
	}
	start := time.Now()
	log := logger.FromContext(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.writer.Add(ctx, doc); err != nil {
		return apperrors.Subsystem("indexing document", err)
	}
	gen, err := s.writer.Commit(ctx)
	if err != nil {
		log.Error("indexing document failed", "doc_id", doc.ID, "error", err)
		return apperrors.Subsystem("committing document", err)
	}
	log.Debug("document indexed", "doc_id", doc.ID, "generation", gen)
	s.track(analytics.IndexEvent{
		Type:       analytics.EventIndexDoc,
		DocumentID: doc.ID,
		Generation: gen,
		LatencyMs:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// DeleteDocument removes every entry indexed under id and commits.
// Deleting an id that was never indexed succeeds.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := s.writable("deleting document"); err != nil {
		return err
	}
	start := time.Now()
	log := logger.FromContext(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	removed, err := s.writer.Delete(ctx, id)
	if err != nil {
		return apperrors.Subsystem("deleting document", err)
	}
	gen, err := s.writer.Commit(ctx)
	if err != nil {
		log.Error("deleting document failed", "doc_id", id, "error", err)
		return apperrors.Subsystem("committing deletion", err)
	}
	log.Debug("document deleted", "doc_id", id, "removed", removed, "generation", gen)
	s.track(analytics.IndexEvent{
		Type:       analytics.EventDeleteDoc,
		DocumentID: id,
		Generation: gen,
		Removed:    removed,
		LatencyMs:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// ReplaceDocument deletes every entry for id and indexes comment in its
// place, in one commit. Searches never observe the id missing.
func (s *Service) ReplaceDocument(ctx context.Context, id, comment string) error {
	return s.ReplaceFields(ctx, index.Document{ID: id, Comment: comment})
}

// ReplaceFields is ReplaceDocument with extra stored fields.
func (s *Service) ReplaceFields(ctx context.Context, doc index.Document) error {
	if err := s.writable("replacing document"); err != nil {
		return err
	}
	if err := validator.ValidateDocument(doc); err != nil {
		return apperrors.Subsystem("replacing document", err)
	}
	id := doc.ID
	start := time.Now()
	log := logger.FromContext(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	removed, err := s.writer.Delete(ctx, id)
	if err != nil {
		return apperrors.Subsystem("replacing document", err)
	}
	if err := s.writer.Add(ctx, doc); err != nil {
		s.writer.Rollback()
		return apperrors.Subsystem("replacing document", err)
	}
	gen, err := s.writer.Commit(ctx)
	if err != nil {
		log.Error("replacing document failed", "doc_id", id, "error", err)
		return apperrors.Subsystem("committing replacement", err)
	}
	log.Debug("document replaced", "doc_id", id, "removed", removed, "generation", gen)
	s.track(analytics.IndexEvent{
		Type:       analytics.EventIndexDoc,
		DocumentID: id,
		Generation: gen,
		Removed:    removed,
		LatencyMs:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// Search joins keywords with single spaces, matches comments containing
// any of the resulting terms and returns the ids of the best ten, best
// first, each once.
func (s *Service) Search(ctx context.Context, keywords []string) ([]string, error) {
	res, err := s.search(ctx, strings.Join(keywords, " "), s.defaultLimit, false)
	if err != nil {
		return nil, err
	}
	return res.IDs(), nil
}

// SearchHits runs an OR query over text and returns scored hits. A limit
// of zero means the configured default; larger limits are capped.
func (s *Service) SearchHits(ctx context.Context, text string, limit int) (*SearchResult, error) {
	return s.search(ctx, text, limit, false)
}

// SearchBoolean runs a query written with AND, OR, NOT and parentheses.
func (s *Service) SearchBoolean(ctx context.Context, text string, limit int) (*SearchResult, error) {
	return s.search(ctx, text, limit, true)
}

func (s *Service) search(ctx context.Context, text string, limit int, boolean bool) (*SearchResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	ctx, span := s.tracer.Start(ctx, "search", logger.RequestID(ctx))
	defer span.End()
	span.SetAttr("query", text)

	limit = s.clampLimit(limit)

	var q query.Query
	if boolean {
		var err error
		if q, err = query.ParseBoolean(s.analyzer, text); err != nil {
			s.observeSearch("error", "none", start, 0)
			return nil, apperrors.Subsystem("parsing query", err)
		}
	} else {
		q = query.Parse(s.analyzer, text)
	}

	_, refreshSpan := tracing.StartChild(ctx, "refresh")
	refreshed, err := s.snapshots.MaybeRefresh(ctx)
	refreshSpan.SetAttr("refreshed", refreshed)
	refreshSpan.End()
	if err != nil {
		s.observeSearch("error", "none", start, 0)
		return nil, apperrors.Subsystem("refreshing snapshot", err)
	}

	snap, err := s.snapshots.Acquire()
	if err != nil {
		s.observeSearch("error", "none", start, 0)
		return nil, apperrors.Subsystem("acquiring snapshot", err)
	}
	defer s.snapshots.Release(snap)
	gen := snap.Generation()
	span.SetAttr("generation", gen)

	result := &SearchResult{Query: text, Generation: gen, Hits: []query.Hit{}}
	cacheStatus := "none"
	if !q.IsEmpty() {
		_, evalSpan := tracing.StartChild(ctx, "evaluate")
		compute := func() (*cache.Result, error) {
			hits, err := query.Evaluate(q, snap, limit)
			if err != nil {
				return nil, err
			}
			return &cache.Result{Generation: gen, Hits: hits}, nil
		}
		var cached *cache.Result
		if s.cache != nil {
			var hit bool
			cached, hit, err = s.cache.GetOrCompute(ctx, cache.Key{Generation: gen, Query: text, Limit: limit, Boolean: boolean}, compute)
			cacheStatus = "miss"
			if hit {
				cacheStatus = "hit"
			}
			result.CacheHit = hit
		} else {
			cached, err = compute()
		}
		evalSpan.End()
		if err != nil {
			log.Error("search evaluation failed", "query", text, "generation", gen, "error", err)
			s.observeSearch("error", cacheStatus, start, 0)
			return nil, apperrors.Subsystem("evaluating query", err)
		}
		result.Hits = cached.Hits
	}

	resultType := "hits"
	eventType := analytics.EventSearch
	if len(result.Hits) == 0 {
		resultType = "zero"
		eventType = analytics.EventZeroResult
	}
	s.observeSearch(resultType, cacheStatus, start, len(result.Hits))
	latency := time.Since(start)
	log.Debug("search completed",
		"query", text,
		"generation", gen,
		"refreshed", refreshed,
		"returned", len(result.Hits),
		"cache_hit", result.CacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	s.track(analytics.SearchEvent{
		Type:       eventType,
		Query:      text,
		Terms:      q.Terms(),
		Generation: gen,
		Returned:   len(result.Hits),
		LatencyMs:  latency.Milliseconds(),
		CacheHit:   result.CacheHit,
		Refreshed:  refreshed,
		Timestamp:  time.Now().UTC(),
		RequestID:  logger.RequestID(ctx),
	})
	return result, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxResults {
		return s.maxResults
	}
	return limit
}

// Merge commits pending changes and rewrites the index into one segment.
func (s *Service) Merge(ctx context.Context) (uint64, error) {
	if err := s.writable("merging index"); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	gen, err := s.writer.ForceMerge(ctx)
	if err != nil {
		return 0, apperrors.Subsystem("merging index", err)
	}
	return gen, nil
}

// Stats describes the latest committed generation.
func (s *Service) Stats(ctx context.Context) (indexer.Stats, error) {
	if _, err := s.snapshots.MaybeRefresh(ctx); err != nil {
		return indexer.Stats{}, apperrors.Subsystem("refreshing snapshot", err)
	}
	snap, err := s.snapshots.Acquire()
	if err != nil {
		return indexer.Stats{}, apperrors.Subsystem("acquiring snapshot", err)
	}
	defer s.snapshots.Release(snap)
	return snap.Stats(), nil
}

// Ping reports whether the index can serve searches.
func (s *Service) Ping(_ context.Context) error {
	snap, err := s.snapshots.Acquire()
	if err != nil {
		return apperrors.Subsystem("acquiring snapshot", err)
	}
	s.snapshots.Release(snap)
	return nil
}

// Close commits pending changes and releases the index. Searches in
// flight finish on the snapshot they hold.
func (s *Service) Close(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.snapshots.Close()
	if err := s.store.Close(ctx); err != nil {
		return apperrors.Subsystem("closing index", err)
	}
	s.logger.Info("comment index closed")
	return nil
}

func (s *Service) writable(op string) error {
	if s.writer == nil {
		return apperrors.Subsystem(op, apperrors.New(apperrors.ErrLocked, http.StatusConflict, "index is open read-only"))
	}
	return nil
}

func (s *Service) observeSearch(resultType, cacheStatus string, start time.Time, returned int) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if resultType != "error" {
		s.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (s *Service) track(event any) {
	if s.collector != nil {
		s.collector.Track(event)
	}
}
