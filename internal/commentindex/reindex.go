package commentindex

import (
	"context"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

// DocumentSource enumerates the comments held by the primary store.
type DocumentSource interface {
	Documents(ctx context.Context, fn func(index.Document) error) error
}

// ReindexResult summarises a Reindex run.
type ReindexResult struct {
	Removed    int    `json:"removed"`
	Indexed    int    `json:"indexed"`
	Generation uint64 `json:"generation"`
}

// Reindex replaces the whole index content with the documents of src in a
// single commit. Searches keep seeing the previous generation until the
// commit lands; on error nothing is committed.
func (s *Service) Reindex(ctx context.Context, src DocumentSource) (ReindexResult, error) {
	if err := s.writable("reindex"); err != nil {
		return ReindexResult{}, err
	}
	start := time.Now()
	log := logger.FromContext(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var res ReindexResult
	ids, err := s.indexedIDs(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		n, err := s.writer.Delete(ctx, id)
		if err != nil {
			s.writer.Rollback()
			return res, apperrors.Subsystem("reindex: deleting document", err)
		}
		res.Removed += n
	}

	err = src.Documents(ctx, func(doc index.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writer.Add(ctx, doc); err != nil {
			return err
		}
		res.Indexed++
		return nil
	})
	if err != nil {
		s.writer.Rollback()
		return ReindexResult{}, apperrors.Subsystem("reindex: reading documents", err)
	}

	if res.Generation, err = s.writer.Commit(ctx); err != nil {
		return ReindexResult{}, apperrors.Subsystem("reindex: committing", err)
	}
	log.Info("reindex complete",
		"removed", res.Removed,
		"indexed", res.Indexed,
		"generation", res.Generation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) indexedIDs(ctx context.Context) ([]string, error) {
	if _, err := s.snapshots.MaybeRefresh(ctx); err != nil {
		return nil, apperrors.Subsystem("reindex: refreshing snapshot", err)
	}
	snap, err := s.snapshots.Acquire()
	if err != nil {
		return nil, apperrors.Subsystem("reindex: acquiring snapshot", err)
	}
	defer s.snapshots.Release(snap)

	seen := make(map[string]struct{})
	var ids []string
	snap.Documents(func(d index.StoredDoc) bool {
		if _, ok := seen[d.ID]; !ok {
			seen[d.ID] = struct{}{}
			ids = append(ids, d.ID)
		}
		return true
	})
	return ids, nil
}
