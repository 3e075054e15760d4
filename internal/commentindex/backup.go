package commentindex

import (
	"context"
	"time"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/Hikikomori041/m2-projetweb/pkg/logger"
)

// BackupResult describes a copied generation.
type BackupResult struct {
	Generation uint64   `json:"generation"`
	Segments   []string `json:"segments"`
}

// Backup copies the latest committed generation to dst. The copied
// segments stay pinned until the copy completes, so writes can continue
// meanwhile.
func (s *Service) Backup(ctx context.Context, dst directory.Directory) (BackupResult, error) {
	start := time.Now()
	if _, err := s.snapshots.MaybeRefresh(ctx); err != nil {
		return BackupResult{}, apperrors.Subsystem("backup: refreshing snapshot", err)
	}
	snap, err := s.snapshots.Acquire()
	if err != nil {
		return BackupResult{}, apperrors.Subsystem("backup: acquiring snapshot", err)
	}
	defer s.snapshots.Release(snap)

	if err := snap.CopyTo(ctx, s.dir, dst); err != nil {
		return BackupResult{}, apperrors.Subsystem("backup", err)
	}
	res := BackupResult{Generation: snap.Generation(), Segments: snap.Files()}
	logger.FromContext(ctx).Info("backup complete",
		"generation", res.Generation,
		"segments", len(res.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
