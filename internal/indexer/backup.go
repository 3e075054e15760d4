package indexer

import (
	"context"
	"fmt"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/manifest"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// Files lists the segment files of the snapshot's generation.
func (s *Snapshot) Files() []string {
	files := make([]string, 0, len(s.manifest.Segments))
	for _, seg := range s.manifest.Segments {
		files = append(files, seg.Name)
	}
	return files
}

// CopyTo writes a self-contained copy of the snapshot's generation to dst:
// its segments, then its manifest and the CURRENT pointer. dst can be
// opened with OpenStore afterwards. src is the directory the snapshot was
// read from.
func (s *Snapshot) CopyTo(ctx context.Context, src, dst directory.Directory) error {
	if err := directory.Copy(ctx, dst, src, s.Files()); err != nil {
		return apperrors.IO("copying segments", err)
	}
	if err := manifest.NewStore(dst).Save(ctx, s.manifest.Clone()); err != nil {
		return apperrors.IO(fmt.Sprintf("writing manifest %d", s.manifest.Generation), err)
	}
	return nil
}
