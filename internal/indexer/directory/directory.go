// Package directory abstracts where index files live. Files are written
// whole and never modified afterwards, except CURRENT which is replaced
// atomically on every commit.
package directory

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/Hikikomori041/m2-projetweb/pkg/config"
)

// ErrNotFound is returned (possibly wrapped) when a file does not exist.
var ErrNotFound = os.ErrNotExist

// LockFile is the name of the writer lock inside a directory.
const LockFile = "write.lock"

// Directory stores the files of one index.
type Directory interface {
	// Open returns a random-access handle to an existing file.
	Open(ctx context.Context, name string) (Blob, error)
	// ReadFile returns the whole content of a file.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// WriteFile durably creates or replaces name. Concurrent readers see
	// either the previous content or the new one.
	WriteFile(ctx context.Context, name string, data []byte) error
	// Remove deletes name. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Blob is a read-only handle to a file.
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Locker is implemented by directories that can hold an exclusive writer
// lock across processes.
type Locker interface {
	Lock() (io.Closer, error)
}

// Copy copies the named files from src to dst, in order.
func Copy(ctx context.Context, dst, src Directory, names []string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := src.ReadFile(ctx, name)
		if err != nil {
			return fmt.Errorf("copying %s: %w", name, err)
		}
		if err := dst.WriteFile(ctx, name, data); err != nil {
			return fmt.Errorf("copying %s: %w", name, err)
		}
	}
	return nil
}

// FromConfig opens the directory selected by cfg.Storage. The minio
// backend stores files under minio.Prefix joined with cfg.DataDir.
func FromConfig(ctx context.Context, cfg config.IndexerConfig, minio config.MinioConfig) (Directory, error) {
	switch cfg.Storage {
	case config.StorageFS, "":
		return NewFS(cfg.DataDir)
	case config.StorageMemory:
		return NewMemory(), nil
	case config.StorageMinio:
		client, err := NewMinioClient(minio)
		if err != nil {
			return nil, err
		}
		return NewMinio(ctx, client, minio.Bucket, path.Join(minio.Prefix, cfg.DataDir))
	default:
		return nil, fmt.Errorf("unknown index storage %q", cfg.Storage)
	}
}
