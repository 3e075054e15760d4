package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TmpSuffix marks files that were being written when the process died.
const TmpSuffix = ".tmp"

// FS stores index files in a local directory.
type FS struct {
	root string
}

// NewFS creates root if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

func (d *FS) Root() string { return d.root }

func (d *FS) path(name string) string {
	return filepath.Join(d.root, filepath.Base(name))
}

func (d *FS) Open(_ context.Context, name string) (Blob, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBlob{File: f, size: info.Size()}, nil
}

func (d *FS) ReadFile(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(d.path(name))
}

// WriteFile writes to a temporary file, syncs it, renames it over name and
// syncs the directory so the rename itself survives a crash.
func (d *FS) WriteFile(_ context.Context, name string, data []byte) error {
	final := d.path(name)
	tmp := final + TmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return d.syncDir()
}

func (d *FS) Remove(_ context.Context, name string) error {
	err := os.Remove(d.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *FS) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *FS) Close() error { return nil }

func (d *FS) syncDir() error {
	dir, err := os.Open(d.root)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }

var _ io.ReaderAt = (*fileBlob)(nil)
