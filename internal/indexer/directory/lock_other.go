//go:build !unix

package directory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// Lock creates write.lock exclusively. A lock file left by a crashed
// process has to be removed by hand.
func (d *FS) Lock() (io.Closer, error) {
	path := filepath.Join(d.root, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrLocked, path)
		}
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &exclFile{f: f, path: path}, nil
}

type exclFile struct {
	f    *os.File
	path string
}

func (l *exclFile) Close() error {
	l.f.Close()
	return os.Remove(l.path)
}
