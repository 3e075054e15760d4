//go:build unix

package directory

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"golang.org/x/sys/unix"
)

// Lock takes a non-blocking exclusive flock on write.lock. The lock is
// released by the kernel if the process dies.
func (d *FS) Lock() (io.Closer, error) {
	path := filepath.Join(d.root, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrLocked, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &flock{f: f}, nil
}

type flock struct {
	f *os.File
}

func (l *flock) Close() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
