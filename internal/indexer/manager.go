package indexer

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// SnapshotManager holds the snapshot searches share. Callers Acquire a
// snapshot, search it, and Release it; MaybeRefresh swaps in the latest
// committed generation.
type SnapshotManager struct {
	store   *Store
	current atomic.Pointer[Snapshot]
	// refreshMu makes concurrent refreshes wait for the one in progress.
	refreshMu sync.Mutex
}

// NewSnapshotManager opens the initial snapshot of store.
func NewSnapshotManager(ctx context.Context, store *Store) (*SnapshotManager, error) {
	snap, err := store.OpenInitial(ctx)
	if err != nil {
		return nil, err
	}
	m := &SnapshotManager{store: store}
	m.current.Store(snap)
	return m, nil
}

// Acquire returns the current snapshot with an extra reference. Each call
// must be paired with Release.
func (m *SnapshotManager) Acquire() (*Snapshot, error) {
	for {
		snap := m.current.Load()
		if snap == nil {
			return nil, apperrors.ErrIndexClosed
		}
		if snap.tryIncRef() {
			return snap, nil
		}
	}
}

func (m *SnapshotManager) Release(snap *Snapshot) {
	snap.Release()
}

// MaybeRefresh installs the latest committed generation if it differs from
// the current snapshot and reports whether it did.
func (m *SnapshotManager) MaybeRefresh(ctx context.Context) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	cur := m.current.Load()
	if cur == nil {
		return false, apperrors.ErrIndexClosed
	}
	// RefreshIfChanged releases the snapshot it replaces, so hand it a
	// reference of its own.
	if !cur.tryIncRef() {
		return false, apperrors.ErrIndexClosed
	}
	next, changed, err := m.store.RefreshIfChanged(ctx, cur)
	if err != nil || !changed {
		cur.Release()
		return false, err
	}
	m.current.Store(next)
	cur.Release()
	return true, nil
}

// Close releases the current snapshot. Snapshots already acquired stay
// valid until released.
func (m *SnapshotManager) Close() {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if snap := m.current.Swap(nil); snap != nil {
		snap.Release()
	}
}
