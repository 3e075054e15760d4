package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/directory"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/index"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRefresh(t *testing.T) {
	ctx := context.Background()
	store, w := openTestStore(t, directory.NewMemory(), Options{})
	mgr, err := NewSnapshotManager(ctx, store)
	require.NoError(t, err)
	defer mgr.Close()

	changed, err := mgr.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	addAndCommit(t, w, "1", "bon prix")

	snap, err := mgr.Acquire()
	require.NoError(t, err)
	assert.Empty(t, liveIDs(snap), "writes are invisible until refresh")
	mgr.Release(snap)

	changed, err = mgr.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	snap, err = mgr.Acquire()
	require.NoError(t, err)
	defer mgr.Release(snap)
	assert.Equal(t, []string{"1"}, liveIDs(snap))
}

func TestManagerConcurrentSearchesDuringCommits(t *testing.T) {
	ctx := context.Background()
	store, w := openTestStore(t, directory.NewMemory(), Options{MaxSegmentsBeforeMerge: 3})
	mgr, err := NewSnapshotManager(ctx, store)
	require.NoError(t, err)
	defer mgr.Close()

	var wg sync.WaitGroup
	done := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := mgr.MaybeRefresh(ctx); err != nil {
					t.Error(err)
					return
				}
				snap, err := mgr.Acquire()
				if err != nil {
					t.Error(err)
					return
				}
				// Every posting of a snapshot resolves to a stored document.
				postings, err := snap.Postings("prix")
				if err != nil {
					t.Error(err)
				}
				for _, p := range postings {
					if _, ok := snap.Doc(p.Ord); !ok {
						t.Errorf("generation %d: ordinal %d has no document", snap.Generation(), p.Ord)
					}
				}
				mgr.Release(snap)
			}
		}()
	}

	for i := range 30 {
		id := string(rune('a' + i%26))
		require.NoError(t, w.Add(ctx, index.Document{ID: id, Comment: "prix correct"}))
		if i%3 == 0 {
			_, err := w.Delete(ctx, id)
			require.NoError(t, err)
		}
		_, err := w.Commit(ctx)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	_, err = mgr.MaybeRefresh(ctx)
	require.NoError(t, err)
	snap, err := mgr.Acquire()
	require.NoError(t, err)
	defer mgr.Release(snap)
	gen, _ := store.Generation()
	assert.Equal(t, gen, snap.Generation())
}

func TestManagerClosed(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, directory.NewMemory(), Options{})
	mgr, err := NewSnapshotManager(ctx, store)
	require.NoError(t, err)
	mgr.Close()

	_, err = mgr.Acquire()
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
	_, err = mgr.MaybeRefresh(ctx)
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
}
