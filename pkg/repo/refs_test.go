package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotmerge/pkg/object"
)

func TestUpdateRefCAS_ConcurrentSingleWinner(t *testing.T) {
	r := newTestRepo(t)
	base := object.Hash(fmt.Sprintf("%064x", 0xaa))
	require.NoError(t, r.UpdateRef("refs/heads/main", base))

	const workers = 16
	var wg sync.WaitGroup
	successCh := make(chan object.Hash, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := object.Hash(fmt.Sprintf("%064x", i+1))
			if err := r.UpdateRefCAS("refs/heads/main", next, base); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}(i)
	}
	wg.Wait()
	close(successCh)
	close(errCh)

	var winners []object.Hash
	for h := range successCh {
		winners = append(winners, h)
	}
	require.Len(t, winners, 1)
	for err := range errCh {
		assert.ErrorIs(t, err, ErrRefCASMismatch)
	}

	got, err := r.ResolveRef("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got)
}

func TestUpdateRefCAS_ExpectAbsent(t *testing.T) {
	r := newTestRepo(t)
	h := object.Hash(fmt.Sprintf("%064x", 1))

	require.NoError(t, r.UpdateRefCAS("refs/heads/topic", h, ""))
	err := r.UpdateRefCAS("refs/heads/topic", h, "")
	assert.ErrorIs(t, err, ErrRefCASMismatch)
}

func TestUpdateRef_StaleLockTimesOut(t *testing.T) {
	r := newTestRepo(t)
	lockPath := filepath.Join(r.GotDir, "refs", "heads", "main.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))

	err := r.UpdateRef("refs/heads/main", object.Hash(fmt.Sprintf("%064x", 1)))
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(r.GotDir, "refs", "heads", "main"))
	assert.True(t, os.IsNotExist(statErr), "ref must not be written while locked")
}

func TestReflog_RecordsReasonsNewestFirst(t *testing.T) {
	r := newTestRepo(t)
	first := commitChanges(t, r, "first", map[string]string{"a.txt": "a\n"})
	second := commitChanges(t, r, "second", map[string]string{"a.txt": "b\n"})

	entries, err := r.ReadReflog("main", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].NewHash)
	assert.Equal(t, first, entries[0].OldHash)
	assert.Equal(t, "commit: second", entries[0].Move.String())
	assert.Equal(t, "commit (initial): first", entries[1].Move.String())

	limited, err := r.ReadReflog("main", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListRefs_SkipsLockFiles(t *testing.T) {
	r := newTestRepo(t)
	h := object.Hash(fmt.Sprintf("%064x", 7))
	require.NoError(t, r.UpdateRef("refs/heads/main", h))
	require.NoError(t, os.WriteFile(filepath.Join(r.GotDir, "refs", "heads", "x.lock"), []byte("junk"), 0o644))

	refs, err := r.ListRefs("heads")
	require.NoError(t, err)
	assert.Equal(t, map[string]object.Hash{"heads/main": h}, refs)
}

func TestIndexLock_ExcludesConcurrentWriters(t *testing.T) {
	r := newTestRepo(t)
	lock, err := r.lockIndex()
	require.NoError(t, err)

	writeFile(t, r, "a.txt", "a\n")
	err = r.Add([]string{"a.txt"})
	assert.Error(t, err)

	lock.unlock()
	assert.NoError(t, r.Add([]string{"a.txt"}))
}
