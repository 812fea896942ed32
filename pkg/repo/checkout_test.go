package repo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_SwitchesTreeIndexAndHead(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "gone.txt": "g\n"})
	onBranch(t, r, "feature", "feature work", map[string]string{
		"a.txt":     "feature\n",
		"new/b.txt": "b\n",
		"gone.txt":  deleted,
	})

	require.NoError(t, r.Checkout("feature"))
	assert.Equal(t, "feature\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "b\n", readFile(t, r, "new/b.txt"))
	assert.False(t, fileExists(r, "gone.txt"))
	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "feature", branch)
	assert.Empty(t, statusByPath(t, r))

	require.NoError(t, r.Checkout("main"))
	assert.Equal(t, "a\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "g\n", readFile(t, r, "gone.txt"))
	assert.False(t, fileExists(r, "new"), "emptied directories are removed")
}

func TestCheckout_RefusesToClobberLocalWork(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	onBranch(t, r, "feature", "feature work", map[string]string{"a.txt": "feature\n", "b.txt": "b\n"})

	writeFile(t, r, "a.txt", "local edit\n")
	writeFile(t, r, "b.txt", "untracked\n")

	err := r.Checkout("feature")
	require.Error(t, err)
	var uncommitted *UncommittedChangesError
	require.True(t, errors.As(err, &uncommitted))
	assert.Equal(t, []string{"a.txt"}, uncommitted.Paths)
	var untracked *UntrackedOverwriteError
	require.True(t, errors.As(err, &untracked))
	assert.Equal(t, []string{"b.txt"}, untracked.Paths)

	assert.Equal(t, "local edit\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "untracked\n", readFile(t, r, "b.txt"))
	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCheckout_CarriesUnrelatedLocalChanges(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "keep.txt": "k\n"})
	onBranch(t, r, "feature", "feature work", map[string]string{"a.txt": "feature\n"})

	writeFile(t, r, "keep.txt", "edited\n")
	require.NoError(t, r.Checkout("feature"))
	assert.Equal(t, "edited\n", readFile(t, r, "keep.txt"))
	assert.Equal(t, "feature\n", readFile(t, r, "a.txt"))
}

func TestCheckout_FileGivesWayToDirectory(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a": "file\n"})
	onBranch(t, r, "feature", "a becomes a directory", map[string]string{"a": deleted, "a/b": "nested\n"})

	require.NoError(t, r.Checkout("feature"))
	assert.Equal(t, "nested\n", readFile(t, r, "a/b"))
	assert.Empty(t, statusByPath(t, r))

	require.NoError(t, r.Checkout("main"))
	assert.Equal(t, "file\n", readFile(t, r, "a"))
	assert.Empty(t, statusByPath(t, r))
}
