package repo

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// deleted marks a path commitChanges should remove.
const deleted = "\x00deleted"

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir())
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, r *Repo, rel, content string) {
	t.Helper()
	abs := filepath.Join(r.RootDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFile(t *testing.T, r *Repo, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func fileExists(r *Repo, rel string) bool {
	_, err := os.Lstat(filepath.Join(r.RootDir, filepath.FromSlash(rel)))
	return err == nil
}

// commitChanges removes the files marked with the deleted sentinel, writes
// the rest, stages everything and commits. Removals come first so a file
// can give way to a directory of the same name.
func commitChanges(t *testing.T, r *Repo, msg string, changes map[string]string) object.Hash {
	t.Helper()
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if changes[p] == deleted {
			require.NoError(t, os.Remove(filepath.Join(r.RootDir, filepath.FromSlash(p))))
		}
	}
	for _, p := range paths {
		if changes[p] != deleted {
			writeFile(t, r, p, changes[p])
		}
	}
	require.NoError(t, r.Add(paths))
	h, err := r.Commit(msg, "tester")
	require.NoError(t, err)
	return h
}

func headHash(t *testing.T, r *Repo) object.Hash {
	t.Helper()
	h, err := r.ResolveRef("HEAD")
	require.NoError(t, err)
	return h
}

// setupMergeRepo commits files on main and creates branch "feature" at
// the same commit. HEAD stays on main.
func setupMergeRepo(t *testing.T, files map[string]string) (*Repo, object.Hash) {
	t.Helper()
	r := newTestRepo(t)
	base := commitChanges(t, r, "initial", files)
	require.NoError(t, r.CreateBranch("feature", base))
	return r, base
}

// onBranch checks out branch, commits changes there and returns to main.
func onBranch(t *testing.T, r *Repo, branch, msg string, changes map[string]string) object.Hash {
	t.Helper()
	require.NoError(t, r.Checkout(branch))
	h := commitChanges(t, r, msg, changes)
	require.NoError(t, r.Checkout("main"))
	return h
}

func readIndexBytes(t *testing.T, r *Repo) []byte {
	t.Helper()
	data, err := os.ReadFile(r.indexPath())
	require.NoError(t, err)
	return data
}
