package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGot executes the CLI in the current directory and returns stdout.
func runGot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose = false
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustGot(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runGot(t, args...)
	require.NoError(t, err, "got %v", args)
	return out
}

func writeWorkFile(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(rel), 0o755))
	require.NoError(t, os.WriteFile(rel, []byte(content), 0o644))
}

// divergedRepo creates a repository in a fresh working directory where
// main and feature both edited f.txt starting from a shared commit.
func divergedRepo(t *testing.T, oursF, theirsF string) {
	t.Helper()
	t.Chdir(t.TempDir())
	mustGot(t, "init")
	writeWorkFile(t, "f.txt", "one\ntwo\nthree\n")
	writeWorkFile(t, "g.txt", "g\n")
	mustGot(t, "add", ".")
	mustGot(t, "commit", "-m", "initial", "--author", "tester")

	mustGot(t, "checkout", "-b", "feature")
	writeWorkFile(t, "f.txt", theirsF)
	mustGot(t, "add", "f.txt")
	mustGot(t, "commit", "-m", "feature", "--author", "tester")

	mustGot(t, "checkout", "main")
	writeWorkFile(t, "f.txt", oursF)
	mustGot(t, "add", "f.txt")
	mustGot(t, "commit", "-m", "main", "--author", "tester")
}

func TestMergeCmd_CleanMerge(t *testing.T) {
	divergedRepo(t, "ONE\ntwo\nthree\n", "one\ntwo\nTHREE\n")

	out := mustGot(t, "merge", "feature")
	assert.Equal(t, "Auto-merging f.txt\nMerge made by the 'recursive' strategy.\n", out)

	data, err := os.ReadFile("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "ONE\ntwo\nTHREE\n", string(data))

	logOut := mustGot(t, "log", "--oneline", "-n", "1")
	assert.Contains(t, logOut, "(HEAD -> main) Merge branch 'feature'")
}

func TestMergeCmd_ConflictThenContinue(t *testing.T) {
	divergedRepo(t, "one\nours\nthree\n", "one\ntheirs\nthree\n")

	out, err := runGot(t, "merge", "feature")
	require.ErrorIs(t, err, errMergeFailed)
	assert.Equal(t, "Auto-merging f.txt\nCONFLICT (content): Merge conflict in f.txt\n", out)

	status := mustGot(t, "status")
	assert.Contains(t, status, "conflicts:\n  ! f.txt")

	_, err = runGot(t, "merge", "--continue")
	require.Error(t, err)

	writeWorkFile(t, "f.txt", "one\nboth\nthree\n")
	mustGot(t, "add", "f.txt")
	mustGot(t, "merge", "--continue")

	logOut := mustGot(t, "log", "-n", "1")
	assert.Contains(t, logOut, "Merge:  ")
	assert.Contains(t, logOut, "Merge branch 'feature'")
}

func TestMergeCmd_Abort(t *testing.T) {
	divergedRepo(t, "one\nours\nthree\n", "one\ntheirs\nthree\n")

	_, err := runGot(t, "merge", "feature")
	require.ErrorIs(t, err, errMergeFailed)
	mustGot(t, "merge", "--abort")

	data, err := os.ReadFile("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\nours\nthree\n", string(data))
	assert.Equal(t, "on main\n", mustGot(t, "status"))
}

func TestMergeCmd_FastForwardAndUpToDate(t *testing.T) {
	t.Chdir(t.TempDir())
	mustGot(t, "init")
	writeWorkFile(t, "a.txt", "a\n")
	mustGot(t, "add", "a.txt")
	mustGot(t, "commit", "-m", "initial")
	mustGot(t, "branch", "feature")
	mustGot(t, "checkout", "feature")
	writeWorkFile(t, "a.txt", "b\n")
	mustGot(t, "add", "a.txt")
	mustGot(t, "commit", "-m", "feature")
	mustGot(t, "checkout", "main")

	_, err := runGot(t, "merge", "--no-ff", "--ff-only", "feature")
	require.Error(t, err)

	out := mustGot(t, "merge", "feature")
	assert.Contains(t, out, "Fast-forward\n")
	assert.Equal(t, "Already up to date.\n", mustGot(t, "merge", "feature"))
}

func TestMergeCmd_Args(t *testing.T) {
	t.Chdir(t.TempDir())
	mustGot(t, "init")

	_, err := runGot(t, "merge")
	assert.Error(t, err)
	_, err = runGot(t, "merge", "--abort", "feature")
	assert.Error(t, err)
	_, err = runGot(t, "merge", "--abort", "--continue")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger("debug", &buf)
	require.NoError(t, err)
	l.Debug("hello")
	assert.Contains(t, buf.String(), "hello")

	_, err = newLogger("loud", &buf)
	assert.Error(t, err)

	l, err = newLogger("", &buf)
	require.NoError(t, err)
	buf.Reset()
	l.Error("dropped")
	assert.Empty(t, buf.String())
}
