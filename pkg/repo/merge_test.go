package repo

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/object"
)

func mergeFeature(t *testing.T, r *Repo) (*MergeResult, error) {
	t.Helper()
	return r.Merge(context.Background(), MergeOptions{Target: "feature", Author: "tester"})
}

func commitParents(t *testing.T, r *Repo, h object.Hash) []object.Hash {
	t.Helper()
	c, err := r.Store.ReadCommit(h)
	require.NoError(t, err)
	return c.Parents
}

func TestMerge_AlreadyUpToDate(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	ours := commitChanges(t, r, "main ahead", map[string]string{"a.txt": "b\n"})

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeUpToDate, res.Kind)
	assert.Equal(t, ours, headHash(t, r))
	assert.Equal(t, "b\n", readFile(t, r, "a.txt"))
}

func TestMerge_FastForward(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	theirs := onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "b\n", "c.txt": "c\n"})

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeFastForward, res.Kind)
	assert.Equal(t, theirs, res.Commit)
	assert.Equal(t, theirs, headHash(t, r), "no new commit on fast-forward")
	assert.Equal(t, "b\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "c\n", readFile(t, r, "c.txt"))
	assert.Empty(t, statusByPath(t, r))

	entries, err := r.ReadReflog("main", 1)
	require.NoError(t, err)
	assert.Equal(t, "merge feature: Fast-forward", entries[0].Move.String())
}

func TestMerge_DisjointPaths(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "b.txt": "b\n"})
	theirs := onBranch(t, r, "feature", "feature", map[string]string{"b.txt": "theirs\n"})
	ours := commitChanges(t, r, "main", map[string]string{"a.txt": "ours\n"})

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Equal(t, res.Commit, headHash(t, r))
	assert.Equal(t, []object.Hash{ours, theirs}, commitParents(t, r, res.Commit))
	assert.Equal(t, "ours\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "theirs\n", readFile(t, r, "b.txt"))
	assert.Empty(t, statusByPath(t, r))

	c, err := r.Store.ReadCommit(res.Commit)
	require.NoError(t, err)
	assert.Equal(t, "Merge branch 'feature'", c.Message)
	assert.False(t, r.mergeInProgress())
}

func TestMerge_SameFileDifferentLines(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\n"
	r, _ := setupMergeRepo(t, map[string]string{"f.txt": base})
	onBranch(t, r, "feature", "feature", map[string]string{"f.txt": "one\ntwo\nthree\nfour\nFIVE\n"})
	commitChanges(t, r, "main", map[string]string{"f.txt": "ONE\ntwo\nthree\nfour\nfive\n"})

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Equal(t, []string{"f.txt"}, res.AutoMerged)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\nFIVE\n", readFile(t, r, "f.txt"))
}

func TestMerge_SameLineConflict(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"f.txt": "line1\nline2\nline3\n"})
	theirs := onBranch(t, r, "feature", "feature", map[string]string{"f.txt": "line1\ntheirs\nline3\n"})
	ours := commitChanges(t, r, "main", map[string]string{"f.txt": "line1\nours\nline3\n"})

	res, err := mergeFeature(t, r)
	require.Error(t, err)
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, []merge.ConflictInfo{{Path: "f.txt", Kind: merge.ConflictContent}}, conflictErr.Conflicts)
	require.NotNil(t, res)
	assert.Equal(t, MergeConflicted, res.Kind)

	assert.Equal(t,
		"line1\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> feature\nline3\n",
		readFile(t, r, "f.txt"))
	assert.Equal(t, ours, headHash(t, r), "ref must not move on conflict")

	stg, err := r.ReadStaging()
	require.NoError(t, err)
	ce, ok := stg.Entries["f.txt"].(*ConflictEntry)
	require.True(t, ok)
	assert.Equal(t, object.HashBlob([]byte("line1\nline2\nline3\n")), ce.Base.Hash)
	assert.Equal(t, object.HashBlob([]byte("line1\nours\nline3\n")), ce.Ours.Hash)
	assert.Equal(t, object.HashBlob([]byte("line1\ntheirs\nline3\n")), ce.Theirs.Hash)

	st, err := r.ReadMergeState()
	require.NoError(t, err)
	assert.Equal(t, ours, st.Ours)
	assert.Equal(t, theirs, st.Theirs)
	assert.Equal(t, "feature", st.TheirsName)
	assert.Equal(t, []string{"f.txt"}, st.Touched)

	_, err = mergeFeature(t, r)
	assert.ErrorIs(t, err, ErrMergeInProgress)
}

func TestMerge_FileDirectoryConflict(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a": "file v1\n", "keep.txt": "k\n"})
	onBranch(t, r, "feature", "a becomes a directory", map[string]string{"a": deleted, "a/b": "nested\n"})
	ours := commitChanges(t, r, "main edits a", map[string]string{"a": "file v2\n"})

	res, err := mergeFeature(t, r)
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, []merge.ConflictInfo{{Path: "a", Kind: merge.ConflictType, Sidecar: "a~HEAD"}}, res.Conflicts)
	assert.Equal(t, ours, headHash(t, r))

	// The directory keeps the path; our file moves aside.
	assert.Equal(t, "nested\n", readFile(t, r, "a/b"))
	assert.Equal(t, "file v2\n", readFile(t, r, "a~HEAD"))

	stg, err := r.ReadStaging()
	require.NoError(t, err)
	ce, ok := stg.Entries["a"].(*ConflictEntry)
	require.True(t, ok)
	assert.Equal(t, object.HashBlob([]byte("file v1\n")), ce.Base.Hash)
	assert.Equal(t, object.HashBlob([]byte("file v2\n")), ce.Ours.Hash)
	require.NotNil(t, ce.Theirs)
	assert.Equal(t, object.TreeModeDir, ce.Theirs.Mode)
	_, staged := stg.Resolved("a/b")
	assert.True(t, staged)

	// Resolving the directory side clears the conflict.
	require.NoError(t, r.Add([]string{"a"}))
	require.NoError(t, os.Remove(r.RootDir+"/a~HEAD"))
	commit, err := r.ContinueMerge("tester")
	require.NoError(t, err)
	assert.Len(t, commitParents(t, r, commit), 2)
}

func TestMerge_AddedFileMeetsAddedDirectory(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"keep.txt": "k\n"})
	onBranch(t, r, "feature", "add a/b", map[string]string{"a/b": "nested\n"})
	ours := commitChanges(t, r, "add a", map[string]string{"a": "ours\n"})

	res, err := mergeFeature(t, r)
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, []merge.ConflictInfo{{Path: "a", Kind: merge.ConflictType, Sidecar: "a~HEAD"}}, res.Conflicts)
	assert.Equal(t, ours, headHash(t, r))
	assert.Equal(t, "nested\n", readFile(t, r, "a/b"))
	assert.Equal(t, "ours\n", readFile(t, r, "a~HEAD"))

	stg, err := r.ReadStaging()
	require.NoError(t, err)
	ce, ok := stg.Entries["a"].(*ConflictEntry)
	require.True(t, ok)
	assert.Nil(t, ce.Base)
	assert.Equal(t, object.HashBlob([]byte("ours\n")), ce.Ours.Hash)

	require.NoError(t, r.AbortMerge())
	assert.Equal(t, "ours\n", readFile(t, r, "a"))
	assert.False(t, fileExists(r, "a~HEAD"))
}

func TestMerge_ModifyDelete(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"x.txt": "x\n", "y.txt": "y\n"})
	onBranch(t, r, "feature", "delete x", map[string]string{"x.txt": deleted})
	commitChanges(t, r, "edit x", map[string]string{"x.txt": "edited\n"})

	res, err := mergeFeature(t, r)
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, []merge.ConflictInfo{{Path: "x.txt", Kind: merge.ConflictModifyDelete}}, res.Conflicts)
	assert.Equal(t, "edited\n", readFile(t, r, "x.txt"), "surviving side stays in the tree")

	stg, err := r.ReadStaging()
	require.NoError(t, err)
	ce, ok := stg.Entries["x.txt"].(*ConflictEntry)
	require.True(t, ok)
	assert.NotNil(t, ce.Base)
	assert.NotNil(t, ce.Ours)
	assert.Nil(t, ce.Theirs)
}

func TestMerge_AddAddConflict(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"base.txt": "b\n"})
	onBranch(t, r, "feature", "add n", map[string]string{"n.txt": "theirs\n"})
	commitChanges(t, r, "add n", map[string]string{"n.txt": "ours\n"})

	res, err := mergeFeature(t, r)
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, merge.ConflictAddAdd, res.Conflicts[0].Kind)
	assert.Equal(t, "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> feature\n", readFile(t, r, "n.txt"))
}

func TestMerge_UntrackedFileIsPreserved(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	onBranch(t, r, "feature", "add new", map[string]string{"new.txt": "from feature\n"})
	ours := commitChanges(t, r, "main", map[string]string{"a.txt": "main\n"})
	writeFile(t, r, "new.txt", "precious\n")

	_, err := mergeFeature(t, r)
	var untracked *UntrackedOverwriteError
	require.True(t, errors.As(err, &untracked))
	assert.Equal(t, []string{"new.txt"}, untracked.Paths)

	assert.Equal(t, "precious\n", readFile(t, r, "new.txt"))
	assert.Equal(t, ours, headHash(t, r))
	assert.False(t, r.mergeInProgress())
}

func TestMerge_IdenticalUntrackedFileIsAccepted(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	onBranch(t, r, "feature", "add new", map[string]string{"new.txt": "same\n"})
	commitChanges(t, r, "main", map[string]string{"a.txt": "main\n"})
	writeFile(t, r, "new.txt", "same\n")

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
}

func TestMerge_IgnoredFileCountsAsUntracked(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{".gotignore": "*.log\n", "a.txt": "a\n"})
	onBranch(t, r, "feature", "track log", map[string]string{"build.log": "tracked\n"})
	commitChanges(t, r, "main", map[string]string{"a.txt": "main\n"})
	writeFile(t, r, "build.log", "local noise\n")

	_, err := mergeFeature(t, r)
	var untracked *UntrackedOverwriteError
	require.True(t, errors.As(err, &untracked))
	assert.Equal(t, "local noise\n", readFile(t, r, "build.log"))
}

func TestMerge_UncommittedChangeIsPreserved(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "b.txt": "b\n", "c.txt": "c\n"})
	onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "feature\n", "b.txt": "feature\n"})
	ours := commitChanges(t, r, "main", map[string]string{"c.txt": "main\n"})

	writeFile(t, r, "a.txt", "work in progress\n")
	writeFile(t, r, "b.txt", "staged\n")
	require.NoError(t, r.Add([]string{"b.txt"}))

	_, err := mergeFeature(t, r)
	var uncommitted *UncommittedChangesError
	require.True(t, errors.As(err, &uncommitted))
	assert.Equal(t, []string{"a.txt", "b.txt"}, uncommitted.Paths)

	assert.Equal(t, "work in progress\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "staged\n", readFile(t, r, "b.txt"))
	assert.Equal(t, ours, headHash(t, r))
}

func TestMerge_StagedChangeOutsideMergeBlocks(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "notes.txt": "n\n"})
	onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "feature\n"})
	commitChanges(t, r, "main", map[string]string{"b.txt": "b\n"})
	writeFile(t, r, "notes.txt", "staged\n")
	require.NoError(t, r.Add([]string{"notes.txt"}))

	_, err := mergeFeature(t, r)
	var uncommitted *UncommittedChangesError
	require.True(t, errors.As(err, &uncommitted))
	assert.Equal(t, []string{"notes.txt"}, uncommitted.Paths)
}

func TestMerge_LocalChangeOutsideMergeSurvives(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n", "notes.txt": "n\n"})
	onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "feature\n"})
	commitChanges(t, r, "main", map[string]string{"b.txt": "b\n"})
	writeFile(t, r, "notes.txt", "scribbles\n")

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Equal(t, "scribbles\n", readFile(t, r, "notes.txt"))
	assert.Equal(t, "feature\n", readFile(t, r, "a.txt"))
}

func TestMerge_FastForwardPolicies(t *testing.T) {
	t.Run("no-ff creates merge commit", func(t *testing.T) {
		r, base := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
		theirs := onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "b\n"})

		res, err := r.Merge(context.Background(), MergeOptions{Target: "feature", FF: FFNever})
		require.NoError(t, err)
		assert.Equal(t, MergeCommitted, res.Kind)
		assert.Equal(t, []object.Hash{base, theirs}, commitParents(t, r, res.Commit))
		assert.Equal(t, "b\n", readFile(t, r, "a.txt"))
	})

	t.Run("ff-only refuses divergence", func(t *testing.T) {
		r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
		onBranch(t, r, "feature", "feature", map[string]string{"b.txt": "b\n"})
		ours := commitChanges(t, r, "main", map[string]string{"c.txt": "c\n"})

		_, err := r.Merge(context.Background(), MergeOptions{Target: "feature", FF: FFOnly})
		assert.ErrorIs(t, err, ErrNotFastForward)
		assert.Equal(t, ours, headHash(t, r))
		assert.False(t, fileExists(r, "b.txt"))
	})

	t.Run("config ff policy", func(t *testing.T) {
		r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
		onBranch(t, r, "feature", "feature", map[string]string{"a.txt": "b\n"})
		require.NoError(t, r.WriteConfig(&Config{Merge: MergeConfig{FF: FFNever}}))

		res, err := mergeFeature(t, r)
		require.NoError(t, err)
		assert.Equal(t, MergeCommitted, res.Kind)
	})
}

func TestMerge_UnrelatedHistories(t *testing.T) {
	r := newTestRepo(t)
	commitChanges(t, r, "main root", map[string]string{"a.txt": "a\n"})

	blob, err := r.Store.WriteBlob(&object.Blob{Data: []byte("other\n")})
	require.NoError(t, err)
	otherTree, err := object.BuildTree(r.Store, map[string]object.FlatEntry{
		"o.txt": {Path: "o.txt", Mode: object.TreeModeFile, Hash: blob},
	})
	require.NoError(t, err)
	other, err := r.Store.WriteCommit(&object.CommitObj{TreeHash: otherTree, Author: "tester", Message: "other root"})
	require.NoError(t, err)
	require.NoError(t, r.CreateBranch("other", other))

	_, err = r.Merge(context.Background(), MergeOptions{Target: "other"})
	assert.ErrorIs(t, err, ErrUnrelatedHistories)

	res, err := r.Merge(context.Background(), MergeOptions{Target: "other", AllowUnrelated: true})
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Equal(t, "a\n", readFile(t, r, "a.txt"))
	assert.Equal(t, "other\n", readFile(t, r, "o.txt"))
}

func TestMerge_ModeAndContentMergeIndependently(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"run.sh": "echo 1\necho 2\necho 3\n"})
	require.NoError(t, r.Checkout("feature"))
	require.NoError(t, os.Chmod(r.RootDir+"/run.sh", 0o755))
	require.NoError(t, r.Add([]string{"run.sh"}))
	_, err := r.Commit("make executable", "tester")
	require.NoError(t, err)
	require.NoError(t, r.Checkout("main"))
	commitChanges(t, r, "edit", map[string]string{"run.sh": "echo one\necho 2\necho 3\n"})

	res, err := mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Equal(t, "echo one\necho 2\necho 3\n", readFile(t, r, "run.sh"))

	info, err := os.Stat(r.RootDir + "/run.sh")
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)

	stg, err := r.ReadStaging()
	require.NoError(t, err)
	e, ok := stg.Resolved("run.sh")
	require.True(t, ok)
	assert.Equal(t, object.TreeModeExecutable, e.Mode)
}

func TestMerge_RefusesWithConflictedIndex(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"a.txt": "a\n"})
	stg, err := r.ReadStaging()
	require.NoError(t, err)
	stg.Entries["a.txt"] = &ConflictEntry{Path: "a.txt", Ours: &StageEntry{Mode: object.TreeModeFile, Hash: object.HashBlob([]byte("a\n"))}}
	require.NoError(t, r.WriteStaging(stg))

	_, err = mergeFeature(t, r)
	assert.ErrorIs(t, err, ErrUnresolvedConflicts)
}

// TestMerge_CrissCross builds two merges that each contain the other
// side's tip, so the next merge has two best common ancestors.
func TestMerge_CrissCross(t *testing.T) {
	r, _ := setupMergeRepo(t, map[string]string{"f.txt": "a\nb\nc\n"})
	f1 := onBranch(t, r, "feature", "feature edits c", map[string]string{"f.txt": "a\nb\nC\n"})
	m1 := commitChanges(t, r, "main edits a", map[string]string{"f.txt": "A\nb\nc\n"})

	// feature merges m1, main merges f1.
	require.NoError(t, r.Checkout("feature"))
	res, err := r.Merge(context.Background(), MergeOptions{Target: string(m1)})
	require.NoError(t, err)
	require.Equal(t, MergeCommitted, res.Kind)
	require.NoError(t, r.Checkout("main"))
	res, err = r.Merge(context.Background(), MergeOptions{Target: string(f1)})
	require.NoError(t, err)
	require.Equal(t, MergeCommitted, res.Kind)

	onBranch(t, r, "feature", "feature adds g", map[string]string{"g.txt": "g\n"})
	commitChanges(t, r, "main edits b", map[string]string{"f.txt": "A\nB\nC\n"})

	ours := headHash(t, r)
	theirs, err := r.ResolveRef("feature")
	require.NoError(t, err)
	bases, err := r.MergeBases(ours, theirs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []object.Hash{m1, f1}, bases)

	resolution, err := r.ResolveMergeBase(context.Background(), ours, theirs, false)
	require.NoError(t, err)
	files, err := r.FlattenTree(resolution.Tree)
	require.NoError(t, err)
	blob, err := r.Store.ReadBlob(files["f.txt"].Hash)
	require.NoError(t, err)
	assert.Equal(t, "A\nb\nC\n", string(blob.Data), "virtual base merges both bases")

	state := r.getMergeTraversalState()
	require.NotEmpty(t, state.virtualOf)
	for _, h := range state.virtualOf {
		assert.True(t, state.isVirtual(h))
		assert.False(t, r.Store.Has(h), "virtual commits stay out of the store")
	}

	res, err = mergeFeature(t, r)
	require.NoError(t, err)
	assert.Equal(t, MergeCommitted, res.Kind)
	assert.Len(t, res.Bases, 2)
	assert.Equal(t, "A\nB\nC\n", readFile(t, r, "f.txt"))
	assert.Equal(t, "g\n", readFile(t, r, "g.txt"))
}
