package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// FileStatus represents the state of a file in the working tree or index.
type FileStatus int

const (
	StatusClean     FileStatus = iota // file matches between compared areas
	StatusNew                         // in staging, not in HEAD tree
	StatusModified                    // in staging, different from HEAD
	StatusConflict                    // unresolved merge conflict in index
	StatusDeleted                     // in HEAD but not in staging (or staged but not on disk)
	StatusUntracked                   // in working dir but not in staging
	StatusDirty                       // staged but working copy differs from staged
)

// StatusEntry records the status of a single file.
type StatusEntry struct {
	Path        string     // repo-relative path
	IndexStatus FileStatus // staging vs HEAD comparison
	WorkStatus  FileStatus // working tree vs staging comparison
}

// Status computes the working tree status for the repository.
//
// Algorithm:
//  1. Read staging index and the HEAD tree.
//  2. Walk the working directory (skipping .got/ and ignored paths).
//  3. Compare working tree files against staging entries.
//  4. Compare staging entries against HEAD.
//  5. Return entries sorted by path, omitting fully clean files.
func (r *Repo) Status() ([]StatusEntry, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	headFiles, err := r.headFiles()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	workFiles, err := r.walkWorktree(NewIgnoreChecker(r.RootDir))
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	result := make(map[string]*StatusEntry)
	entry := func(p string) *StatusEntry {
		e, ok := result[p]
		if !ok {
			e = &StatusEntry{Path: p}
			result[p] = e
		}
		return e
	}

	for p := range workFiles {
		switch ie := stg.Entries[p].(type) {
		case nil:
			e := entry(p)
			e.IndexStatus, e.WorkStatus = StatusUntracked, StatusUntracked
		case *ConflictEntry:
			entry(p).WorkStatus = StatusConflict
		case *ResolvedEntry:
			ok, err := r.worktreeMatches(p, ie.Mode, ie.Hash, ie)
			if err != nil {
				return nil, fmt.Errorf("status: %w", err)
			}
			if !ok {
				entry(p).WorkStatus = StatusDirty
			}
		}
	}

	for p, ie := range stg.Entries {
		if _, conflicted := ie.(*ConflictEntry); conflicted {
			e := entry(p)
			e.IndexStatus, e.WorkStatus = StatusConflict, StatusConflict
			continue
		}
		re := ie.(*ResolvedEntry)
		if !workFiles[p] {
			entry(p).WorkStatus = StatusDeleted
		}
		head, inHead := headFiles[p]
		switch {
		case !inHead:
			entry(p).IndexStatus = StatusNew
		case head.Hash != re.Hash || head.Mode != normalizeFileMode(re.Mode):
			entry(p).IndexStatus = StatusModified
		}
	}
	for p := range headFiles {
		if _, staged := stg.Entries[p]; !staged {
			entry(p).IndexStatus = StatusDeleted
		}
	}

	out := make([]StatusEntry, 0, len(result))
	for _, e := range result {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// headFiles returns the flattened tree of the commit HEAD points at, or
// an empty map on an unborn branch.
func (r *Repo) headFiles() (map[string]object.FlatEntry, error) {
	head, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	tree, err := r.commitTree(head)
	if err != nil {
		return nil, err
	}
	return r.FlattenTree(tree)
}

// headCommit resolves HEAD, returning the zero hash on an unborn branch.
func (r *Repo) headCommit() (object.Hash, error) {
	h, err := r.ResolveRef("HEAD")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return h, nil
}

// walkWorktree lists every regular, non-ignored file below the root.
func (r *Repo) walkWorktree(ic *IgnoreChecker) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(r.RootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if ic.IsIgnored(rel) || ic.IsIgnored(rel+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if !ic.IsIgnored(rel) && d.Type().IsRegular() {
			files[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk worktree: %w", err)
	}
	return files, nil
}

// worktreeMatches reports whether the working file at p has the given mode
// and content hash. A missing file never matches. When stat is non-nil and
// its recorded size differs, the content is not read.
func (r *Repo) worktreeMatches(p, mode string, hash object.Hash, stat *ResolvedEntry) (bool, error) {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(p))
	info, err := os.Lstat(absPath)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %q: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	if modeFromFileInfo(info) != normalizeFileMode(mode) {
		return false, nil
	}
	if stat != nil && stat.Size != 0 && stat.Size != info.Size() {
		return false, nil
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", p, err)
	}
	return object.HashBlob(content) == hash, nil
}

// pathExists reports whether anything (file, directory or link) exists at
// the repo-relative path p.
func (r *Repo) pathExists(p string) (os.FileInfo, bool, error) {
	info, err := os.Lstat(filepath.Join(r.RootDir, filepath.FromSlash(p)))
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %q: %w", p, err)
	}
	return info, true, nil
}

// isNotExist reports whether err means nothing is at a path. A parent
// component that is a regular file (ENOTDIR) counts as absence.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
