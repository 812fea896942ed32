package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/object"
)

// worktreePlan is everything a merge, fast-forward or checkout will do to
// the working tree, plus the index that results.
type worktreePlan struct {
	writes  map[string]object.FlatEntry // blob to place at each path
	removes map[string]bool             // files to delete
	index   *Staging
}

func newWorktreePlan(index *Staging) *worktreePlan {
	return &worktreePlan{
		writes:  make(map[string]object.FlatEntry),
		removes: make(map[string]bool),
		index:   index,
	}
}

// touched returns every path the plan writes or removes, sorted.
func (p *worktreePlan) touched() []string {
	out := lo.Union(lo.Keys(p.writes), lo.Keys(p.removes))
	sort.Strings(out)
	return out
}

// planFromResult turns an engine result into a plan over the current
// index. Conflicted paths get stage entries; their working-tree content is
// marker text, the surviving side, or nothing when the directory side
// keeps the path. Type-conflict sidecars go to the working tree only.
func planFromResult(res *merge.Result, current *Staging, headFiles map[string]object.FlatEntry) *worktreePlan {
	index := cloneStaging(current)
	plan := newWorktreePlan(index)

	for p, r := range res.Changes {
		switch v := r.(type) {
		case merge.Resolved:
			plan.writes[p] = object.FlatEntry{Path: p, Mode: v.Entry.Mode, Hash: v.Entry.Hash}
			index.Entries[p] = &ResolvedEntry{Path: p, Mode: v.Entry.Mode, Hash: v.Entry.Hash}
		case merge.Removed:
			plan.removes[p] = true
			delete(index.Entries, p)
		case merge.Conflicted:
			index.Entries[p] = &ConflictEntry{
				Path:   p,
				Base:   stageOf(v.Base),
				Ours:   stageOf(v.Ours),
				Theirs: stageOf(v.Theirs),
			}
			switch {
			case v.Worktree != nil:
				plan.writes[p] = object.FlatEntry{Path: p, Mode: v.Worktree.Mode, Hash: v.Worktree.Hash}
			default:
				if _, ok := headFiles[p]; ok {
					plan.removes[p] = true
				}
			}
			if v.Sidecar != nil {
				plan.writes[v.Sidecar.Name] = object.FlatEntry{Path: v.Sidecar.Name, Mode: v.Sidecar.Mode, Hash: v.Sidecar.Hash}
			}
		}
	}
	return plan
}

func stageOf(e *object.TreeEntry) *StageEntry {
	if e == nil {
		return nil
	}
	return &StageEntry{Mode: e.Mode, Hash: e.Hash}
}

// planBetween moves the working tree from the files of one tree to those
// of another. Index entries at paths the move does not touch carry over.
func planBetween(current *Staging, from, to map[string]object.FlatEntry) *worktreePlan {
	plan := newWorktreePlan(cloneStaging(current))
	for p, fe := range to {
		if old, ok := from[p]; !ok || old.Hash != fe.Hash || old.Mode != fe.Mode {
			plan.writes[p] = fe
			plan.index.Entries[p] = &ResolvedEntry{Path: p, Mode: fe.Mode, Hash: fe.Hash}
		}
	}
	for p := range from {
		if _, ok := to[p]; !ok {
			plan.removes[p] = true
			delete(plan.index.Entries, p)
		}
	}
	return plan
}

func cloneStaging(s *Staging) *Staging {
	out := &Staging{Entries: make(map[string]IndexEntry, len(s.Entries))}
	for p, e := range s.Entries {
		out.Entries[p] = e
	}
	return out
}

// validatePlan checks, without side effects, that applying plan cannot
// destroy work. Tracked paths it touches must be clean in both index and
// working tree; untracked or ignored files it would overwrite must already
// hold the content being written. With strictIndex every staged change
// blocks, touched or not, since the index becomes the next commit. All
// blocking paths are reported together.
func (r *Repo) validatePlan(plan *worktreePlan, stg *Staging, headFiles map[string]object.FlatEntry, strictIndex bool) error {
	var uncommitted, untracked []string
	if strictIndex {
		uncommitted = stagedChanges(stg, headFiles, plan)
	}

	for _, p := range plan.touched() {
		head, inHead := headFiles[p]
		if !inHead {
			if _, staged := stg.Entries[p]; staged {
				uncommitted = append(uncommitted, p)
				continue
			}
			blocked, err := r.untrackedAt(p, plan, headFiles)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			untracked = append(untracked, blocked...)
			continue
		}

		idx, ok := stg.Resolved(p)
		if !ok || idx.Hash != head.Hash || normalizeFileMode(idx.Mode) != head.Mode {
			uncommitted = append(uncommitted, p)
			continue
		}
		clean, err := r.worktreeMatches(p, head.Mode, head.Hash, idx)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		if !clean {
			uncommitted = append(uncommitted, p)
		}
	}

	// A write below a path that currently holds an untracked file would
	// replace that file with a directory.
	for p := range plan.writes {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, tracked := headFiles[dir]; tracked {
				continue
			}
			info, exists, err := r.pathExists(dir)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if exists && !info.IsDir() {
				untracked = append(untracked, dir)
			}
		}
	}

	var result *multierror.Error
	if len(uncommitted) > 0 {
		paths := lo.Uniq(uncommitted)
		sort.Strings(paths)
		result = multierror.Append(result, &UncommittedChangesError{Paths: paths})
	}
	if len(untracked) > 0 {
		paths := lo.Uniq(untracked)
		sort.Strings(paths)
		result = multierror.Append(result, &UntrackedOverwriteError{Paths: paths})
	}
	return result.ErrorOrNil()
}

// stagedChanges lists paths outside the plan whose index entry differs
// from HEAD.
func stagedChanges(stg *Staging, headFiles map[string]object.FlatEntry, plan *worktreePlan) []string {
	var out []string
	for p, e := range stg.Entries {
		if _, touched := plan.writes[p]; touched || plan.removes[p] {
			continue
		}
		head, inHead := headFiles[p]
		re, resolved := e.(*ResolvedEntry)
		if !inHead || !resolved || re.Hash != head.Hash || normalizeFileMode(re.Mode) != head.Mode {
			out = append(out, p)
		}
	}
	for p := range headFiles {
		if _, touched := plan.writes[p]; touched || plan.removes[p] {
			continue
		}
		if _, staged := stg.Entries[p]; !staged {
			out = append(out, p)
		}
	}
	return out
}

// untrackedAt lists untracked files the plan would destroy at p: p itself
// unless it already holds the content being written, or any untracked
// file below p when p is a directory the plan needs for a file.
func (r *Repo) untrackedAt(p string, plan *worktreePlan, headFiles map[string]object.FlatEntry) ([]string, error) {
	info, exists, err := r.pathExists(p)
	if err != nil || !exists {
		return nil, err
	}
	if !info.IsDir() {
		if w, writing := plan.writes[p]; writing {
			same, err := r.worktreeMatches(p, w.Mode, w.Hash, nil)
			if err != nil || same {
				return nil, err
			}
		}
		return []string{p}, nil
	}
	if _, writing := plan.writes[p]; !writing {
		return nil, nil
	}

	var blocked []string
	root := filepath.Join(r.RootDir, filepath.FromSlash(p))
	err = filepath.WalkDir(root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.RootDir, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, tracked := headFiles[rel]; tracked && plan.removes[rel] {
			return nil
		}
		blocked = append(blocked, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", p, err)
	}
	return blocked, nil
}

// untrackedKept lists untracked files at paths the plan writes. Once the
// plan has validated they already hold the content being written.
func (r *Repo) untrackedKept(plan *worktreePlan, stg *Staging, headFiles map[string]object.FlatEntry) ([]string, error) {
	var out []string
	for _, p := range plan.touched() {
		if _, writing := plan.writes[p]; !writing {
			continue
		}
		if _, tracked := headFiles[p]; tracked {
			continue
		}
		if _, staged := stg.Entries[p]; staged {
			continue
		}
		info, exists, err := r.pathExists(p)
		if err != nil {
			return nil, err
		}
		if exists && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out, nil
}

// applyPlan performs the plan on the working tree and then writes the
// planned index. It returns the touched paths.
func (r *Repo) applyPlan(plan *worktreePlan) ([]string, error) {
	touched, err := r.updateWorktree(plan)
	if err != nil {
		return nil, err
	}
	if err := r.WriteStaging(plan.index); err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	return touched, nil
}

// updateWorktree removes first so a file can replace a directory and vice
// versa, then writes.
func (r *Repo) updateWorktree(plan *worktreePlan) ([]string, error) {
	touched := plan.touched()
	log := r.log()

	for _, p := range touched {
		if !plan.removes[p] {
			continue
		}
		abs := filepath.Join(r.RootDir, filepath.FromSlash(p))
		if err := os.Remove(abs); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("apply: remove %q: %w", p, err)
		}
		r.removeEmptyParents(filepath.Dir(abs))
		log.Debug("removed path", zap.String("path", p))
	}

	for _, p := range touched {
		fe, ok := plan.writes[p]
		if !ok {
			continue
		}
		if err := r.writeWorktreeFile(p, fe); err != nil {
			return nil, fmt.Errorf("apply: %w", err)
		}
		log.Debug("wrote path", zap.String("path", p), zap.String("mode", fe.Mode))
	}
	return touched, nil
}

// writeWorktreeFile places the blob fe at p, clearing any file in the way
// at a parent path and any empty directory at p.
func (r *Repo) writeWorktreeFile(p string, fe object.FlatEntry) error {
	abs := filepath.Join(r.RootDir, filepath.FromSlash(p))

	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		info, exists, err := r.pathExists(dir)
		if err != nil {
			return err
		}
		if exists && !info.IsDir() {
			if err := os.Remove(filepath.Join(r.RootDir, filepath.FromSlash(dir))); err != nil {
				return fmt.Errorf("remove %q: %w", dir, err)
			}
		}
	}
	if info, exists, err := r.pathExists(p); err != nil {
		return err
	} else if exists && info.IsDir() {
		if err := os.RemoveAll(abs); err != nil {
			return fmt.Errorf("remove directory %q: %w", p, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("mkdir for %q: %w", p, err)
	}
	blob, err := r.Store.ReadBlob(fe.Hash)
	if err != nil {
		return fmt.Errorf("read blob for %q: %w", p, err)
	}
	if err := writeFileAtomic(filepath.Dir(abs), abs, ".got-write-*", blob.Data); err != nil {
		return fmt.Errorf("write %q: %w", p, err)
	}
	if err := os.Chmod(abs, filePermFromMode(fe.Mode)); err != nil {
		return fmt.Errorf("chmod %q: %w", p, err)
	}
	return nil
}

// removeEmptyParents removes empty directories up to (but not including)
// the repository root.
func (r *Repo) removeEmptyParents(dir string) {
	for {
		if dir == r.RootDir || !strings.HasPrefix(dir, r.RootDir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		_ = os.Remove(dir)
		dir = filepath.Dir(dir)
	}
}
