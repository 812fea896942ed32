package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// Commit creates a new commit from the current staging area. While a
// conflicted merge is pending it concludes that merge instead, exactly as
// ContinueMerge does, with message overriding the prepared one when set.
//
//  1. Read staging
//  2. BuildTree from staging (refused while conflicts remain)
//  3. Resolve HEAD to get parent commit hash (if any)
//  4. Create and write the CommitObj
//  5. CAS-advance the current branch (or detached HEAD)
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	lock, err := r.lockIndex()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	defer lock.unlock()

	if r.mergeInProgress() {
		return r.concludeMerge(message, author)
	}

	// 1. Read staging.
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if len(stg.Entries) == 0 {
		return "", fmt.Errorf("commit: nothing staged")
	}

	// 2. Build tree.
	treeHash, err := r.BuildTree(stg)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	// 3. Parent (absent on the first commit).
	parent, err := r.headCommit()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	var parents []object.Hash
	if !parent.IsZero() {
		parents = append(parents, parent)
	}

	// 4-5.
	h, err := r.writeCommit(treeHash, parents, message, author, moveCommit(message, parent.IsZero()))
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

// writeCommit stores a commit and CAS-advances the ref HEAD names from
// parents[0] (or from nothing for a root commit) to it.
// An empty author falls back to the configured one.
func (r *Repo) writeCommit(tree object.Hash, parents []object.Hash, message, author string, move RefMove) (object.Hash, error) {
	if author == "" {
		cfg, err := r.ReadConfig()
		if err != nil {
			return "", err
		}
		author = cfg.Author()
	}
	c := &object.CommitObj{
		TreeHash:  tree,
		Parents:   parents,
		Author:    author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}

	var expected object.Hash
	if len(parents) > 0 {
		expected = parents[0]
	}
	if err := r.advanceHead(h, expected, move); err != nil {
		return "", err
	}
	r.log().Debug("wrote commit",
		zap.String("commit", h.Short()),
		zap.Int("parents", len(parents)))
	return h, nil
}

// advanceHead moves the ref HEAD names (the branch, or HEAD itself when
// detached) from expected to h.
func (r *Repo) advanceHead(h, expected object.Hash, move RefMove) error {
	ref, err := r.headRefName()
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}
	if err := r.updateRef(ref, h, move, expected); err != nil {
		if errors.Is(err, ErrRefUpdatedButReflogAppendFailed) {
			r.log().Warn("reflog append failed", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func firstLine(msg string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	return line
}

// LogEntry is one commit in a history walk.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// Log walks the commit history starting from the given hash, following
// first-parent links, returning up to limit commits newest first.
func (r *Repo) Log(start object.Hash, limit int) ([]LogEntry, error) {
	var out []LogEntry
	current := start
	for !current.IsZero() && len(out) < limit {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, object.ErrObjectNotFound) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		out = append(out, LogEntry{Hash: current, Commit: c})
		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}
	return out, nil
}
