package repo

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// Checkout switches the working directory to the state of the target.
// The target can be a branch name or a raw commit hash.
//
// Algorithm:
//  1. Refuse while a merge is in progress.
//  2. Resolve target: try as branch name first, then as raw hash.
//  3. Plan the move from the HEAD tree to the target tree.
//  4. Validate the plan: local changes and untracked files it would
//     destroy stop the checkout before anything is written.
//  5. Apply the plan and rewrite the index.
//  6. Update HEAD (symbolic ref for branch, raw hash for detached).
func (r *Repo) Checkout(target string) error {
	lock, err := r.lockIndex()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	defer lock.unlock()

	// 1. Merge in progress.
	if r.mergeInProgress() {
		return fmt.Errorf("checkout: %w", ErrMergeInProgress)
	}

	// 2. Resolve target.
	isBranch := false
	targetHash, err := r.ResolveRef("refs/heads/" + target)
	if err == nil {
		isBranch = true
	} else {
		targetHash = object.Hash(target)
	}
	commit, err := r.Store.ReadCommit(targetHash)
	if err != nil {
		return fmt.Errorf("checkout: cannot read commit %s: %w", targetHash, err)
	}

	// 3. Plan.
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if stg.HasConflicts() {
		return fmt.Errorf("checkout: %w", ErrUnresolvedConflicts)
	}
	headFiles, err := r.headFiles()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	targetFiles, err := r.FlattenTree(commit.TreeHash)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	plan := planBetween(stg, headFiles, targetFiles)

	// 4. Validate.
	if err := r.validatePlan(plan, stg, headFiles, false); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	// 5. Apply.
	if _, err := r.applyPlan(plan); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	// 6. Update HEAD.
	headContent := string(targetHash)
	if isBranch {
		headContent = "refs/heads/" + target
	}
	if err := r.setHead(headContent); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	r.log().Debug("checked out", zap.String("target", target), zap.String("commit", targetHash.Short()))
	return nil
}

// mergeInProgress reports whether MERGE_STATE exists.
func (r *Repo) mergeInProgress() bool {
	_, err := os.Stat(r.mergeStatePath())
	return !errors.Is(err, os.ErrNotExist)
}
