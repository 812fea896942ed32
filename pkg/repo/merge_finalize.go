package repo

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// ContinueMerge concludes a merge that stopped on conflicts once every
// conflicted path has been resolved with Add. It commits the index with
// parents [ours, theirs] and the prepared message, then clears the merge
// state.
func (r *Repo) ContinueMerge(author string) (object.Hash, error) {
	lock, err := r.lockIndex()
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	defer lock.unlock()
	return r.concludeMerge("", author)
}

// concludeMerge is the locked body of ContinueMerge and of Commit during a
// pending merge. A non-empty message replaces the prepared one.
func (r *Repo) concludeMerge(message, author string) (object.Hash, error) {
	st, err := r.ReadMergeState()
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	if conflicts := stg.Conflicts(); len(conflicts) > 0 {
		return "", fmt.Errorf("merge continue: %w: %v", ErrUnresolvedConflicts, conflicts)
	}
	head, err := r.headCommit()
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	if head != st.Ours {
		return "", fmt.Errorf("merge continue: HEAD moved from %s to %s during the merge", st.Ours.Short(), head.Short())
	}

	if message == "" {
		message = st.Message
	}

	tree, err := r.BuildTree(stg)
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	h, err := r.writeCommit(tree, []object.Hash{st.Ours, st.Theirs}, message, author, moveConcludeMerge(message))
	if err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	if err := r.clearMergeState(); err != nil {
		return "", fmt.Errorf("merge continue: %w", err)
	}
	r.log().Debug("merge concluded", zap.String("commit", h.Short()))
	return h, nil
}

// AbortMerge abandons a conflicted merge: every path the merge touched is
// restored from the pre-merge index (or removed when the merge created
// it), the pre-merge index bytes are put back and the merge state is
// cleared. The branch ref is never moved.
func (r *Repo) AbortMerge() error {
	lock, err := r.lockIndex()
	if err != nil {
		return fmt.Errorf("merge abort: %w", err)
	}
	defer lock.unlock()

	st, err := r.ReadMergeState()
	if err != nil {
		return fmt.Errorf("merge abort: %w", err)
	}
	orig, err := r.readOrigIndex()
	if err != nil {
		return fmt.Errorf("merge abort: %w", err)
	}
	if err := r.restorePreMerge(st, orig); err != nil {
		return fmt.Errorf("merge abort: %w", err)
	}
	r.log().Debug("merge aborted", zap.Int("restored", len(st.Touched)))
	return nil
}

// restorePreMerge puts the touched paths and the index back as orig
// records them and clears the merge state. Preserved files stay.
func (r *Repo) restorePreMerge(st *MergeState, orig []byte) error {
	origStg, err := decodeStaging(orig)
	if err != nil {
		return fmt.Errorf("ORIG_INDEX: %w", err)
	}

	plan := newWorktreePlan(origStg)
	for _, p := range st.Touched {
		if lo.Contains(st.Preserved, p) {
			continue
		}
		if e, ok := origStg.Resolved(p); ok {
			plan.writes[p] = object.FlatEntry{Path: p, Mode: normalizeFileMode(e.Mode), Hash: e.Hash}
		} else {
			plan.removes[p] = true
		}
	}
	if _, err := r.updateWorktree(plan); err != nil {
		return err
	}
	if err := writeFileAtomic(r.GotDir, r.indexPath(), ".index-tmp-*", orig); err != nil {
		return fmt.Errorf("restore index: %w", err)
	}
	return r.clearMergeState()
}
