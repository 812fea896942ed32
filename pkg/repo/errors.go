package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/gotmerge/pkg/merge"
)

var (
	// ErrUnrelatedHistories is returned when the merged commits share no
	// ancestor and the caller did not allow it.
	ErrUnrelatedHistories = errors.New("refusing to merge unrelated histories")

	ErrMergeInProgress     = errors.New("a merge is in progress")
	ErrNoMergeInProgress   = errors.New("there is no merge in progress")
	ErrUnresolvedConflicts = errors.New("index contains unresolved conflicts")
	ErrNotFastForward      = errors.New("not possible to fast-forward")
)

// UncommittedChangesError lists tracked paths the merge would touch that
// have changes not yet committed.
type UncommittedChangesError struct {
	Paths []string
}

func (e *UncommittedChangesError) Error() string {
	return fmt.Sprintf("your local changes to the following files would be overwritten by merge: %s",
		strings.Join(e.Paths, ", "))
}

// UntrackedOverwriteError lists untracked paths the merge would overwrite
// or remove.
type UntrackedOverwriteError struct {
	Paths []string
}

func (e *UntrackedOverwriteError) Error() string {
	return fmt.Sprintf("the following untracked working tree files would be overwritten by merge: %s",
		strings.Join(e.Paths, ", "))
}

// ConflictError reports a merge that stopped with unresolved conflicts.
// The index and working tree hold the conflicted state.
type ConflictError struct {
	Conflicts []merge.ConflictInfo
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Path, c.Kind))
	}
	return "merge conflicts: " + strings.Join(parts, ", ")
}
