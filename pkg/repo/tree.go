package repo

import (
	"fmt"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// BuildTree writes the staging area as a hierarchy of tree objects and
// returns the root hash. It refuses an index that still holds conflicts.
func (r *Repo) BuildTree(s *Staging) (object.Hash, error) {
	if conflicts := s.Conflicts(); len(conflicts) > 0 {
		return "", fmt.Errorf("build tree: %w: %d path(s)", ErrUnresolvedConflicts, len(conflicts))
	}
	h, err := object.BuildTree(r.Store, s.Files())
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}
	return h, nil
}

// FlattenTree returns every file reachable from the tree h keyed by its
// repo-relative path.
func (r *Repo) FlattenTree(h object.Hash) (map[string]object.FlatEntry, error) {
	files, err := object.FlattenTree(r.Store, h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree %s: %w", h.Short(), err)
	}
	return files, nil
}

// commitTree returns the root tree of commit h, or the empty tree when h
// is zero (unborn branch).
func (r *Repo) commitTree(h object.Hash) (object.Hash, error) {
	if h.IsZero() {
		return object.EmptyTreeHash, nil
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h.Short(), err)
	}
	return c.TreeHash, nil
}
