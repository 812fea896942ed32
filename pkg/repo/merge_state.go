package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/object"
)

// MergeState is the record of a merge stopped on conflicts. It exists on
// disk exactly while the merge is unresolved.
type MergeState struct {
	Ours       object.Hash          `json:"ours"`
	Theirs     object.Hash          `json:"theirs"`
	TheirsName string               `json:"theirs_name"`
	Bases      []object.Hash        `json:"bases"`
	Conflicts  []MergeStateConflict `json:"conflicts"`
	Touched    []string             `json:"touched"`
	Message    string               `json:"message"`

	// Preserved are untracked files that already held the merged content.
	// An abort leaves them in place.
	Preserved []string `json:"preserved,omitempty"`
}

// MergeStateConflict is one conflicted path of a pending merge.
type MergeStateConflict struct {
	Path    string             `json:"path"`
	Kind    merge.ConflictKind `json:"kind"`
	Sidecar string             `json:"sidecar,omitempty"`
}

func (r *Repo) mergeStatePath() string { return filepath.Join(r.GotDir, "MERGE_STATE") }
func (r *Repo) origIndexPath() string  { return filepath.Join(r.GotDir, "ORIG_INDEX") }
func (r *Repo) origHeadPath() string   { return filepath.Join(r.GotDir, "ORIG_HEAD") }

// ReadMergeState loads the pending merge, or ErrNoMergeInProgress.
func (r *Repo) ReadMergeState() (*MergeState, error) {
	data, err := os.ReadFile(r.mergeStatePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMergeInProgress
		}
		return nil, fmt.Errorf("read merge state: %w", err)
	}
	var st MergeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("read merge state: %w", err)
	}
	return &st, nil
}

// saveMergeState writes ORIG_HEAD and ORIG_INDEX first and MERGE_STATE
// last, so a present MERGE_STATE implies both snapshots exist.
func (r *Repo) saveMergeState(st *MergeState, origIndex []byte) error {
	if err := writeFileAtomic(r.GotDir, r.origHeadPath(), ".orig-head-*", []byte(string(st.Ours)+"\n")); err != nil {
		return fmt.Errorf("write ORIG_HEAD: %w", err)
	}
	if err := writeFileAtomic(r.GotDir, r.origIndexPath(), ".orig-index-*", origIndex); err != nil {
		return fmt.Errorf("write ORIG_INDEX: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal merge state: %w", err)
	}
	if err := writeFileAtomic(r.GotDir, r.mergeStatePath(), ".merge-state-*", data); err != nil {
		return fmt.Errorf("write merge state: %w", err)
	}
	return nil
}

// clearMergeState removes MERGE_STATE and ORIG_INDEX. ORIG_HEAD is kept
// as a record of where the branch was before the merge.
func (r *Repo) clearMergeState() error {
	for _, p := range []string{r.mergeStatePath(), r.origIndexPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear merge state: %w", err)
		}
	}
	return nil
}

// readOrigIndex returns the raw pre-merge index bytes.
func (r *Repo) readOrigIndex() ([]byte, error) {
	data, err := os.ReadFile(r.origIndexPath())
	if err != nil {
		return nil, fmt.Errorf("read ORIG_INDEX: %w", err)
	}
	return data, nil
}

// snapshotIndex returns the current index file bytes, encoding an empty
// index when none exists yet.
func (r *Repo) snapshotIndex() ([]byte, error) {
	data, err := os.ReadFile(r.indexPath())
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot index: %w", err)
	}
	return encodeStaging(newStaging())
}

// defaultMergeMessage is the commit message for merging name (a branch
// or a raw commit id) into the current branch.
func defaultMergeMessage(name string, theirs object.Hash) string {
	if name == string(theirs) {
		return fmt.Sprintf("Merge commit '%s'", theirs)
	}
	return fmt.Sprintf("Merge branch '%s'", name)
}
