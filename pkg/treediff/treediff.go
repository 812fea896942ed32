// Package treediff compares a base tree against one side of a merge and
// reports per-path changes.
package treediff

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// Status classifies a path relative to the base tree.
type Status int

const (
	Unchanged Status = iota
	Added
	Modified
	Deleted
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Change describes what one side did to a path. Old is the base entry and
// New the side's entry; either is nil when absent. Entry names are the
// full path.
//
// A KindChange record sits at the exact path where a blob became a
// directory or the reverse. Its Old and New carry the previous and new
// entries (one of them a directory); the files under the directory side
// are reported separately as Added or Deleted leaves.
type Change struct {
	Path       string
	Status     Status
	Old        *object.TreeEntry
	New        *object.TreeEntry
	KindChange bool
}

// Changes maps path to change.
type Changes map[string]Change

// Paths returns the changed paths in sorted order.
func (c Changes) Paths() []string {
	out := make([]string, 0, len(c))
	for p := range c {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Get returns the change at p, or an Unchanged record when p was not
// touched.
func (c Changes) Get(p string) Change {
	if ch, ok := c[p]; ok {
		return ch
	}
	return Change{Path: p, Status: Unchanged}
}

// TreeReader is the subset of the object store the differ needs.
type TreeReader interface {
	ReadTree(h object.Hash) (*object.TreeObj, error)
}

// Diff walks base and side recursively. Subtrees with identical hashes
// are skipped without being read. An empty hash stands for the empty tree.
// The walk stops early when ctx is cancelled.
func Diff(ctx context.Context, r TreeReader, base, side object.Hash) (Changes, error) {
	out := make(Changes)
	w := walker{ctx: ctx, r: r, out: out}
	if err := w.diffTrees(base, side, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func readEntries(r TreeReader, h object.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)
	if h.IsZero() || h == object.EmptyTreeHash {
		return entries, nil
	}
	tr, err := r.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("tree diff: read %s: %w", h, err)
	}
	for _, e := range tr.Entries {
		entries[e.Name] = e
	}
	return entries, nil
}

type walker struct {
	ctx context.Context
	r   TreeReader
	out Changes
}

func (w *walker) diffTrees(base, side object.Hash, prefix string) error {
	if base == side {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	baseEntries, err := readEntries(w.r, base)
	if err != nil {
		return err
	}
	sideEntries, err := readEntries(w.r, side)
	if err != nil {
		return err
	}

	names := make(map[string]struct{}, len(baseEntries)+len(sideEntries))
	for n := range baseEntries {
		names[n] = struct{}{}
	}
	for n := range sideEntries {
		names[n] = struct{}{}
	}

	for name := range names {
		full := name
		if prefix != "" {
			full = path.Join(prefix, name)
		}
		b, inBase := baseEntries[name]
		s, inSide := sideEntries[name]

		switch {
		case inBase && inSide && b.Hash == s.Hash && b.Mode == s.Mode:
			continue

		case inBase && inSide && b.IsDir() && s.IsDir():
			if err := w.diffTrees(b.Hash, s.Hash, full); err != nil {
				return err
			}

		case inBase && inSide && !b.IsDir() && !s.IsDir():
			w.out[full] = Change{Path: full, Status: Modified, Old: entryAt(b, full), New: entryAt(s, full)}

		case inBase && inSide:
			// Blob and directory swapped places.
			w.out[full] = Change{Path: full, Status: Modified, Old: entryAt(b, full), New: entryAt(s, full), KindChange: true}
			if b.IsDir() {
				if err := w.diffTrees(b.Hash, "", full); err != nil {
					return err
				}
			} else {
				if err := w.diffTrees("", s.Hash, full); err != nil {
					return err
				}
			}

		case inBase:
			if b.IsDir() {
				if err := w.diffTrees(b.Hash, "", full); err != nil {
					return err
				}
				continue
			}
			w.out[full] = Change{Path: full, Status: Deleted, Old: entryAt(b, full)}

		default:
			if s.IsDir() {
				if err := w.diffTrees("", s.Hash, full); err != nil {
					return err
				}
				continue
			}
			w.out[full] = Change{Path: full, Status: Added, New: entryAt(s, full)}
		}
	}
	return nil
}

func entryAt(e object.TreeEntry, full string) *object.TreeEntry {
	e.Name = full
	return &e
}
