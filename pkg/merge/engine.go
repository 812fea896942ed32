// Package merge implements the tree-level three-way merge: it diffs both
// sides against a base, classifies every touched path and runs line merges
// where both sides edited the same file.
package merge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/gotmerge/pkg/diff3"
	"github.com/odvcencio/gotmerge/pkg/object"
	"github.com/odvcencio/gotmerge/pkg/treediff"
)

// Resolution is the outcome at one path. It is one of Resolved, Removed
// or Conflicted.
type Resolution interface {
	isResolution()
}

// Resolved means the path holds Entry after the merge.
type Resolved struct {
	Entry object.TreeEntry
}

// Removed means the path holds no blob after the merge.
type Removed struct{}

// Conflicted means the path needs manual resolution. Base, Ours and
// Theirs are the stage 1, 2 and 3 entries, nil where absent; in a type
// conflict one of them is a directory entry.
type Conflicted struct {
	Kind   ConflictKind
	Base   *object.TreeEntry
	Ours   *object.TreeEntry
	Theirs *object.TreeEntry

	// Worktree is the blob left at the path: marker text for content and
	// add/add conflicts, the surviving side for modify/delete. Nil when
	// the path holds a directory.
	Worktree *object.TreeEntry

	// Sidecar is the file side of a type conflict, relocated to
	// "<path>~<label>" so the directory side can keep the path.
	Sidecar *object.TreeEntry
}

func (Resolved) isResolution()   {}
func (Removed) isResolution()    {}
func (Conflicted) isResolution() {}

// ConflictInfo summarizes one conflicted path.
type ConflictInfo struct {
	Path    string
	Kind    ConflictKind
	Sidecar string // relocated file side, type conflicts only
}

// Input names the three trees of a merge and how to label each side in
// conflict output.
type Input struct {
	Base   object.Hash
	Ours   object.Hash
	Theirs object.Hash

	OursLabel   string
	TheirsLabel string
}

// Result is the outcome of merging Input. Changes holds only paths whose
// outcome differs from ours, plus every conflicted path.
type Result struct {
	Input      Input
	Changes    map[string]Resolution
	Conflicts  []ConflictInfo // sorted by path
	AutoMerged []string       // paths run through the line merger, sorted
}

// Clean reports whether the merge finished without conflicts.
func (r *Result) Clean() bool { return len(r.Conflicts) == 0 }

// Paths returns the changed paths in sorted order.
func (r *Result) Paths() []string {
	out := make([]string, 0, len(r.Changes))
	for p := range r.Changes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Store is the object access the engine needs.
type Store interface {
	object.ReadWriter
}

// Engine merges trees held in a Store.
type Engine struct {
	store      Store
	log        *zap.Logger
	markerSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMarkerSize sets the width of conflict markers.
func WithMarkerSize(n int) Option {
	return func(e *Engine) { e.markerSize = n }
}

// NewEngine returns an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: zap.NewNop(), markerSize: diff3.DefaultMarkerSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge diffs ours and theirs against base concurrently, classifies every
// touched path and resolves what can be resolved. Merged and marker blobs
// are written to the store; nothing else is touched.
func (e *Engine) Merge(ctx context.Context, in Input) (*Result, error) {
	var oursChanges, theirsChanges treediff.Changes
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		oursChanges, err = treediff.Diff(gctx, e.store, in.Base, in.Ours)
		if err != nil {
			return fmt.Errorf("diff ours: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		theirsChanges, err = treediff.Diff(gctx, e.store, in.Base, in.Theirs)
		if err != nil {
			return fmt.Errorf("diff theirs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	decisions := Classify(oursChanges, theirsChanges)
	paths := make([]string, 0, len(decisions))
	for p := range decisions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	res := &Result{Input: in, Changes: make(map[string]Resolution)}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := decisions[p]
		e.log.Debug("classified path",
			zap.String("path", p),
			zap.Stringer("action", d.Action),
			zap.String("kind", string(d.Kind)))

		switch d.Action {
		case KeepOurs:
			continue
		case TakeTheirs:
			if d.Theirs == nil {
				res.Changes[p] = Removed{}
			} else {
				res.Changes[p] = Resolved{Entry: *d.Theirs}
			}
		case MergeContent:
			if err := e.mergeContent(d, res); err != nil {
				return nil, err
			}
		case RecordConflict:
			if err := e.recordConflict(d, res); err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(res.AutoMerged)
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Path < res.Conflicts[j].Path })
	return res, nil
}

// mergeContent merges a blob both sides modified. Content and mode are
// merged independently.
func (e *Engine) mergeContent(d Decision, res *Result) error {
	mode := mergeMode(d.Base.Mode, d.Ours.Mode, d.Theirs.Mode)

	var hash object.Hash
	switch {
	case d.Ours.Hash == d.Theirs.Hash, d.Theirs.Hash == d.Base.Hash:
		hash = d.Ours.Hash
	case d.Ours.Hash == d.Base.Hash:
		hash = d.Theirs.Hash
	default:
		res.AutoMerged = append(res.AutoMerged, d.Path)
		merged, conflicts, err := e.lineMerge(d.Base, d.Ours, d.Theirs, res.Input)
		if err != nil {
			return fmt.Errorf("merge %s: %w", d.Path, err)
		}
		h, err := e.store.WriteBlob(&object.Blob{Data: merged})
		if err != nil {
			return fmt.Errorf("merge %s: write blob: %w", d.Path, err)
		}
		if conflicts > 0 {
			worktree := &object.TreeEntry{Name: d.Path, Mode: mode, Hash: h}
			res.Changes[d.Path] = Conflicted{Kind: ConflictContent, Base: d.Base, Ours: d.Ours, Theirs: d.Theirs, Worktree: worktree}
			res.Conflicts = append(res.Conflicts, ConflictInfo{Path: d.Path, Kind: ConflictContent})
			return nil
		}
		hash = h
	}

	if hash == d.Ours.Hash && mode == d.Ours.Mode {
		return nil
	}
	res.Changes[d.Path] = Resolved{Entry: object.TreeEntry{Name: d.Path, Mode: mode, Hash: hash}}
	return nil
}

func (e *Engine) recordConflict(d Decision, res *Result) error {
	c := Conflicted{Kind: d.Kind, Base: d.Base, Ours: d.Ours, Theirs: d.Theirs}
	info := ConflictInfo{Path: d.Path, Kind: d.Kind}

	switch d.Kind {
	case ConflictAddAdd:
		res.AutoMerged = append(res.AutoMerged, d.Path)
		merged, _, err := e.lineMerge(nil, d.Ours, d.Theirs, res.Input)
		if err != nil {
			return fmt.Errorf("merge %s: %w", d.Path, err)
		}
		h, err := e.store.WriteBlob(&object.Blob{Data: merged})
		if err != nil {
			return fmt.Errorf("merge %s: write blob: %w", d.Path, err)
		}
		c.Worktree = &object.TreeEntry{Name: d.Path, Mode: d.Ours.Mode, Hash: h}

	case ConflictModifyDelete:
		if d.Ours != nil {
			c.Worktree = d.Ours
		} else {
			c.Worktree = d.Theirs
		}

	case ConflictType:
		// Stage entries carry whatever each tree holds at the path,
		// directories included.
		var err error
		if c.Base, err = e.entryAt(res.Input.Base, d.Path); err != nil {
			return err
		}
		if c.Ours, err = e.entryAt(res.Input.Ours, d.Path); err != nil {
			return err
		}
		if c.Theirs, err = e.entryAt(res.Input.Theirs, d.Path); err != nil {
			return err
		}
		file, label := d.Ours, res.Input.OursLabel
		if d.FileSide == SideTheirs {
			file, label = d.Theirs, res.Input.TheirsLabel
		}
		info.Sidecar = SidecarPath(d.Path, label)
		c.Sidecar = &object.TreeEntry{Name: info.Sidecar, Mode: file.Mode, Hash: file.Hash}
	}

	res.Changes[d.Path] = c
	res.Conflicts = append(res.Conflicts, info)
	return nil
}

func (e *Engine) entryAt(tree object.Hash, p string) (*object.TreeEntry, error) {
	entry, ok, err := object.EntryAtPath(e.store, tree, p)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", p, err)
	}
	if !ok {
		return nil, nil
	}
	entry.Name = p
	return &entry, nil
}

func (e *Engine) lineMerge(base, ours, theirs *object.TreeEntry, in Input) ([]byte, int, error) {
	read := func(entry *object.TreeEntry) ([]byte, error) {
		if entry == nil {
			return nil, nil
		}
		b, err := e.store.ReadBlob(entry.Hash)
		if err != nil {
			return nil, err
		}
		return b.Data, nil
	}
	baseData, err := read(base)
	if err != nil {
		return nil, 0, err
	}
	oursData, err := read(ours)
	if err != nil {
		return nil, 0, err
	}
	theirsData, err := read(theirs)
	if err != nil {
		return nil, 0, err
	}
	r := diff3.MergeWithOptions(baseData, oursData, theirsData, diff3.Options{
		OursLabel:   in.OursLabel,
		TheirsLabel: in.TheirsLabel,
		MarkerSize:  e.markerSize,
	})
	return r.Merged, r.Conflicts, nil
}

// mergeMode merges file modes three-way. When both sides changed the
// mode they agree, since a blob mode only carries the executable bit.
func mergeMode(base, ours, theirs string) string {
	if ours == base {
		return theirs
	}
	return ours
}

// SidecarPath is where the file side of a type conflict at p is written.
func SidecarPath(p, label string) string {
	return p + "~" + label
}

// Apply lays the result over ours' files, keeping both contributions of
// every conflict: marker text and surviving sides stay at their paths and
// relocated file sides land on their sidecar paths.
func (r *Result) Apply(ours map[string]object.FlatEntry) map[string]object.FlatEntry {
	out := make(map[string]object.FlatEntry, len(ours)+len(r.Changes))
	for p, fe := range ours {
		out[p] = fe
	}
	for p, res := range r.Changes {
		switch v := res.(type) {
		case Resolved:
			out[p] = object.FlatEntry{Path: p, Mode: v.Entry.Mode, Hash: v.Entry.Hash}
		case Removed:
			delete(out, p)
		case Conflicted:
			if v.Worktree != nil {
				out[p] = object.FlatEntry{Path: p, Mode: v.Worktree.Mode, Hash: v.Worktree.Hash}
			} else {
				delete(out, p)
			}
			if v.Sidecar != nil {
				out[v.Sidecar.Name] = object.FlatEntry{Path: v.Sidecar.Name, Mode: v.Sidecar.Mode, Hash: v.Sidecar.Hash}
			}
		}
	}
	return out
}

// WriteTree writes the tree Apply describes, conflicts included, and
// returns its hash.
func (e *Engine) WriteTree(r *Result) (object.Hash, error) {
	ours, err := object.FlattenTree(e.store, r.Input.Ours)
	if err != nil {
		return "", fmt.Errorf("write merged tree: %w", err)
	}
	h, err := object.BuildTree(e.store, r.Apply(ours))
	if err != nil {
		return "", fmt.Errorf("write merged tree: %w", err)
	}
	return h, nil
}
