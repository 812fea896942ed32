package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/odvcencio/gotmerge/pkg/object"
	"github.com/odvcencio/gotmerge/pkg/treediff"
)

// Action is what the merge does at one path, relative to ours.
type Action int

const (
	KeepOurs     Action = iota // ours already holds the result
	TakeTheirs                 // theirs' value wins; nil Theirs means delete
	MergeContent               // both sides modified a blob differently
	RecordConflict             // not auto-resolvable; see Kind
)

func (a Action) String() string {
	switch a {
	case KeepOurs:
		return "KeepOurs"
	case TakeTheirs:
		return "TakeTheirs"
	case MergeContent:
		return "MergeContent"
	case RecordConflict:
		return "RecordConflict"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ConflictKind names the four kinds of merge conflict.
type ConflictKind string

const (
	ConflictContent      ConflictKind = "content"
	ConflictAddAdd       ConflictKind = "add/add"
	ConflictModifyDelete ConflictKind = "modify/delete"
	ConflictType         ConflictKind = "file/directory"
)

// Side identifies one of the two merged lines of history.
type Side int

const (
	SideOurs Side = iota + 1
	SideTheirs
)

// Decision is the classifier's verdict for one path. Base, Ours and Theirs
// are the blob entries at Path on each side after the change, nil where
// no blob sits at Path.
type Decision struct {
	Path   string
	Action Action
	Kind   ConflictKind // set when Action is RecordConflict, or ConflictContent for MergeContent
	Base   *object.TreeEntry
	Ours   *object.TreeEntry
	Theirs *object.TreeEntry

	// FileSide is the side holding a blob at Path in a type conflict. The
	// other side holds a directory there.
	FileSide Side
}

// blobView is a side's change reduced to the blob at its path. A blob
// that became a directory reads as a deletion; a directory that became a
// blob reads as an addition.
type blobView struct {
	changed bool
	old     *object.TreeEntry
	new     *object.TreeEntry
}

func viewOf(c treediff.Changes, p string) blobView {
	ch, ok := c[p]
	if !ok {
		return blobView{}
	}
	v := blobView{changed: true, old: ch.Old, new: ch.New}
	if v.old != nil && v.old.IsDir() {
		v.old = nil
	}
	if v.new != nil && v.new.IsDir() {
		v.new = nil
	}
	return v
}

// touchedDirs returns every path the side leaves as a directory it
// touched: each proper ancestor of a surviving change, plus each path
// that became a directory.
func touchedDirs(c treediff.Changes) map[string]bool {
	dirs := make(map[string]bool)
	for p, ch := range c {
		if ch.New == nil {
			continue
		}
		if ch.KindChange && ch.New.IsDir() {
			dirs[p] = true
		}
		for dir := p; ; {
			i := strings.LastIndexByte(dir, '/')
			if i < 0 {
				break
			}
			dir = dir[:i]
			if dirs[dir] {
				break
			}
			dirs[dir] = true
		}
	}
	return dirs
}

// Classify combines the ours-vs-base and theirs-vs-base change sets into
// one decision per path present in either. It reads nothing and writes
// nothing.
func Classify(ours, theirs treediff.Changes) map[string]Decision {
	oursDirs := touchedDirs(ours)
	theirsDirs := touchedDirs(theirs)

	paths := lo.Union(lo.Keys(ours), lo.Keys(theirs))
	sort.Strings(paths)

	out := make(map[string]Decision, len(paths))
	for _, p := range paths {
		o := viewOf(ours, p)
		t := viewOf(theirs, p)

		base := o.old
		if !o.changed {
			base = t.old
		}
		d := Decision{Path: p, Base: base, Ours: o.new, Theirs: t.new}
		if !o.changed {
			d.Ours = base
		}
		if !t.changed {
			d.Theirs = base
		}

		switch {
		case o.changed && o.new != nil && theirsDirs[p]:
			d.Action, d.Kind, d.FileSide = RecordConflict, ConflictType, SideOurs
		case t.changed && t.new != nil && oursDirs[p]:
			d.Action, d.Kind, d.FileSide = RecordConflict, ConflictType, SideTheirs
		case !o.changed:
			d.Action = TakeTheirs
		case !t.changed:
			d.Action = KeepOurs
		case sameEntry(o.new, t.new):
			d.Action = KeepOurs
		case base == nil:
			d.Action, d.Kind = RecordConflict, ConflictAddAdd
		case o.new == nil || t.new == nil:
			d.Action, d.Kind = RecordConflict, ConflictModifyDelete
		default:
			d.Action, d.Kind = MergeContent, ConflictContent
		}
		out[p] = d
	}
	return out
}

func sameEntry(a, b *object.TreeEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Hash == b.Hash && a.Mode == b.Mode
}
