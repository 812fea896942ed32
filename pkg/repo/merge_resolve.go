package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/object"
)

// BaseKind says how two commits relate before any tree is merged.
type BaseKind int

const (
	// BaseUpToDate: theirs is already contained in ours.
	BaseUpToDate BaseKind = iota
	// BaseFastForward: ours is an ancestor of theirs.
	BaseFastForward
	// BaseTree: a real three-way merge against Tree.
	BaseTree
)

// BaseResolution is the outcome of ResolveMergeBase.
type BaseResolution struct {
	Kind  BaseKind
	Bases []object.Hash // best common ancestors, oldest first
	Tree  object.Hash   // merge base tree when Kind is BaseTree
}

// Labels used for the sides of merges that synthesize a virtual base.
const (
	virtualOursLabel   = "Temporary merge branch 1"
	virtualTheirsLabel = "Temporary merge branch 2"
)

// ResolveMergeBase decides how ours and theirs merge. With no common
// ancestor it fails with ErrUnrelatedHistories unless allowUnrelated, in
// which case the empty tree is the base. Several best common ancestors
// are folded into one virtual base tree.
func (r *Repo) ResolveMergeBase(ctx context.Context, ours, theirs object.Hash, allowUnrelated bool, opts ...merge.Option) (*BaseResolution, error) {
	bases, err := r.MergeBases(ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("resolve merge base: %w", err)
	}
	log := r.log().With(zap.String("ours", ours.Short()), zap.String("theirs", theirs.Short()))

	switch {
	case len(bases) == 0:
		if !allowUnrelated {
			return nil, ErrUnrelatedHistories
		}
		log.Debug("unrelated histories, merging against the empty tree")
		return &BaseResolution{Kind: BaseTree, Tree: object.EmptyTreeHash}, nil
	case len(bases) == 1 && bases[0] == theirs:
		return &BaseResolution{Kind: BaseUpToDate, Bases: bases}, nil
	case len(bases) == 1 && bases[0] == ours:
		return &BaseResolution{Kind: BaseFastForward, Bases: bases}, nil
	case len(bases) == 1:
		tree, err := r.treeOf(bases[0])
		if err != nil {
			return nil, fmt.Errorf("resolve merge base: %w", err)
		}
		log.Debug("single merge base", zap.String("base", bases[0].Short()))
		return &BaseResolution{Kind: BaseTree, Bases: bases, Tree: tree}, nil
	}

	log.Debug("multiple merge bases, building virtual base", zap.Int("bases", len(bases)))
	tree, err := r.virtualBase(ctx, bases, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve merge base: %w", err)
	}
	return &BaseResolution{Kind: BaseTree, Bases: bases, Tree: tree}, nil
}

// treeOf returns the tree of a stored or virtual commit.
func (r *Repo) treeOf(h object.Hash) (object.Hash, error) {
	c, err := r.getMergeTraversalState().readCommit(r, h)
	if err != nil {
		return "", err
	}
	return c.TreeHash, nil
}

// foldFrame folds a list of merge bases into a single commit, left to
// right. It waits on a child frame when the next pair itself has several
// bases.
type foldFrame struct {
	bases     []object.Hash
	acc       object.Hash
	next      int
	childTree object.Hash
	haveChild bool
}

// virtualBase merges bases pairwise into one virtual commit and returns
// its tree. Conflicts inside the fold keep both contributions. Nested
// merge-base sets are handled by pushing frames on an explicit stack.
func (r *Repo) virtualBase(ctx context.Context, bases []object.Hash, opts []merge.Option) (object.Hash, error) {
	engine := merge.NewEngine(r.Store, append([]merge.Option{merge.WithLogger(r.log())}, opts...)...)

	stack := []*foldFrame{{bases: bases, acc: bases[0], next: 1}}
	var result object.Hash
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		f := stack[len(stack)-1]
		if f.next >= len(f.bases) {
			stack = stack[:len(stack)-1]
			tree, err := r.treeOf(f.acc)
			if err != nil {
				return "", err
			}
			if len(stack) == 0 {
				result = tree
				break
			}
			parent := stack[len(stack)-1]
			parent.childTree, parent.haveChild = tree, true
			continue
		}

		other := f.bases[f.next]
		var baseTree object.Hash
		if f.haveChild {
			baseTree, f.haveChild = f.childTree, false
		} else {
			inner, err := r.MergeBases(f.acc, other)
			if err != nil {
				return "", err
			}
			switch len(inner) {
			case 0:
				baseTree = object.EmptyTreeHash
			case 1:
				if baseTree, err = r.treeOf(inner[0]); err != nil {
					return "", err
				}
			default:
				stack = append(stack, &foldFrame{bases: inner, acc: inner[0], next: 1})
				continue
			}
		}

		merged, err := r.virtualMerge(ctx, engine, baseTree, f.acc, other)
		if err != nil {
			return "", err
		}
		f.acc = merged
		f.next++
	}
	return result, nil
}

// virtualMerge merges commits a and b over baseTree and registers the
// result as a virtual commit in the traversal cache. The merged tree is
// written to the store; the commit never is.
func (r *Repo) virtualMerge(ctx context.Context, engine *merge.Engine, baseTree, a, b object.Hash) (object.Hash, error) {
	state := r.getMergeTraversalState()
	if h, ok := state.loadVirtual(a, b); ok {
		return h, nil
	}

	aTree, err := r.treeOf(a)
	if err != nil {
		return "", err
	}
	bTree, err := r.treeOf(b)
	if err != nil {
		return "", err
	}
	res, err := engine.Merge(ctx, merge.Input{
		Base:        baseTree,
		Ours:        aTree,
		Theirs:      bTree,
		OursLabel:   virtualOursLabel,
		TheirsLabel: virtualTheirsLabel,
	})
	if err != nil {
		return "", fmt.Errorf("virtual merge %s %s: %w", a.Short(), b.Short(), err)
	}
	tree, err := engine.WriteTree(res)
	if err != nil {
		return "", err
	}

	c := &object.CommitObj{
		TreeHash: tree,
		Parents:  []object.Hash{a, b},
		Author:   "got-merge",
		Message:  "merged common ancestors",
	}
	h := object.HashObject(object.TypeCommit, object.MarshalCommit(c))
	state.storeVirtual(a, b, h, c)
	r.log().Debug("virtual merge base",
		zap.String("commit", h.Short()),
		zap.Int("conflicts", len(res.Conflicts)))
	return h, nil
}
