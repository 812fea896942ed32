package repo

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/object"
)

// MergeKind is how a merge concluded.
type MergeKind int

const (
	MergeUpToDate    MergeKind = iota // theirs already contained in ours
	MergeFastForward                  // branch moved to theirs, no commit
	MergeCommitted                    // clean merge commit written
	MergeConflicted                   // stopped with conflicts in index and working tree
)

func (k MergeKind) String() string {
	switch k {
	case MergeUpToDate:
		return "up-to-date"
	case MergeFastForward:
		return "fast-forward"
	case MergeCommitted:
		return "merged"
	case MergeConflicted:
		return "conflicted"
	}
	return fmt.Sprintf("MergeKind(%d)", int(k))
}

// MergeOptions controls Merge.
type MergeOptions struct {
	// Target is the branch, ref or full commit id to merge into HEAD.
	Target string
	// Message overrides the default merge commit message.
	Message string
	// FF overrides the configured fast-forward policy when set.
	FF FFMode
	// AllowUnrelated merges histories without a common ancestor against
	// the empty tree.
	AllowUnrelated bool
	// Author overrides the configured commit author when set.
	Author string
}

// MergeResult describes a finished or halted merge.
type MergeResult struct {
	Kind       MergeKind
	Ours       object.Hash
	Theirs     object.Hash
	Bases      []object.Hash
	Commit     object.Hash // merge commit, or the new HEAD after a fast-forward
	AutoMerged []string
	Conflicts  []merge.ConflictInfo
}

// Merge merges opts.Target into the current branch.
//
//  1. Refuse while a merge is pending or the index has conflicts.
//  2. Resolve ours (HEAD) and theirs, then their merge base.
//  3. Up to date: nothing to do. Fast-forward: move the working tree,
//     index and branch to theirs (unless the policy forbids it).
//  4. Otherwise run the tree merge and turn it into a plan.
//  5. Validate the plan; blocking local changes abort before any write.
//  6. Clean: apply, build the tree from the index and commit with
//     parents [ours, theirs].
//  7. Conflicts: save merge state, apply, return *ConflictError. The
//     branch does not move.
func (r *Repo) Merge(ctx context.Context, opts MergeOptions) (*MergeResult, error) {
	lock, err := r.lockIndex()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	defer lock.unlock()

	// 1.
	if r.mergeInProgress() {
		return nil, fmt.Errorf("merge: %w", ErrMergeInProgress)
	}
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if stg.HasConflicts() {
		return nil, fmt.Errorf("merge: %w", ErrUnresolvedConflicts)
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	ff := opts.FF
	if ff == "" {
		if ff, err = cfg.FastForward(); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	}
	author := opts.Author
	if author == "" {
		author = cfg.Author()
	}
	var engineOpts []merge.Option
	if cfg.Merge.ConflictMarkerSize > 0 {
		engineOpts = append(engineOpts, merge.WithMarkerSize(cfg.Merge.ConflictMarkerSize))
	}

	// 2.
	ours, err := r.headCommit()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	theirs, err := r.ResolveRef(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("merge: %s - not something we can merge: %w", opts.Target, err)
	}
	if _, err := r.Store.ReadCommit(theirs); err != nil {
		return nil, fmt.Errorf("merge: %s: %w", opts.Target, err)
	}
	log := r.log().With(zap.String("target", opts.Target))
	result := &MergeResult{Ours: ours, Theirs: theirs}

	headFiles, err := r.headFiles()
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	var base *BaseResolution
	if ours.IsZero() {
		// Unborn branch: the merge can only adopt theirs.
		base = &BaseResolution{Kind: BaseFastForward}
	} else if base, err = r.ResolveMergeBase(ctx, ours, theirs, opts.AllowUnrelated, engineOpts...); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	result.Bases = base.Bases

	// 3.
	switch {
	case base.Kind == BaseUpToDate:
		log.Debug("already up to date")
		result.Kind = MergeUpToDate
		result.Commit = ours
		return result, nil

	case base.Kind == BaseFastForward && (ff != FFNever || ours.IsZero()):
		if err := r.fastForward(ours, theirs, opts.Target, stg, headFiles); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		log.Debug("fast-forwarded", zap.String("to", theirs.Short()))
		result.Kind = MergeFastForward
		result.Commit = theirs
		return result, nil

	case base.Kind == BaseFastForward:
		// --no-ff: a real merge whose base is ours.
		tree, err := r.treeOf(ours)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		base = &BaseResolution{Kind: BaseTree, Bases: base.Bases, Tree: tree}

	case ff == FFOnly:
		return nil, fmt.Errorf("merge: %w", ErrNotFastForward)
	}

	// 4.
	oursTree, err := r.commitTree(ours)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	theirsTree, err := r.commitTree(theirs)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	engine := merge.NewEngine(r.Store, append([]merge.Option{merge.WithLogger(r.log())}, engineOpts...)...)
	res, err := engine.Merge(ctx, merge.Input{
		Base:        base.Tree,
		Ours:        oursTree,
		Theirs:      theirsTree,
		OursLabel:   "HEAD",
		TheirsLabel: opts.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	result.AutoMerged = res.AutoMerged
	result.Conflicts = res.Conflicts
	plan := planFromResult(res, stg, headFiles)

	// 5.
	if err := r.validatePlan(plan, stg, headFiles, true); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	message := opts.Message
	if message == "" {
		message = defaultMergeMessage(opts.Target, theirs)
	}

	// 7.
	if !res.Clean() {
		preserved, err := r.untrackedKept(plan, stg, headFiles)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		st := &MergeState{
			Ours:       ours,
			Theirs:     theirs,
			TheirsName: opts.Target,
			Bases:      base.Bases,
			Touched:    plan.touched(),
			Message:    message,
			Preserved:  preserved,
		}
		for _, c := range res.Conflicts {
			st.Conflicts = append(st.Conflicts, MergeStateConflict{Path: c.Path, Kind: c.Kind, Sidecar: c.Sidecar})
		}
		if err := r.stopOnConflicts(st, plan); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		log.Debug("merge stopped on conflicts", zap.Int("conflicts", len(res.Conflicts)))
		result.Kind = MergeConflicted
		return result, &ConflictError{Conflicts: res.Conflicts}
	}

	// 6.
	if _, err := r.applyPlan(plan); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	tree, err := r.BuildTree(plan.index)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	commit, err := r.writeCommit(tree, []object.Hash{ours, theirs}, message, author, moveMergeCommit(opts.Target))
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	log.Debug("merge committed", zap.String("commit", commit.Short()))
	result.Kind = MergeCommitted
	result.Commit = commit
	return result, nil
}

// stopOnConflicts records st and applies the conflicted plan. If the
// apply fails the pre-merge working tree and index are put back and the
// state is cleared, leaving no merge pending. A failed rollback keeps the
// state so a later abort can finish the job.
func (r *Repo) stopOnConflicts(st *MergeState, plan *worktreePlan) error {
	origIndex, err := r.snapshotIndex()
	if err != nil {
		return err
	}
	if err := r.saveMergeState(st, origIndex); err != nil {
		return multierror.Append(err, r.clearMergeState()).ErrorOrNil()
	}
	if _, err := r.applyPlan(plan); err != nil {
		if rbErr := r.restorePreMerge(st, origIndex); rbErr != nil {
			return multierror.Append(err, fmt.Errorf("roll back: %w", rbErr))
		}
		r.log().Debug("rolled back conflicted merge", zap.Error(err))
		return err
	}
	return nil
}

// fastForward moves the working tree, index and current branch from ours
// to theirs through the same validate-then-apply pass as a merge.
func (r *Repo) fastForward(ours, theirs object.Hash, target string, stg *Staging, headFiles map[string]object.FlatEntry) error {
	theirsTree, err := r.commitTree(theirs)
	if err != nil {
		return err
	}
	theirsFiles, err := r.FlattenTree(theirsTree)
	if err != nil {
		return err
	}
	plan := planBetween(stg, headFiles, theirsFiles)
	if err := r.validatePlan(plan, stg, headFiles, false); err != nil {
		return err
	}
	if _, err := r.applyPlan(plan); err != nil {
		return err
	}
	return r.advanceHead(theirs, ours, moveFastForward(target))
}
