package repo

import (
	"fmt"
	"sort"

	"github.com/odvcencio/gotmerge/pkg/object"
)

const (
	maxMergeBaseSteps = 1_000_000
	maxMergeBaseDepth = 1_000_000
)

// These vars allow tests to tighten safety limits without affecting
// production defaults.
var (
	mergeBaseStepsLimit = maxMergeBaseSteps
	mergeBaseDepthLimit = maxMergeBaseDepth
)

func mergeBaseTraversalLimits() (maxSteps int, maxDepth int) {
	maxSteps = normalizeMergeBaseTraversalLimit(mergeBaseStepsLimit, maxMergeBaseSteps)
	maxDepth = normalizeMergeBaseTraversalLimit(mergeBaseDepthLimit, maxMergeBaseDepth)
	return maxSteps, maxDepth
}

func normalizeMergeBaseTraversalLimit(limit, hardMax int) int {
	// Test hooks may only tighten the hard bounds.
	if limit <= 0 || limit > hardMax {
		return hardMax
	}
	return limit
}

func mergeBaseStepsLimitError(limit int) error {
	return fmt.Errorf("find merge base: traversal exceeded maximum steps (%d)", limit)
}

func mergeBaseDepthLimitError(limit int) error {
	return fmt.Errorf("find merge base: traversal exceeded maximum depth (%d)", limit)
}

// Paint flags for the merge-base walk.
const (
	paintParent1 uint8 = 1 << iota
	paintParent2
	paintStale
	paintResult
)

// MergeBases returns every best common ancestor of a and b: common
// ancestors that are not ancestors of another common ancestor. The result
// is ordered oldest first (by generation, then hash) and is empty for
// unrelated histories.
func (r *Repo) MergeBases(a, b object.Hash) ([]object.Hash, error) {
	if a == "" || b == "" {
		return nil, nil
	}
	if a == b {
		return []object.Hash{a}, nil
	}

	state := r.getMergeTraversalState()
	if cached, ok := state.loadMergeBases(a, b); ok {
		return cached, nil
	}

	candidates, err := r.paintDownToCommon(state, a, b)
	if err != nil {
		return nil, err
	}
	bases, err := r.removeRedundant(state, candidates)
	if err != nil {
		return nil, err
	}
	state.storeMergeBases(a, b, bases)
	return bases, nil
}

// paintDownToCommon walks both histories newest-generation first, painting
// each commit with the side(s) it is reachable from. A commit reached from
// both sides is a candidate, and everything below it is painted stale. The
// walk ends when only stale commits remain queued.
func (r *Repo) paintDownToCommon(state *mergeBaseTraversalState, a, b object.Hash) ([]object.Hash, error) {
	maxSteps, _ := mergeBaseTraversalLimits()

	genA, err := state.generation(r, a)
	if err != nil {
		return nil, err
	}
	genB, err := state.generation(r, b)
	if err != nil {
		return nil, err
	}

	q := newPaintQueue()
	q.paint(a, paintParent1)
	q.paint(b, paintParent2)
	q.push(a, genA)
	q.push(b, genB)

	var result []object.Hash
	steps := 0
	for q.live > 0 {
		steps++
		if steps > maxSteps {
			return nil, mergeBaseStepsLimitError(maxSteps)
		}
		item := q.pop()
		f := q.flags[item.hash] & (paintParent1 | paintParent2 | paintStale)
		if f == paintParent1|paintParent2 {
			if q.flags[item.hash]&paintResult == 0 {
				q.paint(item.hash, paintResult)
				result = append(result, item.hash)
			}
			f |= paintStale
		}

		commit, err := state.readCommit(r, item.hash)
		if err != nil {
			return nil, err
		}
		for _, p := range commit.Parents {
			if p == "" || q.flags[p]&f == f {
				continue
			}
			q.paint(p, f)
			pg, err := state.generation(r, p)
			if err != nil {
				return nil, err
			}
			q.push(p, pg)
		}
	}

	// A candidate later painted stale sits below another candidate.
	var out []object.Hash
	for _, h := range result {
		if !q.stale(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

// removeRedundant drops every candidate that is an ancestor of another
// candidate and orders the rest oldest first.
func (r *Repo) removeRedundant(state *mergeBaseTraversalState, candidates []object.Hash) ([]object.Hash, error) {
	gens := make(map[object.Hash]uint64, len(candidates))
	for _, c := range candidates {
		g, err := state.generation(r, c)
		if err != nil {
			return nil, err
		}
		gens[c] = g
	}

	var out []object.Hash
	for i, c := range candidates {
		redundant := false
		for j, other := range candidates {
			if i == j || c == other {
				continue
			}
			anc, err := r.isAncestor(state, c, other)
			if err != nil {
				return nil, err
			}
			if anc {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if gens[out[i]] != gens[out[j]] {
			return gens[out[i]] < gens[out[j]]
		}
		return out[i] < out[j]
	})
	return out, nil
}

// IsAncestor reports whether ancestor is reachable from descendant by
// following parent links. A commit is its own ancestor.
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	return r.isAncestor(r.getMergeTraversalState(), ancestor, descendant)
}

type ancestorQueueItem struct {
	hash  object.Hash
	depth int
}

func (r *Repo) isAncestor(state *mergeBaseTraversalState, ancestor, descendant object.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if ancestor == "" || descendant == "" {
		return false, nil
	}
	if v, ok := state.loadAncestor(ancestor, descendant); ok {
		return v, nil
	}

	ancestorGeneration, err := state.generation(r, ancestor)
	if err != nil {
		return false, err
	}
	descendantGeneration, err := state.generation(r, descendant)
	if err != nil {
		return false, err
	}
	if ancestorGeneration >= descendantGeneration {
		state.storeAncestor(ancestor, descendant, false)
		return false, nil
	}

	maxSteps, maxDepth := mergeBaseTraversalLimits()
	visited := map[object.Hash]struct{}{descendant: {}}
	queue := []ancestorQueueItem{{hash: descendant}}
	steps := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			return false, mergeBaseStepsLimitError(maxSteps)
		}
		if item.hash == ancestor {
			state.storeAncestor(ancestor, descendant, true)
			return true, nil
		}

		commit, err := state.readCommit(r, item.hash)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			pg, err := state.generation(r, p)
			if err != nil {
				return false, err
			}
			// Generations strictly decrease along parent links, so
			// nothing below the ancestor's generation can reach it.
			if pg < ancestorGeneration {
				continue
			}
			if item.depth+1 > maxDepth {
				return false, mergeBaseDepthLimitError(maxDepth)
			}
			visited[p] = struct{}{}
			queue = append(queue, ancestorQueueItem{hash: p, depth: item.depth + 1})
		}
	}

	state.storeAncestor(ancestor, descendant, false)
	return false, nil
}
