package repo

import (
	"fmt"
	"sync"

	"github.com/odvcencio/gotmerge/pkg/object"
)

type commitPairKey struct {
	left  object.Hash
	right object.Hash
}

func canonicalPairKey(a, b object.Hash) commitPairKey {
	if a <= b {
		return commitPairKey{left: a, right: b}
	}
	return commitPairKey{left: b, right: a}
}

// mergeBaseTraversalState caches commit-graph facts for one repository:
// parsed commits (virtual ones included), generation numbers, ancestor
// answers and merge-base sets. Virtual commits live only here.
type mergeBaseTraversalState struct {
	mu sync.RWMutex

	commits     map[object.Hash]*object.CommitObj
	virtual     map[object.Hash]bool
	generations map[object.Hash]uint64
	ancestors   map[commitPairKey]bool // ordered: left is ancestor of right
	mergeBases  map[commitPairKey][]object.Hash
	virtualOf   map[commitPairKey]object.Hash
}

func newMergeBaseTraversalState() *mergeBaseTraversalState {
	return &mergeBaseTraversalState{
		commits:     make(map[object.Hash]*object.CommitObj),
		virtual:     make(map[object.Hash]bool),
		generations: make(map[object.Hash]uint64),
		ancestors:   make(map[commitPairKey]bool),
		mergeBases:  make(map[commitPairKey][]object.Hash),
		virtualOf:   make(map[commitPairKey]object.Hash),
	}
}

func (s *mergeBaseTraversalState) loadMergeBases(a, b object.Hash) ([]object.Hash, bool) {
	s.mu.RLock()
	bases, ok := s.mergeBases[canonicalPairKey(a, b)]
	s.mu.RUnlock()
	return bases, ok
}

func (s *mergeBaseTraversalState) storeMergeBases(a, b object.Hash, bases []object.Hash) {
	s.mu.Lock()
	s.mergeBases[canonicalPairKey(a, b)] = bases
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) loadAncestor(ancestor, descendant object.Hash) (bool, bool) {
	s.mu.RLock()
	v, ok := s.ancestors[commitPairKey{left: ancestor, right: descendant}]
	s.mu.RUnlock()
	return v, ok
}

func (s *mergeBaseTraversalState) storeAncestor(ancestor, descendant object.Hash, v bool) {
	s.mu.Lock()
	s.ancestors[commitPairKey{left: ancestor, right: descendant}] = v
	s.mu.Unlock()
}

// storeVirtual registers a synthesized merge commit of a and b.
func (s *mergeBaseTraversalState) storeVirtual(a, b, h object.Hash, c *object.CommitObj) {
	s.mu.Lock()
	s.commits[h] = c
	s.virtual[h] = true
	s.virtualOf[commitPairKey{left: a, right: b}] = h
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) loadVirtual(a, b object.Hash) (object.Hash, bool) {
	s.mu.RLock()
	h, ok := s.virtualOf[commitPairKey{left: a, right: b}]
	s.mu.RUnlock()
	return h, ok
}

func (s *mergeBaseTraversalState) isVirtual(h object.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.virtual[h]
}

func (s *mergeBaseTraversalState) readCommit(r *Repo, h object.Hash) (*object.CommitObj, error) {
	s.mu.RLock()
	cached, ok := s.commits[h]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("find merge base: read commit %s: %w", h, err)
	}

	s.mu.Lock()
	if existing, exists := s.commits[h]; exists {
		s.mu.Unlock()
		return existing, nil
	}
	s.commits[h] = commit
	s.mu.Unlock()
	return commit, nil
}

func (s *mergeBaseTraversalState) loadGeneration(h object.Hash) (uint64, bool) {
	s.mu.RLock()
	g, ok := s.generations[h]
	s.mu.RUnlock()
	return g, ok
}

func (s *mergeBaseTraversalState) storeGeneration(h object.Hash, g uint64) {
	s.mu.Lock()
	s.generations[h] = g
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) generationCacheSize() int {
	s.mu.RLock()
	n := len(s.generations)
	s.mu.RUnlock()
	return n
}

type generationFrame struct {
	hash     object.Hash
	expanded bool
}

// generation returns 1 + the largest parent generation (roots are 1). The
// walk uses an explicit stack so deep histories cannot exhaust the
// goroutine stack.
func (s *mergeBaseTraversalState) generation(r *Repo, h object.Hash) (uint64, error) {
	if h == "" {
		return 0, nil
	}
	if g, ok := s.loadGeneration(h); ok {
		return g, nil
	}

	maxSteps, _ := mergeBaseTraversalLimits()
	stack := []generationFrame{{hash: h}}
	onPath := make(map[object.Hash]bool)
	steps := 0

	for len(stack) > 0 {
		steps++
		if steps > maxSteps {
			return 0, mergeBaseStepsLimitError(maxSteps)
		}
		top := len(stack) - 1
		cur := stack[top].hash
		if _, ok := s.loadGeneration(cur); ok {
			stack = stack[:top]
			continue
		}
		commit, err := s.readCommit(r, cur)
		if err != nil {
			return 0, err
		}

		if !stack[top].expanded {
			stack[top].expanded = true
			onPath[cur] = true
			for _, p := range commit.Parents {
				if p == "" {
					continue
				}
				if _, ok := s.loadGeneration(p); ok {
					continue
				}
				if onPath[p] {
					return 0, fmt.Errorf("find merge base: commit graph cycle detected at %s", p)
				}
				stack = append(stack, generationFrame{hash: p})
			}
			continue
		}

		var maxParent uint64
		for _, p := range commit.Parents {
			pg, ok := s.loadGeneration(p)
			if !ok && p != "" {
				return 0, fmt.Errorf("find merge base: generation of %s unresolved", p)
			}
			if pg > maxParent {
				maxParent = pg
			}
		}
		s.storeGeneration(cur, maxParent+1)
		delete(onPath, cur)
		stack = stack[:top]
	}

	g, _ := s.loadGeneration(h)
	return g, nil
}
