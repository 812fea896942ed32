package repo

import (
	"sync"

	"go.uber.org/zap"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// Repo represents an opened Got repository. Every operation takes the
// repository it acts on explicitly; nothing is kept in package state.
type Repo struct {
	RootDir string        // working directory root
	GotDir  string        // .got/ directory
	Store   *object.Store // content-addressed object store

	// Logger receives debug-level traces of merge decisions. Nil means
	// no logging.
	Logger *zap.Logger

	mergeTraversalStateOnce sync.Once
	mergeTraversalState     *mergeBaseTraversalState
}

func (r *Repo) getMergeTraversalState() *mergeBaseTraversalState {
	r.mergeTraversalStateOnce.Do(func() {
		r.mergeTraversalState = newMergeBaseTraversalState()
	})
	return r.mergeTraversalState
}

func (r *Repo) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func newRepo(root, gotDir string) *Repo {
	return &Repo{
		RootDir: root,
		GotDir:  gotDir,
		Store:   object.NewStore(gotDir),
	}
}
