package repo

import (
	"fmt"
	"os"
	"path/filepath"
)

// indexLock is the exclusive .got/index.lock held by every command that
// rewrites the index or moves HEAD, for the command's whole duration.
type indexLock struct {
	path string
	file *os.File
}

func (r *Repo) lockIndex() (*indexLock, error) {
	p := filepath.Join(r.GotDir, "index.lock")
	f, err := acquireLock(p)
	if err != nil {
		return nil, fmt.Errorf("lock index: %w (another got process may be running)", err)
	}
	return &indexLock{path: p, file: f}, nil
}

func (l *indexLock) unlock() {
	_ = l.file.Close()
	_ = os.Remove(l.path)
}
