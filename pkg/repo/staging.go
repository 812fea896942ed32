package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// IndexEntry is the index record for one path: either a *ResolvedEntry
// (stage 0) or a *ConflictEntry (stages 1 to 3). The two never coexist
// for the same path.
type IndexEntry interface {
	isIndexEntry()
}

// ResolvedEntry is a normal stage-0 index entry. ModTime and Size are the
// working file's stat data when it was last staged.
type ResolvedEntry struct {
	Path    string
	Mode    string
	Hash    object.Hash
	ModTime int64
	Size    int64
}

// StageEntry is one side of a conflicted path. Mode may be a directory
// mode when the conflict is between a file and a directory.
type StageEntry struct {
	Mode string
	Hash object.Hash
}

// ConflictEntry holds the stage 1 (base), 2 (ours) and 3 (theirs)
// entries of an unresolved path. At least one is present.
type ConflictEntry struct {
	Path   string
	Base   *StageEntry
	Ours   *StageEntry
	Theirs *StageEntry
}

func (*ResolvedEntry) isIndexEntry() {}
func (*ConflictEntry) isIndexEntry() {}

// Staging holds the full staging area (index) for a Got repository.
type Staging struct {
	Entries map[string]IndexEntry
}

func newStaging() *Staging {
	return &Staging{Entries: make(map[string]IndexEntry)}
}

// Resolved returns the stage-0 entry at path.
func (s *Staging) Resolved(path string) (*ResolvedEntry, bool) {
	e, ok := s.Entries[path].(*ResolvedEntry)
	return e, ok
}

// Conflicts returns the conflicted paths in sorted order.
func (s *Staging) Conflicts() []string {
	var out []string
	for p, e := range s.Entries {
		if _, ok := e.(*ConflictEntry); ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// HasConflicts reports whether any path is unresolved.
func (s *Staging) HasConflicts() bool {
	for _, e := range s.Entries {
		if _, ok := e.(*ConflictEntry); ok {
			return true
		}
	}
	return false
}

// Files returns the resolved entries as flat tree entries.
func (s *Staging) Files() map[string]object.FlatEntry {
	out := make(map[string]object.FlatEntry, len(s.Entries))
	for p, e := range s.Entries {
		if re, ok := e.(*ResolvedEntry); ok {
			out[p] = object.FlatEntry{Path: p, Mode: normalizeFileMode(re.Mode), Hash: re.Hash}
		}
	}
	return out
}

// clearAround drops every entry that contends with a file at p: entries
// at any parent directory of p, entries below p, and a conflict at p
// itself. Staging p settles the file/directory contention around it.
func (s *Staging) clearAround(p string) {
	for other, e := range s.Entries {
		if other == p {
			if _, conflicted := e.(*ConflictEntry); conflicted {
				delete(s.Entries, other)
			}
			continue
		}
		if strings.HasPrefix(p, other+"/") || strings.HasPrefix(other, p+"/") {
			delete(s.Entries, other)
		}
	}
}

// under returns the index paths at or below dir; every path when dir is
// the root.
func (s *Staging) under(dir string) []string {
	var out []string
	for p := range s.Entries {
		if dir == "" || p == dir || strings.HasPrefix(p, dir+"/") {
			out = append(out, p)
		}
	}
	return out
}

// indexRecord is the on-disk form of one stage of one path.
type indexRecord struct {
	Path    string      `json:"path"`
	Stage   int         `json:"stage"`
	Mode    string      `json:"mode"`
	Hash    object.Hash `json:"hash"`
	ModTime int64       `json:"mod_time,omitempty"`
	Size    int64       `json:"size,omitempty"`
}

type indexFile struct {
	Version int           `json:"version"`
	Entries []indexRecord `json:"entries"`
}

const indexVersion = 1

// indexPath returns the filesystem path to the staging index file.
func (r *Repo) indexPath() string {
	return filepath.Join(r.GotDir, "index")
}

// ReadStaging loads the staging area from .got/index. If the file does not
// exist, an empty Staging is returned (no error).
func (r *Repo) ReadStaging() (*Staging, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newStaging(), nil
		}
		return nil, fmt.Errorf("read staging: %w", err)
	}
	stg, err := decodeStaging(data)
	if err != nil {
		return nil, fmt.Errorf("read staging: %w", err)
	}
	return stg, nil
}

func decodeStaging(data []byte) (*Staging, error) {
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if f.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", f.Version)
	}

	stg := newStaging()
	for _, rec := range f.Entries {
		if rec.Path == "" {
			return nil, fmt.Errorf("entry with empty path")
		}
		existing := stg.Entries[rec.Path]
		switch rec.Stage {
		case 0:
			if existing != nil {
				return nil, fmt.Errorf("path %q: stage 0 entry alongside other entries", rec.Path)
			}
			stg.Entries[rec.Path] = &ResolvedEntry{
				Path: rec.Path, Mode: rec.Mode, Hash: rec.Hash, ModTime: rec.ModTime, Size: rec.Size,
			}
		case 1, 2, 3:
			ce, ok := existing.(*ConflictEntry)
			if existing != nil && !ok {
				return nil, fmt.Errorf("path %q: stage %d entry alongside stage 0", rec.Path, rec.Stage)
			}
			if ce == nil {
				ce = &ConflictEntry{Path: rec.Path}
				stg.Entries[rec.Path] = ce
			}
			slot := ce.stage(rec.Stage)
			if *slot != nil {
				return nil, fmt.Errorf("path %q: duplicate stage %d", rec.Path, rec.Stage)
			}
			*slot = &StageEntry{Mode: rec.Mode, Hash: rec.Hash}
		default:
			return nil, fmt.Errorf("path %q: invalid stage %d", rec.Path, rec.Stage)
		}
	}
	return stg, nil
}

func (c *ConflictEntry) stage(n int) **StageEntry {
	switch n {
	case 1:
		return &c.Base
	case 2:
		return &c.Ours
	default:
		return &c.Theirs
	}
}

func encodeStaging(s *Staging) ([]byte, error) {
	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	f := indexFile{Version: indexVersion, Entries: make([]indexRecord, 0, len(paths))}
	for _, p := range paths {
		switch e := s.Entries[p].(type) {
		case *ResolvedEntry:
			f.Entries = append(f.Entries, indexRecord{
				Path: p, Stage: 0, Mode: normalizeFileMode(e.Mode), Hash: e.Hash, ModTime: e.ModTime, Size: e.Size,
			})
		case *ConflictEntry:
			n := 0
			for stage := 1; stage <= 3; stage++ {
				se := *e.stage(stage)
				if se == nil {
					continue
				}
				n++
				f.Entries = append(f.Entries, indexRecord{Path: p, Stage: stage, Mode: se.Mode, Hash: se.Hash})
			}
			if n == 0 {
				return nil, fmt.Errorf("path %q: conflict entry with no stages", p)
			}
		default:
			return nil, fmt.Errorf("path %q: unknown index entry %T", p, e)
		}
	}
	return json.MarshalIndent(f, "", "  ")
}

// WriteStaging atomically writes the staging area to .got/index.
func (r *Repo) WriteStaging(s *Staging) error {
	data, err := encodeStaging(s)
	if err != nil {
		return fmt.Errorf("write staging: marshal: %w", err)
	}
	if err := writeFileAtomic(r.GotDir, r.indexPath(), ".index-tmp-*", data); err != nil {
		return fmt.Errorf("write staging: %w", err)
	}
	return nil
}

// Add stages the given paths. Each path is resolved relative to the repo
// root; directories are walked, skipping ignored paths. For each file:
//  1. The raw content is written as a blob to the object store.
//  2. A stage-0 entry replaces whatever the index held at that path,
//     resolving any conflict there and at its parents and children.
//
// A tracked path missing from disk is removed from the index.
func (r *Repo) Add(paths []string) error {
	lock, err := r.lockIndex()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	defer lock.unlock()

	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	ic := NewIgnoreChecker(r.RootDir)

	for _, p := range paths {
		relPath, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("add: resolve path %q: %w", p, err)
		}
		if err := r.addPath(stg, ic, relPath); err != nil {
			return fmt.Errorf("add: %w", err)
		}
	}

	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

// addPath stages the file at relPath, or every file below it when it is a
// directory. Index entries at or below relPath with no file left on disk
// are dropped.
func (r *Repo) addPath(stg *Staging, ic *IgnoreChecker, relPath string) error {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	info, err := os.Lstat(absPath)
	if err != nil {
		if !isNotExist(err) {
			return fmt.Errorf("stat %q: %w", relPath, err)
		}
		gone := stg.under(relPath)
		if len(gone) == 0 {
			return fmt.Errorf("pathspec %q did not match any files", relPath)
		}
		for _, p := range gone {
			delete(stg.Entries, p)
		}
		return nil
	}
	if !info.IsDir() {
		return r.stageFile(stg, relPath, info)
	}

	staged := make(map[string]bool)
	err = filepath.WalkDir(absPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if ic.IsIgnored(rel) || ic.IsIgnored(rel+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if ic.IsIgnored(rel) || !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		staged[rel] = true
		return r.stageFile(stg, rel, fi)
	})
	if err != nil {
		return err
	}

	for _, p := range stg.under(relPath) {
		if staged[p] {
			continue
		}
		info, exists, err := r.pathExists(p)
		if err != nil {
			return err
		}
		if !exists || !info.Mode().IsRegular() {
			delete(stg.Entries, p)
		}
	}
	return nil
}

func (r *Repo) stageFile(stg *Staging, relPath string, info os.FileInfo) error {
	absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %q: %w", relPath, err)
	}
	blobHash, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return fmt.Errorf("write blob %q: %w", relPath, err)
	}
	stg.clearAround(relPath)
	stg.Entries[relPath] = &ResolvedEntry{
		Path:    relPath,
		Mode:    modeFromFileInfo(info),
		Hash:    blobHash,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}
	return nil
}

// repoRelPath converts a path (absolute, or relative to CWD) into a path
// relative to the repository root. If the path is already relative and does
// not start with the repo root, it is assumed to already be repo-relative.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return cleanRel(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return cleanRel(p), nil
	}
	rel, err := filepath.Rel(r.RootDir, filepath.Join(cwd, p))
	if err != nil || strings.HasPrefix(rel, "..") {
		return cleanRel(p), nil
	}
	return cleanRel(rel), nil
}

func cleanRel(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." {
		return ""
	}
	return p
}
