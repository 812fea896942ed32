package object

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// FlatEntry is a file in a flattened tree, addressed by its full
// forward-slash path.
type FlatEntry struct {
	Path string
	Mode string
	Hash Hash
}

// FlattenTree walks a tree object recursively, returning every blob entry
// keyed by its full path.
func FlattenTree(r Reader, h Hash) (map[string]FlatEntry, error) {
	out := make(map[string]FlatEntry)
	if h.IsZero() || h == EmptyTreeHash {
		return out, nil
	}
	if err := flattenTreeRec(r, h, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenTreeRec(r Reader, h Hash, prefix string, out map[string]FlatEntry) error {
	treeObj, err := r.ReadTree(h)
	if err != nil {
		return fmt.Errorf("flatten tree: read %s: %w", h, err)
	}
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}
		if entry.IsDir() {
			if err := flattenTreeRec(r, entry.Hash, fullPath, out); err != nil {
				return err
			}
			continue
		}
		out[fullPath] = FlatEntry{Path: fullPath, Mode: entry.Mode, Hash: entry.Hash}
	}
	return nil
}

// BuildTree converts flat file entries into a hierarchy of tree objects,
// writing each to w and returning the root hash. A path that is both a
// file and a directory prefix of another path is rejected.
func BuildTree(w Writer, files map[string]FlatEntry) (Hash, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return buildTreeDir(w, files, paths, "")
}

// buildTreeDir builds the TreeObj for one directory prefix. paths is the
// sorted subset of file paths that live under prefix.
func buildTreeDir(w Writer, files map[string]FlatEntry, paths []string, prefix string) (Hash, error) {
	direct := make(map[string]FlatEntry)
	subdirs := make(map[string][]string)
	var order []string

	for _, p := range paths {
		rel := p
		if prefix != "" {
			rel = p[len(prefix)+1:]
		}
		name, _, nested := strings.Cut(rel, "/")
		if !nested {
			direct[name] = files[p]
			order = append(order, name)
			continue
		}
		if _, seen := subdirs[name]; !seen {
			order = append(order, name)
		}
		subdirs[name] = append(subdirs[name], p)
	}

	entries := make([]TreeEntry, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		if fe, isFile := direct[name]; isFile {
			if _, alsoDir := subdirs[name]; alsoDir {
				return "", fmt.Errorf("build tree: %q is both a file and a directory", childPrefix)
			}
			mode := fe.Mode
			if mode == "" {
				mode = TreeModeFile
			}
			entries = append(entries, TreeEntry{Name: name, Mode: mode, Hash: fe.Hash})
			continue
		}
		subHash, err := buildTreeDir(w, files, subdirs[name], childPrefix)
		if err != nil {
			return "", err
		}
		entries = append(entries, TreeEntry{Name: name, Mode: TreeModeDir, Hash: subHash})
	}

	h, err := w.WriteTree(&TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// EntryAtPath resolves a slash-separated path inside a tree. Directory
// entries are returned as well as blobs.
func EntryAtPath(r Reader, treeHash Hash, relPath string) (TreeEntry, bool, error) {
	if treeHash.IsZero() || relPath == "" {
		return TreeEntry{}, false, nil
	}
	parts := strings.Split(relPath, "/")
	current := treeHash
	for i, part := range parts {
		treeObj, err := r.ReadTree(current)
		if err != nil {
			return TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current, err)
		}
		entry, found := treeObj.Lookup(part)
		if !found {
			return TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			return entry, true, nil
		}
		if !entry.IsDir() {
			return TreeEntry{}, false, nil
		}
		current = entry.Hash
	}
	return TreeEntry{}, false, nil
}
