package repo

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreChecker determines if a path should be ignored.
type IgnoreChecker struct {
	rules *ignore.GitIgnore
}

// NewIgnoreChecker creates an IgnoreChecker for the given repository root.
// It always ignores .got/ and .git/. If a .gotignore file exists in repoRoot,
// its patterns are applied on top.
func NewIgnoreChecker(repoRoot string) *IgnoreChecker {
	var lines []string
	data, err := os.ReadFile(filepath.Join(repoRoot, ".gotignore"))
	if err == nil {
		lines = strings.Split(string(data), "\n")
	}
	return &IgnoreChecker{rules: ignore.CompileIgnoreLines(lines...)}
}

// IsIgnored checks whether a repo-relative, forward-slash path is ignored.
// Directory-only patterns ("build/") match a directory when the caller
// passes it with a trailing slash, and always match anything below it.
func (ic *IgnoreChecker) IsIgnored(path string) bool {
	path = filepath.ToSlash(path)
	first, _, _ := strings.Cut(path, "/")
	if first == ".got" || first == ".git" {
		return true
	}
	if ic == nil || ic.rules == nil {
		return false
	}
	return ic.rules.MatchesPath(path)
}
