package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/gotmerge/pkg/object"
)

// RefMove says why a ref moved. It is written to the reflog as
// "<op>: <detail>", or just "<op>" when there is no detail.
type RefMove struct {
	Op     string
	Detail string
}

func (m RefMove) String() string {
	if m.Detail == "" {
		return m.Op
	}
	return m.Op + ": " + m.Detail
}

func parseRefMove(s string) RefMove {
	op, detail, _ := strings.Cut(s, ": ")
	return RefMove{Op: op, Detail: detail}
}

var moveUpdate = RefMove{Op: "update"}

func moveCommit(message string, root bool) RefMove {
	if root {
		return RefMove{Op: "commit (initial)", Detail: firstLine(message)}
	}
	return RefMove{Op: "commit", Detail: firstLine(message)}
}

// moveConcludeMerge records a merge commit made after conflicts were
// resolved by hand.
func moveConcludeMerge(message string) RefMove {
	return RefMove{Op: "commit (merge)", Detail: firstLine(message)}
}

func moveFastForward(target string) RefMove {
	return RefMove{Op: "merge " + target, Detail: "Fast-forward"}
}

func moveMergeCommit(target string) RefMove {
	return RefMove{Op: "merge " + target, Detail: "Merge made by the 'recursive' strategy."}
}

func moveBranchCreate(from object.Hash) RefMove {
	return RefMove{Op: "branch", Detail: "Created from " + from.Short()}
}

// ReflogEntry is one recorded move of a ref.
type ReflogEntry struct {
	Ref     string
	OldHash object.Hash // empty when the ref was created
	NewHash object.Hash
	When    time.Time
	Move    RefMove
}

// A log line is "<old> <new> <unix-seconds> <move>". A missing hash is
// written as all zeros.
var nullHashText = strings.Repeat("0", 64)

func hashText(h object.Hash) string {
	if h.IsZero() {
		return nullHashText
	}
	return string(h)
}

func hashFromText(s string) object.Hash {
	if s == nullHashText {
		return ""
	}
	return object.Hash(s)
}

func (e ReflogEntry) line() string {
	return fmt.Sprintf("%s %s %d %s\n", hashText(e.OldHash), hashText(e.NewHash), e.When.Unix(), e.Move)
}

func parseReflogLine(ref, line string) (ReflogEntry, bool) {
	oldText, rest, ok := strings.Cut(line, " ")
	if !ok {
		return ReflogEntry{}, false
	}
	newText, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return ReflogEntry{}, false
	}
	tsText, move, ok := strings.Cut(rest, " ")
	if !ok {
		return ReflogEntry{}, false
	}
	ts, err := strconv.ParseInt(tsText, 10, 64)
	if err != nil {
		return ReflogEntry{}, false
	}
	return ReflogEntry{
		Ref:     ref,
		OldHash: hashFromText(oldText),
		NewHash: hashFromText(newText),
		When:    time.Unix(ts, 0),
		Move:    parseRefMove(move),
	}, true
}

func (r *Repo) reflogPath(ref string) string {
	return filepath.Join(r.GotDir, "logs", filepath.FromSlash(ref))
}

func (r *Repo) appendReflog(ref string, oldHash, newHash object.Hash, move RefMove) error {
	if move.Op == "" {
		move = moveUpdate
	}
	logPath := r.reflogPath(ref)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	entry := ReflogEntry{Ref: ref, OldHash: oldHash, NewHash: newHash, When: time.Now(), Move: move}
	if _, err := f.WriteString(entry.line()); err != nil {
		f.Close()
		return fmt.Errorf("reflog write: %w", err)
	}
	return f.Close()
}

// ReadReflog returns the log of ref, newest first, at most limit entries
// when limit is positive. An empty ref or "HEAD" reads the branch HEAD
// names; a bare name reads refs/heads/<name>. Malformed lines are skipped.
func (r *Repo) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	name, err := r.reflogRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.reflogPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	var entries []ReflogEntry
	for i := len(lines) - 1; i >= 0; i-- {
		if limit > 0 && len(entries) == limit {
			break
		}
		if e, ok := parseReflogLine(name, string(lines[i])); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *Repo) reflogRef(ref string) (string, error) {
	switch {
	case ref == "" || ref == "HEAD":
		return r.headRefName()
	case strings.HasPrefix(ref, "refs/"):
		return ref, nil
	default:
		return "refs/heads/" + ref, nil
	}
}
