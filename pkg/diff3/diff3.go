package diff3

import (
	"bytes"
	"strings"
)

// DefaultMarkerSize is the width of conflict marker runs.
const DefaultMarkerSize = 7

// HunkType classifies a hunk in a three-way merge result.
type HunkType int

const (
	HunkClean    HunkType = iota // Hunk was merged cleanly.
	HunkConflict                 // Hunk has a conflict that requires manual resolution.
)

// Hunk represents a contiguous section of the merge output.
type Hunk struct {
	Type                       HunkType
	Base, Ours, Theirs, Merged []byte
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // Full merged content, with conflict markers if conflicts exist.
	HasConflicts bool
	Conflicts    int    // Number of conflict hunks.
	Hunks        []Hunk // Individual hunks in document order.
}

// Options control how conflict hunks are rendered.
type Options struct {
	OursLabel   string
	TheirsLabel string
	MarkerSize  int // DefaultMarkerSize when <= 0
}

// Merge performs a three-way merge of base, ours, and theirs with the
// labels "ours" and "theirs".
func Merge(base, ours, theirs []byte) Result {
	return MergeWithOptions(base, ours, theirs, Options{OursLabel: "ours", TheirsLabel: "theirs"})
}

// MergeWithOptions performs a three-way merge of base, ours, and theirs.
//
// Algorithm:
//  1. Split all three inputs into lines, keeping line terminators.
//  2. Match base lines against ours and against theirs with Myers diffs.
//  3. Walk the base: runs of lines matched on both sides are stable and
//     copied through; the region up to the next line matched on both
//     sides is an unstable chunk.
//  4. An unstable chunk changed on one side takes that side; identical
//     changes on both sides are taken once; anything else is a conflict.
func MergeWithOptions(base, ours, theirs []byte, opts Options) Result {
	o := splitLines(base)
	a := splitLines(ours)
	b := splitLines(theirs)

	matchA := matchLines(o, a)
	matchB := matchLines(o, b)

	m := merger{opts: opts}
	lo, la, lb := 0, 0, 0
	for {
		// Stable run: base lines matched to the next line on both sides.
		i := 0
		for lo+i < len(o) && matchA[lo+i] == la+i && matchB[lo+i] == lb+i {
			i++
		}
		if i > 0 {
			m.stable(o[lo : lo+i])
			lo, la, lb = lo+i, la+i, lb+i
			continue
		}

		// Next anchor: first base line at or after lo matched on both sides.
		next := -1
		for j := lo; j < len(o); j++ {
			if matchA[j] >= 0 && matchB[j] >= 0 {
				next = j
				break
			}
		}
		if next < 0 {
			if lo < len(o) || la < len(a) || lb < len(b) {
				m.unstable(o[lo:], a[la:], b[lb:])
			}
			break
		}
		m.unstable(o[lo:next], a[la:matchA[next]], b[lb:matchB[next]])
		lo, la, lb = next, matchA[next], matchB[next]
	}
	return m.result()
}

type merger struct {
	opts      Options
	out       bytes.Buffer
	hunks     []Hunk
	conflicts int
}

func (m *merger) stable(lines []string) {
	text := joinLines(lines)
	m.out.Write(text)
	m.hunks = append(m.hunks, Hunk{Type: HunkClean, Base: text, Ours: text, Theirs: text, Merged: text})
}

func (m *merger) unstable(o, a, b []string) {
	h := Hunk{Base: joinLines(o), Ours: joinLines(a), Theirs: joinLines(b)}
	switch {
	case linesEqual(a, o):
		h.Merged = h.Theirs
	case linesEqual(b, o):
		h.Merged = h.Ours
	case linesEqual(a, b):
		h.Merged = h.Ours
	default:
		h.Type = HunkConflict
		h.Merged = m.conflictText(h.Ours, h.Theirs)
		m.conflicts++
	}
	m.out.Write(h.Merged)
	m.hunks = append(m.hunks, h)
}

func (m *merger) conflictText(ours, theirs []byte) []byte {
	size := m.opts.MarkerSize
	if size <= 0 {
		size = DefaultMarkerSize
	}
	var buf bytes.Buffer
	writeMarker(&buf, '<', size, m.opts.OursLabel)
	writeTerminated(&buf, ours)
	writeMarker(&buf, '=', size, "")
	writeTerminated(&buf, theirs)
	writeMarker(&buf, '>', size, m.opts.TheirsLabel)
	return buf.Bytes()
}

func (m *merger) result() Result {
	return Result{
		Merged:       m.out.Bytes(),
		HasConflicts: m.conflicts > 0,
		Conflicts:    m.conflicts,
		Hunks:        m.hunks,
	}
}

func writeMarker(buf *bytes.Buffer, c byte, size int, label string) {
	buf.Write(bytes.Repeat([]byte{c}, size))
	if label != "" {
		buf.WriteByte(' ')
		buf.WriteString(label)
	}
	buf.WriteByte('\n')
}

// writeTerminated writes text, adding a newline if it does not end in one
// so the following marker starts on its own line.
func writeTerminated(buf *bytes.Buffer, text []byte) {
	buf.Write(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

// splitLines splits s into lines, each keeping its "\n" terminator. A
// final line without a terminator is kept as is.
func splitLines(s []byte) []string {
	if len(s) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(s), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func joinLines(lines []string) []byte {
	return []byte(strings.Join(lines, ""))
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
