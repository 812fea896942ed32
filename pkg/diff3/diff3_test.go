package diff3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMyersDiff_Basic(t *testing.T) {
	ops := MyersDiff([]string{"a", "b", "c"}, []string{"a", "x", "c"})
	want := []DiffOp{
		{Type: Equal, Line: "a"},
		{Type: Delete, Line: "b"},
		{Type: Insert, Line: "x"},
		{Type: Equal, Line: "c"},
	}
	assert.Equal(t, want, ops)
}

func TestMyersDiff_Trivial(t *testing.T) {
	assert.Nil(t, MyersDiff(nil, nil))

	for _, op := range MyersDiff(nil, []string{"a", "b"}) {
		assert.Equal(t, Insert, op.Type)
	}
	for _, op := range MyersDiff([]string{"a", "b"}, nil) {
		assert.Equal(t, Delete, op.Type)
	}
	for _, op := range MyersDiff([]string{"a", "b"}, []string{"a", "b"}) {
		assert.Equal(t, Equal, op.Type)
	}
}

func TestMatchLines(t *testing.T) {
	match := matchLines([]string{"a", "b", "c", "d"}, []string{"a", "x", "c", "d", "e"})
	assert.Equal(t, []int{0, -1, 2, 3}, match)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		ours      string
		theirs    string
		want      string
		conflicts int
	}{
		{
			name:   "identical inputs",
			base:   "a\nb\nc\n",
			ours:   "a\nb\nc\n",
			theirs: "a\nb\nc\n",
			want:   "a\nb\nc\n",
		},
		{
			name:   "only ours changed",
			base:   "a\nb\nc\n",
			ours:   "a\nB\nc\n",
			theirs: "a\nb\nc\n",
			want:   "a\nB\nc\n",
		},
		{
			name:   "only theirs changed",
			base:   "a\nb\nc\n",
			ours:   "a\nb\nc\n",
			theirs: "a\nb\nC\n",
			want:   "a\nb\nC\n",
		},
		{
			name:   "disjoint edits",
			base:   "1\n2\n3\n4\n5\n",
			ours:   "one\n2\n3\n4\n5\n",
			theirs: "1\n2\n3\n4\nfive\n",
			want:   "one\n2\n3\n4\nfive\n",
		},
		{
			name:   "same edit on both sides",
			base:   "a\nb\nc\n",
			ours:   "a\nX\nc\n",
			theirs: "a\nX\nc\n",
			want:   "a\nX\nc\n",
		},
		{
			name:   "insertions at distinct anchors",
			base:   "a\nb\n",
			ours:   "top\na\nb\n",
			theirs: "a\nb\nbottom\n",
			want:   "top\na\nb\nbottom\n",
		},
		{
			name:      "overlapping edits conflict",
			base:      "a\nb\nc\n",
			ours:      "a\nours\nc\n",
			theirs:    "a\ntheirs\nc\n",
			want:      "a\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> feature\nc\n",
			conflicts: 1,
		},
		{
			name:      "add/add against empty base",
			base:      "",
			ours:      "x\n",
			theirs:    "y\n",
			want:      "<<<<<<< HEAD\nx\n=======\ny\n>>>>>>> feature\n",
			conflicts: 1,
		},
		{
			name:      "delete versus edit conflicts",
			base:      "a\nb\nc\n",
			ours:      "a\nc\n",
			theirs:    "a\nB\nc\n",
			want:      "a\n<<<<<<< HEAD\n=======\nB\n>>>>>>> feature\nc\n",
			conflicts: 1,
		},
		{
			name:   "missing final newline preserved",
			base:   "a\nb",
			ours:   "A\nb",
			theirs: "a\nb",
			want:   "A\nb",
		},
		{
			name:      "conflict on unterminated last line",
			base:      "a\nb",
			ours:      "a\nx",
			theirs:    "a\ny",
			want:      "a\n<<<<<<< HEAD\nx\n=======\ny\n>>>>>>> feature\n",
			conflicts: 1,
		},
	}

	opts := Options{OursLabel: "HEAD", TheirsLabel: "feature"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MergeWithOptions([]byte(tt.base), []byte(tt.ours), []byte(tt.theirs), opts)
			assert.Equal(t, tt.want, string(res.Merged))
			assert.Equal(t, tt.conflicts, res.Conflicts)
			assert.Equal(t, tt.conflicts > 0, res.HasConflicts)
		})
	}
}

func TestMergeMarkerSize(t *testing.T) {
	res := MergeWithOptions([]byte("a\n"), []byte("b\n"), []byte("c\n"), Options{
		OursLabel:   "HEAD",
		TheirsLabel: "topic",
		MarkerSize:  3,
	})
	assert.Equal(t, "<<< HEAD\nb\n===\nc\n>>> topic\n", string(res.Merged))
}

func TestMergeDefaultLabels(t *testing.T) {
	res := Merge([]byte("a\n"), []byte("b\n"), []byte("c\n"))
	assert.Contains(t, string(res.Merged), "<<<<<<< ours\n")
	assert.Contains(t, string(res.Merged), ">>>>>>> theirs\n")
}

func TestMergeHunksCoverOutput(t *testing.T) {
	res := MergeWithOptions(
		[]byte("1\n2\n3\n4\n5\n"),
		[]byte("1\nA\n3\n4\n5\n"),
		[]byte("1\nB\n3\n4\nV\n"),
		Options{OursLabel: "HEAD", TheirsLabel: "x"},
	)
	require.Equal(t, 1, res.Conflicts)

	var joined []byte
	var conflictHunks int
	for _, h := range res.Hunks {
		joined = append(joined, h.Merged...)
		if h.Type == HunkConflict {
			conflictHunks++
			assert.Equal(t, "2\n", string(h.Base))
		}
	}
	assert.Equal(t, res.Merged, joined)
	assert.Equal(t, 1, conflictHunks)
}

func TestMergeIsSymmetricUpToLabels(t *testing.T) {
	base := []byte("a\nb\nc\nd\n")
	ours := []byte("a\nb2\nc\nd\n")
	theirs := []byte("a\nb\nc\nd2\n")
	left := Merge(base, ours, theirs)
	right := Merge(base, theirs, ours)
	assert.Equal(t, left.Merged, right.Merged)
}
