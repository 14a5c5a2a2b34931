// Copyright © 2024 The standard-ls authors

// Package fix selects and applies autofix edits reported by an engine.
//
// Edits address the linted text with UTF-16 offsets, the same way the
// engines report them. An engine may propose several edits that touch the
// same region; OverlapFree picks a subset that can be applied together in
// one pass.
package fix

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Edit replaces the text between Start and End (UTF-16 offsets, End
// exclusive) with Text.
type Edit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Empty reports whether applying the edit would not change anything.
func (e Edit) Empty() bool {
	return e.Start == e.End && e.Text == ""
}

// Sorted returns a copy of edits ordered by start offset, then end offset.
func Sorted(edits []Edit) []Edit {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	return sorted
}

// OverlapFree returns the largest prefix-greedy subset of edits that do not
// conflict. Edits are visited in Sorted order; an edit is kept only when it
// starts at a different offset than the last kept edit and not before that
// edit's end. Two insertions at the same offset therefore conflict and the
// first one wins.
func OverlapFree(edits []Edit) []Edit {
	sorted := Sorted(edits)
	if len(sorted) <= 1 {
		return sorted
	}
	result := []Edit{sorted[0]}
	last := sorted[0]
	for _, cur := range sorted[1:] {
		if cur.Start != last.Start && cur.Start >= last.End {
			result = append(result, cur)
			last = cur
		}
	}
	return result
}

// Apply applies edits to content. The edits are first reduced with
// OverlapFree so the result is always well defined.
func Apply(content string, edits []Edit) string {
	edits = OverlapFree(edits)
	if len(edits) == 0 {
		return content
	}
	t := NewText(content)
	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, e := range edits {
		start := t.ByteOffset(e.Start)
		end := t.ByteOffset(e.End)
		if end < start {
			end = start
		}
		b.WriteString(content[pos:start])
		b.WriteString(e.Text)
		pos = end
	}
	b.WriteString(content[pos:])
	return b.String()
}

// Diff computes a minimal set of edits turning before into after.
func Diff(before, after string) []Edit {
	if before == after {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)

	var edits []Edit
	var cur *Edit
	flush := func() {
		if cur != nil && !cur.Empty() {
			edits = append(edits, *cur)
		}
		cur = nil
	}
	off := 0
	for _, d := range diffs {
		n := UTF16Len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			off += n
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &Edit{Start: off, End: off}
			}
			cur.End = off + n
			off += n
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &Edit{Start: off, End: off}
			}
			cur.Text += d.Text
		}
	}
	flush()
	return edits
}
