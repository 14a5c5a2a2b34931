// Copyright © 2024 The standard-ls authors

package fix

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const patchContext = 3

type lineOp struct {
	kind  byte // ' ', '-' or '+'
	text  string
	noEOL bool // last line of its side, without a trailing newline
}

const noNewline = "\\ No newline at end of file\n"

// Unified renders a line-based unified diff between before and after for
// display. It returns "" when the contents are equal.
func Unified(name, before, after string) string {
	if before == after {
		return ""
	}
	ops := lineOps(before, after)

	// oldAt[k] and newAt[k] count the old and new lines before ops[k].
	oldAt := make([]int, len(ops)+1)
	newAt := make([]int, len(ops)+1)
	for k, op := range ops {
		oldAt[k+1], newAt[k+1] = oldAt[k], newAt[k]
		if op.kind != '+' {
			oldAt[k+1]++
		}
		if op.kind != '-' {
			newAt[k+1]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", name, name)
	for i := 0; i < len(ops); {
		for i < len(ops) && ops[i].kind == ' ' {
			i++
		}
		if i >= len(ops) {
			break
		}
		start := max(0, i-patchContext)
		end := i
		for {
			for end < len(ops) && ops[end].kind != ' ' {
				end++
			}
			j := end
			for j < len(ops) && ops[j].kind == ' ' {
				j++
			}
			if j < len(ops) && j-end <= 2*patchContext {
				end = j
				continue
			}
			end = min(len(ops), end+patchContext)
			break
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n",
			oldAt[start]+1, oldAt[end]-oldAt[start],
			newAt[start]+1, newAt[end]-newAt[start])
		for _, op := range ops[start:end] {
			b.WriteByte(op.kind)
			b.WriteString(op.text)
			b.WriteByte('\n')
			if op.noEOL {
				b.WriteString(noNewline)
			}
		}
		i = end
	}
	return b.String()
}

func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, bb, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, bb, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		text, eol := strings.CutSuffix(d.Text, "\n")
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			ops = append(ops, lineOp{kind: kind, text: line, noEOL: !eol && i == len(lines)-1})
		}
	}
	return ops
}
