// Copyright © 2024 The standard-ls authors

package fix

import (
	"sort"
	"unicode/utf8"
)

// Text is a line index over a document. Offsets and characters are counted
// in UTF-16 code units, which is what both the engines (JavaScript string
// indices) and LSP positions use. Line breaks are "\n", "\r\n" and "\r".
type Text struct {
	content string
	lines   []lineSpan
	length  int
}

type lineSpan struct {
	start      int // UTF-16 offset of the first character
	contentEnd int // UTF-16 offset just before the line break
	byteStart  int
}

// NewText indexes content.
func NewText(content string) *Text {
	t := &Text{content: content}
	off := 0
	cur := lineSpan{}
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		switch r {
		case '\n':
			cur.contentEnd = off
			t.lines = append(t.lines, cur)
			off++
			i += size
			cur = lineSpan{start: off, byteStart: i}
			continue
		case '\r':
			cur.contentEnd = off
			t.lines = append(t.lines, cur)
			off++
			i += size
			if i < len(content) && content[i] == '\n' {
				off++
				i++
			}
			cur = lineSpan{start: off, byteStart: i}
			continue
		}
		off += utf16Len(r)
		i += size
	}
	cur.contentEnd = off
	t.lines = append(t.lines, cur)
	t.length = off
	return t
}

// String returns the indexed content.
func (t *Text) String() string {
	return t.content
}

// Len returns the content length in UTF-16 code units.
func (t *Text) Len() int {
	return t.length
}

// LineCount returns the number of lines. An empty document has one line.
func (t *Text) LineCount() int {
	return len(t.lines)
}

// PositionAt converts an offset into a 0-based line and character.
func (t *Text) PositionAt(offset int) (line, char int) {
	offset = t.clamp(offset)
	line = sort.Search(len(t.lines), func(i int) bool {
		return t.lines[i].start > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	char = offset - t.lines[line].start
	if width := t.lines[line].contentEnd - t.lines[line].start; char > width {
		// Offset points into a "\r\n" pair.
		char = width
	}
	return line, char
}

// OffsetAt converts a 0-based line and character into an offset. Lines past
// the end map to the document length and characters past the end of a line
// map to the end of that line.
func (t *Text) OffsetAt(line, char int) int {
	if line < 0 {
		return 0
	}
	if line >= len(t.lines) {
		return t.length
	}
	ls := t.lines[line]
	if char < 0 {
		char = 0
	}
	if ls.start+char > ls.contentEnd {
		return ls.contentEnd
	}
	return ls.start + char
}

// Line returns the content of a 0-based line without its line break.
func (t *Text) Line(line int) string {
	if line < 0 || line >= len(t.lines) {
		return ""
	}
	ls := t.lines[line]
	return t.content[ls.byteStart:t.byteOffsetIn(line, ls.contentEnd)]
}

// ByteOffset converts a UTF-16 offset into a byte offset into the content.
func (t *Text) ByteOffset(offset int) int {
	offset = t.clamp(offset)
	line, _ := t.PositionAt(offset)
	if offset > t.lines[line].contentEnd {
		// Inside a "\r\n": the byte layout matches the UTF-16 one.
		return t.lines[line].byteStart + t.byteLen(line) + (offset - t.lines[line].contentEnd)
	}
	return t.byteOffsetIn(line, offset)
}

func (t *Text) byteLen(line int) int {
	return t.byteOffsetIn(line, t.lines[line].contentEnd) - t.lines[line].byteStart
}

func (t *Text) byteOffsetIn(line, offset int) int {
	ls := t.lines[line]
	i := ls.byteStart
	for off := ls.start; off < offset && i < len(t.content); {
		r, size := utf8.DecodeRuneInString(t.content[i:])
		off += utf16Len(r)
		i += size
	}
	return i
}

func (t *Text) clamp(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > t.length {
		return t.length
	}
	return offset
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Len(r)
	}
	return n
}
