// Package tlsource provides immutable source buffers with line/column
// indexing and half-open spans, shared by every downstream component that
// needs to report a precise location within a prototype file.
package tlsource

import (
	"fmt"
	"sort"
	"strings"
)

// Span is a half-open [Start, End) byte range into a Source's text.
// Empty spans (End == Start) are rejected by NewSpan; they are forbidden as
// template sequence elements (spec.md 3, "SourceSpan").
type Span struct {
	Start int
	End   int
}

// NewSpan validates and constructs a Span.
func NewSpan(start, end int) (Span, error) {
	if start < 0 {
		return Span{}, fmt.Errorf("span: start must be >= 0, got %d", start)
	}
	if end <= start {
		return Span{}, fmt.Errorf("span: end (%d) must be > start (%d)", end, start)
	}
	return Span{Start: start, End: end}, nil
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Origin labels where a Source's text came from. File is empty for
// in-memory sources (e.g. test fixtures).
type Origin struct {
	File string
}

// Source is an immutable text buffer plus a line-start table, computed
// once by New, used for O(log n) position lookups.
type Source struct {
	Origin Origin
	Text   string

	lineStarts []int // byte offset of the first byte of each line; lineStarts[0] == 0
}

// New constructs a Source from in-memory text. Text must be non-empty
// per spec.md 3's Source invariants.
func New(origin Origin, text string) (*Source, error) {
	if text == "" {
		return nil, fmt.Errorf("source: text must be non-empty")
	}
	s := &Source{Origin: origin, Text: text}
	s.computeLineStarts()
	return s, nil
}

func (s *Source) computeLineStarts() {
	starts := make([]int, 1, 16)
	starts[0] = 0
	for i := 0; i < len(s.Text); i++ {
		if s.Text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	s.lineStarts = starts
}

// FullSpan returns a span covering the entire source text.
func (s *Source) FullSpan() Span {
	return Span{Start: 0, End: len(s.Text)}
}

// Slice returns the substring covered by span. Panics if span is out of
// bounds for this source — callers are expected to only construct spans
// against the source they slice.
func (s *Source) Slice(span Span) string {
	if span.Start < 0 || span.End > len(s.Text) || span.Start > span.End {
		panic(fmt.Sprintf("tlsource: span %v out of bounds for text of length %d", span, len(s.Text)))
	}
	return s.Text[span.Start:span.End]
}

// PosToLineCol returns the 1-indexed (line, col) for byte offset p using
// binary search over the precomputed line-start table. p == len(Text) is
// accepted (caret at EOF).
func (s *Source) PosToLineCol(p int) (line, col int, err error) {
	if p < 0 || p > len(s.Text) {
		return 0, 0, fmt.Errorf("tlsource: position %d out of bounds for text of length %d", p, len(s.Text))
	}
	// Find the last line-start <= p.
	idx := sort.Search(len(s.lineStarts), func(i int) bool {
		return s.lineStarts[i] > p
	}) - 1
	if idx < 0 {
		idx = 0
	}
	line = idx + 1
	col = p-s.lineStarts[idx] + 1
	return line, col, nil
}

// Label returns a human-readable source label for error messages: the file
// name if known, otherwise "<memory>".
func (s *Source) Label() string {
	if s.Origin.File != "" {
		return s.Origin.File
	}
	return "<memory>"
}

// DescribeSpan renders a "file:line:col" style location prefix for the start
// of span, used throughout error messages (spec.md 7: "source label, line,
// column, and offending span").
func (s *Source) DescribeSpan(span Span) string {
	line, col, err := s.PosToLineCol(span.Start)
	if err != nil {
		return s.Label()
	}
	return fmt.Sprintf("%s:%d:%d", s.Label(), line, col)
}

// LineText returns the full text of the given (1-indexed) line, without
// its trailing newline, or "" when line is out of range. Used for caret-style diagnostics.
func (s *Source) LineText(line int) string {
	if line < 1 || line > len(s.lineStarts) {
		return ""
	}
	start := s.lineStarts[line-1]
	end := len(s.Text)
	if line < len(s.lineStarts) {
		end = s.lineStarts[line] - 1 // exclude the '\n'
	}
	if end < start {
		end = start
	}
	return strings.TrimRight(s.Text[start:end], "\r")
}
