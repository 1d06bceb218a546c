// Package tmpl implements the Template model (component E): a parsed
// prototype file as a non-overlapping ordered sequence alternating literal
// spans and parameter references, built by scanning a Source for
// placeholders and parsing/resolving each one.
package tmpl

import (
	"fmt"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/tlsource"
)

// Element is one entry of a Template's Sequence: either a literal Span or
// a reference to a declared Param, never both (spec.md 3, "Template").
type Element struct {
	Span  *tlsource.Span
	Param placeholder.Name // zero value ("") iff Span != nil
}

// IsParam reports whether this element is a parameter reference.
func (e Element) IsParam() bool { return e.Span == nil }

// Template is a parsed prototype file (spec.md 3).
type Template struct {
	Source   *tlsource.Source
	Params   map[placeholder.Name]*placeholder.ParamResolved
	Sequence []Element
}

// Build scans src for placeholders, parses and resolves each one, and
// produces the Template's literal/parameter sequence. Duplicate parameter
// names are a compile-time error naming both occurrences (spec.md 4.E).
func Build(src *tlsource.Source) (*Template, error) {
	phs, err := placeholder.Scan(src)
	if err != nil {
		return nil, err
	}

	params := make(map[placeholder.Name]*placeholder.ParamResolved, len(phs))
	resolved := make([]*placeholder.ParamResolved, 0, len(phs))

	for _, ph := range phs {
		pu, err := placeholder.ParseUnresolved(ph)
		if err != nil {
			return nil, err
		}
		pr, err := placeholder.Resolve(pu)
		if err != nil {
			return nil, err
		}
		if prev, exists := params[pr.Name]; exists {
			return nil, fmt.Errorf(
				"template %s: parameter %q declared twice: first at %s, again at %s",
				src.Label(), pr.Name,
				src.DescribeSpan(prev.Placeholder.OuterSpan),
				src.DescribeSpan(pr.Placeholder.OuterSpan),
			)
		}
		params[pr.Name] = pr
		resolved = append(resolved, pr)
	}

	seq, err := buildSequence(src, resolved)
	if err != nil {
		return nil, err
	}

	return &Template{Source: src, Params: params, Sequence: seq}, nil
}

func buildSequence(src *tlsource.Source, resolved []*placeholder.ParamResolved) ([]Element, error) {
	var seq []Element
	cursor := 0
	text := src.Text

	appendLiteral := func(start, end int) error {
		if start >= end {
			return nil // zero-length gap: nothing to coalesce, nothing to emit
		}
		sp, err := tlsource.NewSpan(start, end)
		if err != nil {
			return err
		}
		seq = append(seq, Element{Span: &sp})
		return nil
	}

	for _, pr := range resolved {
		outer := pr.Placeholder.OuterSpan
		if err := appendLiteral(cursor, outer.Start); err != nil {
			return nil, err
		}
		seq = append(seq, Element{Param: pr.Name})
		cursor = outer.End
	}
	if err := appendLiteral(cursor, len(text)); err != nil {
		return nil, err
	}
	return seq, nil
}
