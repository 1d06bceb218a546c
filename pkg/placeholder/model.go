// Package placeholder implements the TaskLattice placeholder grammar: the
// scanner that locates `{{TL ...}}` tokens (component B), the grammar parser
// that turns a token body into a ParamUnresolved record (component B), and
// the resolver that decides each parameter's effective type and domain
// (component C).
//
// Grounded on original_source/src/tasklattice/placeholder/{grammar,parse,
// model,resolve,quotes}.py for exact semantics, re-expressed as a
// hand-written recursive-descent scanner (see DESIGN.md) instead of a
// transliteration of the Python lark grammar.
package placeholder

import (
	"fmt"

	"github.com/tasklattice/tasklattice/pkg/tlsource"
)

// Kind is the effective scalar type of a parameter. Booleans are never
// treated as integers (spec.md 3, "ValueLiteral").
type Kind string

const (
	KindStr   Kind = "str"
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindBool  Kind = "bool"
)

// Value is a tagged union over {Str, Int, Float, Bool}, mirroring
// spec.md 3's ValueLiteral.
type Value struct {
	Kind Kind
	S    string
	I    int64
	F    float64
	B    bool
}

func Str(s string) Value   { return Value{Kind: KindStr, S: s} }
func Int(i int64) Value    { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }
func Bool(b bool) Value    { return Value{Kind: KindBool, B: b} }

// Equal reports structural equality: values of different Kind are never
// equal, even when numerically identical (DESIGN.md Open Question #2 —
// Dedup does not normalize int/float equality).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindStr:
		return v.S == o.S
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindBool:
		return v.B == o.B
	default:
		return false
	}
}

// String renders a stable debug form, used as a Dedup fallback key and in
// error messages.
func (v Value) String() string {
	switch v.Kind {
	case KindStr:
		return fmt.Sprintf("%q", v.S)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	default:
		return "<invalid>"
	}
}

// Name is a parameter identifier matching [A-Za-z_][A-Za-z0-9_]*.
type Name string

// QuoteStyle is the detected surrounding quote character of a placeholder
// occurrence in source text.
type QuoteStyle string

const (
	QuoteSingle QuoteStyle = "single"
	QuoteDouble QuoteStyle = "double"
)

// Quote describes the quote context immediately surrounding a placeholder's
// outer span, if any (spec.md 3, "Placeholder").
type Quote struct {
	Style    QuoteStyle
	LeftIdx  int // byte offset of the opening quote rune
	RightIdx int // byte offset of the closing quote rune
}

// Exterior returns the span covering both quote characters and everything
// between them (i.e. including the quotes).
func (q Quote) Exterior() tlsource.Span {
	return tlsource.Span{Start: q.LeftIdx, End: q.RightIdx + 1}
}

// Interior returns the span strictly between the quote characters.
func (q Quote) Interior() tlsource.Span {
	return tlsource.Span{Start: q.LeftIdx + 1, End: q.RightIdx}
}

// Placeholder is one `{{TL ...}}` occurrence located in a Source.
type Placeholder struct {
	Source     *tlsource.Source
	OuterSpan  tlsource.Span // covers "{{...}}"
	InnerSpan  tlsource.Span // covers the "TL ..." body
	Quote      *Quote        // nil if not quoted
}

// DomainRaw is the unresolved (pre-coercion) domain literal parsed from a
// placeholder body.
type DomainRaw struct {
	Interval *IntervalRaw
	Set      *SetRaw
}

// IntervalRaw is a numeric interval before bound coercion.
type IntervalRaw struct {
	Lower, Upper                   Value
	InclusiveLower, InclusiveUpper bool
}

// SetRaw is a literal set before element coercion.
type SetRaw struct {
	Values []Value
}

// ParamUnresolved is the direct result of parsing a placeholder body,
// before type inference/coercion (spec.md 3).
type ParamUnresolved struct {
	Name         Name
	Default      Value
	Placeholder  *Placeholder
	DeclaredType string // "" if absent; one of str|int|float|bool otherwise
	Domain       *DomainRaw
	Description  string
}

// Domain is the resolved, typed domain of a parameter: an interval or a
// set, both supporting structural membership (spec.md 3, "Domain").
type Domain interface {
	Contains(v Value) bool
	isDomain()
}

// IntervalDomain is a numeric-only interval domain. Booleans are always
// rejected.
type IntervalDomain struct {
	Lower, Upper                   Value
	InclusiveLower, InclusiveUpper bool
}

func (IntervalDomain) isDomain() {}

func (d IntervalDomain) Contains(v Value) bool {
	if v.Kind == KindBool {
		return false
	}
	lo, ok1 := numericValue(d.Lower)
	hi, ok2 := numericValue(d.Upper)
	x, ok3 := numericValue(v)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	if d.InclusiveLower {
		if x < lo {
			return false
		}
	} else if x <= lo {
		return false
	}
	if d.InclusiveUpper {
		if x > hi {
			return false
		}
	} else if x >= hi {
		return false
	}
	return true
}

func numericValue(v Value) (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// SetDomain is a membership domain; boolean members require identity match.
type SetDomain struct {
	Values []Value
}

func (SetDomain) isDomain() {}

func (d SetDomain) Contains(v Value) bool {
	for _, m := range d.Values {
		if m.Equal(v) {
			return true
		}
	}
	return false
}

// ParamResolved is a fully-typed parameter: effective type decided, domain
// (if any) coerced to that type, default validated against the domain
// (spec.md 3, "ParamResolved").
type ParamResolved struct {
	Name          Name
	Default       Value
	EffectiveType Kind
	Domain        Domain // nil if no domain declared
	Description   string
	Placeholder   *Placeholder
}
