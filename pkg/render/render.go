// Package render implements the profile-aware substitution renderer
// (component F): a pure Template x SubstitutionMap -> string function.
// Newline normalization is deliberately NOT performed here — it is the
// Materializer's responsibility (spec.md 4.F, 9 "Newline policy").
//
// Grounded on original_source/src/tasklattice/render.py for the exact
// quote/escape dispatch and float-formatting rules.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/profile"
	"github.com/tasklattice/tasklattice/pkg/tmpl"
)

// Warning is a non-fatal rendering note (e.g. "typed scalar lost",
// "auto-quoted risky YAML bareword").
type Warning struct {
	Param   placeholder.Name
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Param, w.Message)
}

func warn(name placeholder.Name, msg string) Warning {
	return Warning{Param: name, Message: msg}
}

// Validate checks that every key in subs names a declared parameter, that
// each value satisfies the parameter's effective type, and that it lies
// within the parameter's domain when one is declared (spec.md 4.F).
func Validate(t *tmpl.Template, subs map[placeholder.Name]placeholder.Value) error {
	for name, val := range subs {
		pr, ok := t.Params[name]
		if !ok {
			return fmt.Errorf("render: %q is not a declared parameter of this template", name)
		}
		if val.Kind != pr.EffectiveType {
			return fmt.Errorf("render: parameter %q expects type %s, got %s", name, pr.EffectiveType, val.Kind)
		}
		if pr.Domain != nil && !pr.Domain.Contains(val) {
			return fmt.Errorf("render: parameter %q value %s is outside its domain", name, val)
		}
	}
	return nil
}

// Render substitutes subs into t under profile prof, returning the
// rendered text and any non-fatal warnings. Missing keys in subs take
// the parameter's default value (spec.md 3, "SubstitutionMap").
func Render(t *tmpl.Template, subs map[placeholder.Name]placeholder.Value, prof profile.Profile) (string, []Warning, error) {
	if err := Validate(t, subs); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var warnings []Warning

	for _, el := range t.Sequence {
		if !el.IsParam() {
			b.WriteString(t.Source.Slice(*el.Span))
			continue
		}
		pr := t.Params[el.Param]
		val, ok := subs[el.Param]
		if !ok {
			val = pr.Default
		}
		s, ws := renderParam(t, pr, val, prof)
		b.WriteString(s)
		warnings = append(warnings, ws...)
	}
	return b.String(), warnings, nil
}

func renderParam(t *tmpl.Template, pr *placeholder.ParamResolved, val placeholder.Value, prof profile.Profile) (string, []Warning) {
	if prof.Kind == profile.KindXML {
		return renderXMLParam(t, pr, val, prof)
	}

	quote := pr.Placeholder.Quote
	isQuoted := quote != nil
	quoteStyle := prof.PreferredQuoteStyle
	if isQuoted {
		quoteStyle = string(quote.Style)
	}

	switch val.Kind {
	case placeholder.KindBool:
		s := prof.BoolFalse
		if val.B {
			s = prof.BoolTrue
		}
		return s, typedLossWarning(pr.Name, prof, isQuoted, "boolean")
	case placeholder.KindInt:
		return strconv.FormatInt(val.I, 10), typedLossWarning(pr.Name, prof, isQuoted, "integer")
	case placeholder.KindFloat:
		return formatFloat(val.F, prof), typedLossWarning(pr.Name, prof, isQuoted, "float")
	default:
		return renderString(pr, val.S, prof, isQuoted, quoteStyle)
	}
}

func typedLossWarning(name placeholder.Name, prof profile.Profile, isQuoted bool, kind string) []Warning {
	if isQuoted && prof.Kind == profile.KindTyped && prof.WarnOnQuotedNonString {
		return []Warning{warn(name, fmt.Sprintf("typed scalar lost: %s rendered inside quotes", kind))}
	}
	return nil
}

func renderString(pr *placeholder.ParamResolved, s string, prof profile.Profile, isQuoted bool, quoteStyle string) (string, []Warning) {
	if prof.ID == profile.YAML {
		needsQuotes := prof.YAMLStringNeedsQuotes != nil && prof.YAMLStringNeedsQuotes(s)
		switch {
		case !isQuoted && needsQuotes:
			escaped := escapeContent(s, prof, quoteStyle)
			return wrapWithQuotes(escaped, quoteStyle), []Warning{warn(pr.Name, "auto-quoted risky YAML bareword")}
		case isQuoted:
			return escapeContent(s, prof, quoteStyle), nil
		default:
			return s, nil
		}
	}

	if prof.StringsMustBeQuoted && !isQuoted {
		escaped := escapeContent(s, prof, quoteStyle)
		return wrapWithQuotes(escaped, quoteStyle), nil
	}
	// Stringly formats, and already-quoted typed formats: keep occurrence
	// quoting verbatim in the surrounding literal text; emit escaped content
	// only.
	return escapeContent(s, prof, quoteStyle), nil
}

func escapeContent(s string, prof profile.Profile, quoteStyle string) string {
	switch prof.EscapePolicy {
	case profile.EscapeJSONPolicy:
		return profile.EscapeJSON(s, false)
	case profile.EscapeYAMLPolicy:
		if quoteStyle == "single" {
			return profile.EscapeYAMLSingle(s)
		}
		return profile.EscapeYAMLDouble(s)
	case profile.EscapeTOMLPolicy:
		return profile.EscapeTOMLBasic(s)
	case profile.EscapePropertiesPolicy:
		return profile.EscapePropertiesLike(s, prof.PropertiesExtraEscapes)
	default:
		return s
	}
}

func wrapWithQuotes(content, style string) string {
	if style == "single" {
		return "'" + content + "'"
	}
	return `"` + content + `"`
}

func formatFloat(f float64, prof profile.Profile) string {
	s := strconv.FormatFloat(f, prof.FloatFormat, prof.FloatPrecision, 64)
	if prof.StripTrailingZeros && prof.FloatFormat != 'e' && prof.FloatFormat != 'E' && strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// renderXMLParam resolves attribute-vs-text context by a local scan
// (DESIGN.md Open Question #1) and applies XML-specific quoting/escaping.
func renderXMLParam(t *tmpl.Template, pr *placeholder.ParamResolved, val placeholder.Value, prof profile.Profile) (string, []Warning) {
	var s string
	switch val.Kind {
	case placeholder.KindBool:
		s = prof.BoolFalse
		if val.B {
			s = prof.BoolTrue
		}
	case placeholder.KindInt:
		s = strconv.FormatInt(val.I, 10)
	case placeholder.KindFloat:
		s = formatFloat(val.F, prof)
	default:
		s = val.S
	}

	isAttr := resolveXMLContext(t.Source.Text, pr.Placeholder.OuterSpan.Start)
	quote := pr.Placeholder.Quote
	var warnings []Warning

	if isAttr {
		preferApos := quote != nil && quote.Style == placeholder.QuoteSingle
		if prof.XMLAttributesMustRemainQuoted && quote == nil {
			warnings = append(warnings, warn(pr.Name, "XML attribute value should remain quoted"))
		}
		return profile.EscapeXMLAttr(s, preferApos), warnings
	}
	return profile.EscapeXMLText(s), warnings
}

// resolveXMLContext reports whether the byte offset pos in text falls
// inside an open XML start tag (i.e. after an unclosed "<" and after an
// "=" within that tag), which is taken to mean "inside an attribute
// value". Grounded on
// original_source/src/tasklattice/render.py's _resolve_xml_context.
func resolveXMLContext(text string, pos int) bool {
	if pos > len(text) {
		pos = len(text)
	}
	left := text[:pos]
	lt := strings.LastIndexByte(left, '<')
	gt := strings.LastIndexByte(left, '>')
	if lt < 0 || lt < gt {
		return false
	}
	return strings.ContainsRune(left[lt:], '=')
}
