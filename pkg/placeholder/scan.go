package placeholder

import (
	"fmt"
	"strings"

	"github.com/tasklattice/tasklattice/pkg/tlsource"
)

// Scan locates every `{{TL ...}}` token in src and returns one Placeholder
// per occurrence, each with quote context detected by a whitespace-tolerant
// outward scan for matching, non-escaped quotes (spec.md 4.B).
func Scan(src *tlsource.Source) ([]*Placeholder, error) {
	text := src.Text
	var out []*Placeholder

	i := 0
	for {
		open := strings.Index(text[i:], "{{")
		if open < 0 {
			break
		}
		open += i
		bodyStart := open + 2

		// Body must start with optional whitespace then "TL" as a whole word.
		j := bodyStart
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if !strings.HasPrefix(text[j:], "TL") {
			// Not a TaskLattice placeholder; keep scanning past this "{{".
			i = open + 2
			continue
		}
		afterTL := j + 2
		if afterTL < len(text) && isIdentRune(rune(text[afterTL])) {
			// "TLfoo" — not the TL keyword, a longer identifier.
			i = open + 2
			continue
		}

		close := strings.Index(text[bodyStart:], "}}")
		if close < 0 {
			return nil, fmt.Errorf("%s: unterminated placeholder (missing closing \"}}\")", src.DescribeSpan(tlsource.Span{Start: open, End: open + 2}))
		}
		close += bodyStart // index of the "}}" in text

		outer, err := tlsource.NewSpan(open, close+2)
		if err != nil {
			return nil, err
		}
		inner, err := tlsource.NewSpan(bodyStart, close)
		if err != nil {
			return nil, err
		}

		ph := &Placeholder{
			Source:    src,
			OuterSpan: outer,
			InnerSpan: inner,
			Quote:     detectQuote(text, outer),
		}
		out = append(out, ph)

		i = close + 2
	}
	return out, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// detectQuote scans outward from outer, tolerating whitespace, looking for
// a matching pair of un-escaped quote characters immediately surrounding
// the placeholder occurrence.
func detectQuote(text string, outer tlsource.Span) *Quote {
	left := outer.Start - 1
	for left >= 0 && isSpace(text[left]) {
		left--
	}
	if left < 0 {
		return nil
	}
	var style QuoteStyle
	switch text[left] {
	case '\'':
		style = QuoteSingle
	case '"':
		style = QuoteDouble
	default:
		return nil
	}
	// Reject an escaped quote (preceded by an odd number of backslashes).
	if isEscaped(text, left) {
		return nil
	}

	right := outer.End
	for right < len(text) && isSpace(text[right]) {
		right++
	}
	if right >= len(text) {
		return nil
	}
	wantByte := byte('\'')
	if style == QuoteDouble {
		wantByte = '"'
	}
	if text[right] != wantByte {
		return nil
	}
	return &Quote{Style: style, LeftIdx: left, RightIdx: right}
}

func isEscaped(text string, idx int) bool {
	count := 0
	for k := idx - 1; k >= 0 && text[k] == '\\'; k-- {
		count++
	}
	return count%2 == 1
}
