package profile

import (
	"fmt"
	"strings"
)

// EscapeJSON escapes control characters and, optionally, non-ASCII runes
// the way JSON string content must be escaped. It does not add the
// surrounding quotes. Grounded on
// original_source/src/tasklattice/profile.py's escape_json.
func EscapeJSON(s string, ensureASCII bool) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(&b, `\u%04x`, r)
			case ensureASCII && r > 0x7e:
				if r > 0xffff {
					// Encode as a UTF-16 surrogate pair.
					r -= 0x10000
					hi := 0xd800 + (r >> 10)
					lo := 0xdc00 + (r & 0x3ff)
					fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
				} else {
					fmt.Fprintf(&b, `\u%04x`, r)
				}
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// EscapeYAMLDouble delegates to EscapeJSON and additionally escapes the
// vertical-tab control character as \v (JSON has no \v escape).
func EscapeYAMLDouble(s string) string {
	return strings.ReplaceAll(EscapeJSON(s, false), "\x0b", `\v`)
}

// EscapeYAMLSingle doubles embedded single-quote characters, the only
// escape mechanism YAML single-quoted scalars support.
func EscapeYAMLSingle(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// EscapeTOMLBasic delegates to the JSON escaper (TOML basic strings share
// JSON's escape grammar).
func EscapeTOMLBasic(s string) string {
	return EscapeJSON(s, false)
}

// EscapePropertiesLike backslash-escapes backslash, newline, carriage
// return, tab, plus any caller-supplied extra bytes (e.g. "=" and ":" for
// .properties keys, "#" for dotenv).
func EscapePropertiesLike(s string, extra string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case strings.ContainsRune(extra, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeXMLAttr escapes &, <, > always and one of ' or " depending on
// preferApos (the quote character actually wrapping the attribute value).
func EscapeXMLAttr(s string, preferApos bool) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	out := r.Replace(s)
	if preferApos {
		out = strings.ReplaceAll(out, "'", "&apos;")
	} else {
		out = strings.ReplaceAll(out, `"`, "&quot;")
	}
	return out
}

// EscapeXMLText escapes only &, <, > for element text content.
func EscapeXMLText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
