package placeholder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tasklattice/tasklattice/pkg/tlsource"
)

// Grammar (body starts with "TL", spec.md 4.B):
//
//	param    := "TL" IDENT "=" literal ("," meta)*
//	meta     := "domain" ":" (interval | set)
//	          | "type"   ":" IDENT
//	          | "desc"   ":" STRING
//	interval := ("(" | "[") number "," number (")" | "]")
//	set      := "{" [literal ("," literal)*] "}"
//	literal  := STRING | INT | FLOAT | BOOL

type parser struct {
	src  *tlsource.Source
	text string // the placeholder's inner span text
	base int    // offset of text[0] within src.Text, for error locations
	pos  int
}

// ParseUnresolved parses a Placeholder's inner body into a ParamUnresolved.
func ParseUnresolved(ph *Placeholder) (*ParamUnresolved, error) {
	p := &parser{
		src:  ph.Source,
		text: ph.Source.Slice(ph.InnerSpan),
		base: ph.InnerSpan.Start,
	}
	return p.parseParam(ph)
}

func (p *parser) errf(at int, format string, args ...any) error {
	loc := p.src.DescribeSpan(tlsource.Span{Start: at, End: at + 1})
	return fmt.Errorf("%s: %s", loc, fmt.Sprintf(format, args...))
}

func (p *parser) skipWS() {
	for p.pos < len(p.text) && isSpace(p.text[p.pos]) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.text) {
		return 0
	}
	return p.text[p.pos]
}

func (p *parser) absPos() int { return p.base + p.pos }

func (p *parser) expectByte(b byte) error {
	p.skipWS()
	if p.peek() != b {
		return p.errf(p.absPos(), "expected %q", string(b))
	}
	p.pos++
	return nil
}

func (p *parser) readIdent() (string, error) {
	p.skipWS()
	start := p.pos
	if p.pos >= len(p.text) || !identStartRune(p.text[p.pos]) {
		return "", p.errf(p.absPos(), "expected identifier")
	}
	p.pos++
	for p.pos < len(p.text) && isIdentRune(rune(p.text[p.pos])) {
		p.pos++
	}
	return p.text[start:p.pos], nil
}

func identStartRune(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func (p *parser) parseParam(ph *Placeholder) (*ParamUnresolved, error) {
	p.skipWS()
	kw, err := p.readIdent()
	if err != nil {
		return nil, err
	}
	if kw != "TL" {
		return nil, p.errf(p.base, "placeholder body must start with \"TL\", got %q", kw)
	}
	name, err := p.readIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectByte('='); err != nil {
		return nil, err
	}
	def, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	pu := &ParamUnresolved{
		Name:        Name(name),
		Default:     def,
		Placeholder: ph,
	}
	seen := map[string]bool{}

	for {
		p.skipWS()
		if p.pos >= len(p.text) {
			break
		}
		if p.peek() != ',' {
			return nil, p.errf(p.absPos(), "unexpected trailing content in placeholder body")
		}
		p.pos++
		p.skipWS()
		key, err := p.readIdent()
		if err != nil {
			return nil, err
		}
		if seen[key] {
			return nil, p.errf(p.absPos(), "duplicate meta key %q", key)
		}
		seen[key] = true
		if err := p.expectByte(':'); err != nil {
			return nil, err
		}
		switch key {
		case "type":
			p.skipWS()
			typeStart := p.absPos()
			t, err := p.readIdent()
			if err != nil {
				return nil, err
			}
			switch t {
			case "str", "int", "float", "bool":
			default:
				return nil, p.errf(typeStart, "unknown type %q (expected str|int|float|bool)", t)
			}
			pu.DeclaredType = t
		case "domain":
			dom, err := p.parseDomain()
			if err != nil {
				return nil, err
			}
			pu.Domain = dom
		case "desc":
			p.skipWS()
			if p.peek() != '"' && p.peek() != '\'' {
				return nil, p.errf(p.absPos(), "desc value must be a quoted string")
			}
			s, err := p.parseString()
			if err != nil {
				return nil, err
			}
			pu.Description = s
		default:
			return nil, p.errf(p.absPos()-len(key), "unknown meta key %q (expected type|domain|desc)", key)
		}
	}

	return pu, nil
}

func (p *parser) parseLiteral() (Value, error) {
	p.skipWS()
	switch p.peek() {
	case '"', '\'':
		s, err := p.parseString()
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	default:
		return p.parseNumberOrBool()
	}
}

func (p *parser) parseString() (string, error) {
	quote := p.peek()
	p.pos++
	var b strings.Builder
	for {
		if p.pos >= len(p.text) {
			return "", p.errf(p.absPos(), "unterminated string literal")
		}
		c := p.text[p.pos]
		if c == quote {
			p.pos++
			return b.String(), nil
		}
		if c == '\\' && p.pos+1 < len(p.text) {
			p.pos++
			switch p.text[p.pos] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			default:
				b.WriteByte(p.text[p.pos])
			}
			p.pos++
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
}

func (p *parser) parseNumberOrBool() (Value, error) {
	start := p.pos
	for p.pos < len(p.text) && isIdentRune(rune(p.text[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		// Might be a number starting with '-' or '.'.
		return p.parseNumber()
	}
	word := p.text[start:p.pos]
	switch strings.ToLower(word) {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	// It wasn't a bool keyword; it must be a bare number (rewind and parse).
	p.pos = start
	return p.parseNumber()
}

func (p *parser) parseNumber() (Value, error) {
	start := p.pos
	if p.pos < len(p.text) && (p.text[p.pos] == '-' || p.text[p.pos] == '+') {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.text) {
		c := p.text[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !isFloat {
			isFloat = true
			p.pos++
			continue
		}
		if (c == 'e' || c == 'E') && p.pos > start {
			isFloat = true
			p.pos++
			if p.pos < len(p.text) && (p.text[p.pos] == '+' || p.text[p.pos] == '-') {
				p.pos++
			}
			continue
		}
		break
	}
	lit := p.text[start:p.pos]
	if lit == "" || lit == "-" || lit == "+" {
		return Value{}, p.errf(p.base+start, "expected a number, string, or boolean literal")
	}
	if isFloat {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, p.errf(p.base+start, "malformed float literal %q", lit)
		}
		return Float(f), nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return Value{}, p.errf(p.base+start, "malformed integer literal %q", lit)
	}
	return Int(n), nil
}

func (p *parser) parseDomain() (*DomainRaw, error) {
	p.skipWS()
	switch p.peek() {
	case '(', '[':
		iv, err := p.parseInterval()
		if err != nil {
			return nil, err
		}
		return &DomainRaw{Interval: iv}, nil
	case '{':
		set, err := p.parseSet()
		if err != nil {
			return nil, err
		}
		return &DomainRaw{Set: set}, nil
	default:
		return nil, p.errf(p.absPos(), "malformed domain: expected interval \"(\"/\"[\" or set \"{\"")
	}
}

func (p *parser) parseInterval() (*IntervalRaw, error) {
	open := p.peek()
	p.pos++
	lowerVal, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if err := p.expectByte(','); err != nil {
		return nil, err
	}
	p.skipWS()
	upperVal, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	p.skipWS()
	closeAt := p.absPos()
	close := p.peek()
	if close != ')' && close != ']' {
		return nil, p.errf(closeAt, "malformed interval: expected \")\" or \"]\"")
	}
	p.pos++
	return &IntervalRaw{
		Lower:          lowerVal,
		Upper:          upperVal,
		InclusiveLower: open == '[',
		InclusiveUpper: close == ']',
	}, nil
}

func (p *parser) parseSet() (*SetRaw, error) {
	p.pos++ // consume '{'
	var values []Value
	p.skipWS()
	if p.peek() == '}' {
		p.pos++
		return &SetRaw{Values: values}, nil
	}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		p.skipWS()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() == '}' {
			p.pos++
			break
		}
		return nil, p.errf(p.absPos(), "malformed set: expected \",\" or \"}\"")
	}
	return &SetRaw{Values: values}, nil
}
