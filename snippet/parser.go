package snippet

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports malformed snippet syntax
type ParseError struct {
	Offset int // rune offset into the template
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("snippet syntax error at %d: %s", e.Offset, e.Msg)
}

// Resolver supplies values for snippet variables such as $TM_FILENAME
type Resolver interface {
	Resolve(name string) (string, bool)
}

// Variables is a map-backed Resolver
type Variables map[string]string

// Resolve implements Resolver
func (v Variables) Resolve(name string) (string, bool) {
	value, ok := v[name]
	return value, ok
}

type parseOptions struct {
	finalTabstop bool
	vars         Resolver
}

// ParseOption configures Parse
type ParseOption func(*parseOptions)

// WithFinalTabstop controls whether an empty $0 is appended to templates
// that have tab-stops but no explicit $0. Enabled by default.
func WithFinalTabstop(enabled bool) ParseOption {
	return func(o *parseOptions) { o.finalTabstop = enabled }
}

// WithVariables sets the resolver used for $NAME and ${NAME:default}
func WithVariables(r Resolver) ParseOption {
	return func(o *parseOptions) { o.vars = r }
}

// Parse turns a snippet string into a Template.
//
// Supported syntax: $1, ${1}, ${1:default}, ${1|one,two|}, $NAME,
// ${NAME}, ${NAME:default}; defaults may nest. \$, \} and \\ escape.
func Parse(template string, opts ...ParseOption) (*Template, error) {
	o := parseOptions{finalTabstop: true}
	for _, opt := range opts {
		opt(&o)
	}

	p := &parser{src: []rune(template), tmpl: newTemplate(), vars: o.vars}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	p.tmpl.nodes = nodes

	if err := p.tmpl.checkCycles(); err != nil {
		return nil, err
	}

	if o.finalTabstop && p.tmpl.HasPlaceholders() {
		if _, ok := p.tmpl.Placeholder(FinalIndex); !ok {
			p.tmpl.placeholder(FinalIndex)
			p.tmpl.nodes = append(p.tmpl.nodes, &node{index: FinalIndex})
		}
	}
	return p.tmpl, nil
}

type parser struct {
	src  []rune
	pos  int
	tmpl *Template
	vars Resolver
	// tab-stops whose default is being parsed
	open []int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek(ahead int) (rune, bool) {
	if p.pos+ahead >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos+ahead], true
}

// parseNodes reads until end of input or, when nested, an unescaped '}'
// which is left for the caller to consume.
func (p *parser) parseNodes(nested bool) ([]*node, error) {
	var nodes []*node
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			nodes = append(nodes, literal(lit.String()))
			lit.Reset()
		}
	}

	for p.pos < len(p.src) {
		r := p.src[p.pos]
		switch {
		case r == '\\':
			if next, ok := p.peek(1); ok && (next == '$' || next == '}' || next == '\\') {
				lit.WriteRune(next)
				p.pos += 2
				continue
			}
			lit.WriteRune(r)
			p.pos++

		case r == '}' && nested:
			flush()
			return nodes, nil

		case r == '$':
			parsed, matched, err := p.parseDollar()
			if err != nil {
				return nil, err
			}
			if !matched {
				lit.WriteRune(r)
				p.pos++
				continue
			}
			for _, n := range parsed {
				if n.isLiteral() {
					lit.WriteString(n.text)
					continue
				}
				flush()
				nodes = append(nodes, n)
			}

		default:
			lit.WriteRune(r)
			p.pos++
		}
	}

	if nested {
		return nil, p.errorf("missing closing '}'")
	}
	flush()
	return nodes, nil
}

// parseDollar parses the construct starting at '$'. matched is false, and
// nothing is consumed, when the '$' is a plain character.
func (p *parser) parseDollar() (nodes []*node, matched bool, err error) {
	next, ok := p.peek(1)
	if !ok {
		return nil, false, nil
	}

	switch {
	case isDigit(next):
		p.pos++
		index := p.readInt()
		return []*node{p.tabstop(index, nil, nil, false)}, true, nil

	case isVarStart(next):
		p.pos++
		return p.variable(p.readName(), nil), true, nil

	case next == '{':
		return p.parseBraced()
	}
	return nil, false, nil
}

func (p *parser) parseBraced() ([]*node, bool, error) {
	start := p.pos
	p.pos += 2 // ${

	r, ok := p.peek(0)
	switch {
	case ok && isDigit(r):
		index := p.readInt()
		nodes, err := p.parseTabstopBody(index)
		return nodes, true, err

	case ok && isVarStart(r):
		name := p.readName()
		r, ok = p.peek(0)
		switch {
		case ok && r == '}':
			p.pos++
			return p.variable(name, nil), true, nil
		case ok && r == ':':
			p.pos++
			def, err := p.parseNodes(true)
			if err != nil {
				return nil, true, err
			}
			p.pos++ // }
			return p.variable(name, def), true, nil
		case ok && r == '/':
			return nil, true, p.errorf("variable transforms are not supported")
		}
		return nil, true, p.errorf("unexpected character in variable ${%s", name)
	}

	// Not a placeholder: treat "${" as text
	p.pos = start
	return nil, false, nil
}

func (p *parser) parseTabstopBody(index int) ([]*node, error) {
	r, ok := p.peek(0)
	if !ok {
		return nil, p.errorf("unterminated placeholder ${%d", index)
	}

	switch r {
	case '}':
		p.pos++
		return []*node{p.tabstop(index, nil, nil, false)}, nil

	case ':':
		p.pos++
		for _, open := range p.open {
			if open == index {
				return nil, fmt.Errorf("%w: $%d", ErrRecursivePlaceholder, index)
			}
		}
		p.open = append(p.open, index)
		content, err := p.parseNodes(true)
		p.open = p.open[:len(p.open)-1]
		if err != nil {
			return nil, err
		}
		p.pos++ // }
		return []*node{p.tabstop(index, content, nil, true)}, nil

	case '|':
		p.pos++
		choices, err := p.parseChoices()
		if err != nil {
			return nil, err
		}
		return []*node{p.tabstop(index, []*node{literal(choices[0])}, choices, true)}, nil

	case '/':
		return nil, p.errorf("placeholder transforms are not supported")
	}
	return nil, p.errorf("unexpected %q in placeholder ${%d", r, index)
}

// parseChoices reads "a,b,c|}" after the opening '|'
func (p *parser) parseChoices() ([]string, error) {
	var choices []string
	var cur strings.Builder
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		switch r {
		case '\\':
			if next, ok := p.peek(1); ok && strings.ContainsRune(`,|\$}`, next) {
				cur.WriteRune(next)
				p.pos += 2
				continue
			}
			cur.WriteRune(r)
			p.pos++
		case ',':
			choices = append(choices, cur.String())
			cur.Reset()
			p.pos++
		case '|':
			if next, ok := p.peek(1); ok && next == '}' {
				choices = append(choices, cur.String())
				p.pos += 2
				return choices, nil
			}
			return nil, p.errorf("expected '}' after choice list")
		default:
			cur.WriteRune(r)
			p.pos++
		}
	}
	return nil, p.errorf("unterminated choice list")
}

// tabstop records an occurrence of index. The first occurrence that brings a
// default or a choice list defines the value; others mirror it.
func (p *parser) tabstop(index int, content []*node, choice []string, hasDefault bool) *node {
	ph := p.tmpl.placeholder(index)
	if hasDefault && !ph.defined {
		ph.content = content
		ph.Choice = choice
		ph.defined = true
	}
	return &node{index: index}
}

// variable resolves a variable to literal text, falling back to its default
func (p *parser) variable(name string, def []*node) []*node {
	if p.vars != nil {
		if value, ok := p.vars.Resolve(name); ok {
			return []*node{literal(value)}
		}
	}
	return def
}

func (p *parser) readInt() int {
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	n, err := strconv.Atoi(string(p.src[start:p.pos]))
	if err != nil {
		// Only digits were consumed, so this is an overflow
		return int(^uint(0) >> 1)
	}
	return n
}

func (p *parser) readName() string {
	start := p.pos
	for p.pos < len(p.src) && isVarChar(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func isDigit(r rune) bool    { return r >= '0' && r <= '9' }
func isVarStart(r rune) bool { return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isVarChar(r rune) bool  { return isVarStart(r) || isDigit(r) }
