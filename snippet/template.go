// Package snippet models a parsed snippet as a tree of literal runs and
// tab-stops. Every tab-stop index owns one Placeholder record; tree nodes
// only refer to it by index, so mirrors always render the same value.
package snippet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"snipsession/types"
)

// FinalIndex is the tab-stop that marks where the cursor ends up.
const FinalIndex = 0

// maxDepth bounds nesting during traversal
const maxDepth = 64

var (
	// ErrRecursivePlaceholder is returned when a placeholder's value contains itself
	ErrRecursivePlaceholder = errors.New("placeholder contains itself")
	// ErrEditOutOfRange is returned when an edit does not fit inside the placeholder span
	ErrEditOutOfRange = errors.New("edit extends outside of placeholder")
)

// node is either a literal run (index < 0) or a reference to a tab-stop
type node struct {
	text  string
	index int
}

func literal(s string) *node { return &node{text: s, index: -1} }

func (n *node) isLiteral() bool { return n.index < 0 }

// Placeholder is the shared record of a tab-stop index
type Placeholder struct {
	Index  int
	Choice []string

	content []*node
	// defined is set once an occurrence supplied a default or choice;
	// later occurrences are mirrors.
	defined bool
	tmpl    *Template
}

// Value renders the current text of the placeholder
func (p *Placeholder) Value() string {
	var sb strings.Builder
	p.tmpl.render(&sb, p.content, 0)
	return sb.String()
}

// IsFinal reports whether this is the terminal tab-stop
func (p *Placeholder) IsFinal() bool { return p.Index == FinalIndex }

// HasChoice reports whether the placeholder offers a fixed list of values
func (p *Placeholder) HasChoice() bool { return len(p.Choice) > 0 }

func (p *Placeholder) String() string {
	return fmt.Sprintf("$%d(%q)", p.Index, p.Value())
}

// Span is one rendered occurrence of a placeholder. Start and End are rune offsets.
type Span struct {
	Placeholder *Placeholder
	Start       int
	End         int
	Depth       int
}

// Len returns the rune length of the occurrence
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether offset touches the span, boundaries included
func (s Span) Contains(offset int) bool { return offset >= s.Start && offset <= s.End }

// Template is a parsed snippet
type Template struct {
	nodes []*node
	arena map[int]*Placeholder
}

func newTemplate() *Template {
	return &Template{arena: make(map[int]*Placeholder)}
}

// placeholder returns the arena record for index, creating it if needed
func (t *Template) placeholder(index int) *Placeholder {
	p, ok := t.arena[index]
	if !ok {
		p = &Placeholder{Index: index, tmpl: t}
		t.arena[index] = p
	}
	return p
}

func (t *Template) render(sb *strings.Builder, nodes []*node, depth int) {
	if depth > maxDepth {
		return
	}
	for _, n := range nodes {
		if n.isLiteral() {
			sb.WriteString(n.text)
			continue
		}
		t.render(sb, t.arena[n.index].content, depth+1)
	}
}

// String renders the template to flat text
func (t *Template) String() string {
	var sb strings.Builder
	t.render(&sb, t.nodes, 0)
	return sb.String()
}

// Spans lists every rendered placeholder occurrence in document order.
// Nested occurrences follow their parent.
func (t *Template) Spans() []Span {
	var spans []Span
	t.layout(t.nodes, 0, 0, &spans)
	return spans
}

func (t *Template) layout(nodes []*node, offset, depth int, spans *[]Span) int {
	if depth > maxDepth {
		return offset
	}
	for _, n := range nodes {
		if n.isLiteral() {
			offset += utf8.RuneCountInString(n.text)
			continue
		}
		p := t.arena[n.index]
		i := len(*spans)
		*spans = append(*spans, Span{Placeholder: p, Start: offset, Depth: depth})
		offset = t.layout(p.content, offset, depth+1, spans)
		(*spans)[i].End = offset
	}
	return offset
}

// Indexes returns the reachable tab-stop indexes in ascending order
func (t *Template) Indexes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range t.Spans() {
		if !seen[s.Placeholder.Index] {
			seen[s.Placeholder.Index] = true
			out = append(out, s.Placeholder.Index)
		}
	}
	sort.Ints(out)
	return out
}

// HasPlaceholders reports whether any tab-stop is rendered
func (t *Template) HasPlaceholders() bool {
	return len(t.Spans()) > 0
}

// MaxIndex returns the highest reachable tab-stop index, or 0 when there is none
func (t *Template) MaxIndex() int {
	maxIdx := 0
	for _, s := range t.Spans() {
		maxIdx = max(maxIdx, s.Placeholder.Index)
	}
	return maxIdx
}

// Placeholder looks up a reachable tab-stop by index
func (t *Template) Placeholder(index int) (*Placeholder, bool) {
	for _, s := range t.Spans() {
		if s.Placeholder.Index == index {
			return s.Placeholder, true
		}
	}
	return nil, false
}

// FirstPlaceholder returns the first tab-stop in tab order: the lowest
// non-terminal index, or the terminal one when it is the only tab-stop.
func (t *Template) FirstPlaceholder() *Placeholder {
	var first *Placeholder
	for _, s := range t.Spans() {
		p := s.Placeholder
		if p.IsFinal() {
			if first == nil {
				first = p
			}
			continue
		}
		if first == nil || first.IsFinal() || p.Index < first.Index {
			first = p
		}
	}
	return first
}

// Offset returns where the first occurrence of index starts in the rendered text
func (t *Template) Offset(index int) (int, bool) {
	for _, s := range t.Spans() {
		if s.Placeholder.Index == index {
			return s.Start, true
		}
	}
	return 0, false
}

// Locate finds the placeholder occurrence that contains offset.
//
// Placeholder spans include both boundaries, literal runs never match, so an
// offset at the edge of a placeholder resolves to the placeholder. When several
// occurrences contain offset, the one with index hint wins, then any
// non-terminal one, then an occurrence starting at offset, then the innermost.
func (t *Template) Locate(offset, hint int) (Span, bool) {
	return t.LocateRange(offset, offset, hint)
}

// LocateRange is Locate for the range [start, end]: only occurrences holding
// the whole range are candidates.
func (t *Template) LocateRange(start, end, hint int) (Span, bool) {
	var best Span
	found := false
	for _, s := range t.Spans() {
		if !s.Contains(start) || end > s.End {
			continue
		}
		if !found || betterSpan(s, best, start, hint) {
			best = s
			found = true
		}
	}
	return best, found
}

func betterSpan(candidate, current Span, offset, hint int) bool {
	ch := candidate.Placeholder.Index == hint
	cu := current.Placeholder.Index == hint
	if ch != cu {
		return ch
	}
	cf := candidate.Placeholder.IsFinal()
	uf := current.Placeholder.IsFinal()
	if cf != uf {
		return uf
	}
	cs := candidate.Start == offset
	us := current.Start == offset
	if cs != us {
		return cs
	}
	return candidate.Depth > current.Depth
}

// SetValue replaces the value of a tab-stop. Every mirror renders the new
// value and nested tab-stops inside the old value disappear.
func (t *Template) SetValue(index int, value string) {
	p := t.placeholder(index)
	p.content = []*node{literal(value)}
	p.defined = true
}

// Update splices edit, given in rendered-text offsets, into the placeholder of
// span and returns the re-rendered text.
func (t *Template) Update(span Span, edit *types.TextEdit) (string, error) {
	if edit.Offset < span.Start || edit.End() > span.End {
		return "", fmt.Errorf("%w: edit [%d,%d] placeholder $%d [%d,%d]",
			ErrEditOutOfRange, edit.Offset, edit.End(), span.Placeholder.Index, span.Start, span.End)
	}
	rel := types.TextEdit{
		Offset:        edit.Offset - span.Start,
		RemovedLength: edit.RemovedLength,
		InsertedText:  edit.InsertedText,
	}
	t.SetValue(span.Placeholder.Index, rel.Apply(span.Placeholder.Value()))
	return t.String(), nil
}

// checkCycles rejects placeholders whose value references themselves
func (t *Template) checkCycles() error {
	const (
		visiting = iota + 1
		done
	)
	state := make(map[int]int)
	var visit func(index int) error
	visit = func(index int) error {
		switch state[index] {
		case visiting:
			return fmt.Errorf("%w: $%d", ErrRecursivePlaceholder, index)
		case done:
			return nil
		}
		state[index] = visiting
		for _, n := range t.arena[index].content {
			if n.isLiteral() {
				continue
			}
			if err := visit(n.index); err != nil {
				return err
			}
		}
		state[index] = done
		return nil
	}
	for idx := range t.arena {
		if err := visit(idx); err != nil {
			return err
		}
	}
	return nil
}
