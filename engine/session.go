package engine

import (
	"errors"
	"strings"
	"time"

	"snipsession/logger"
	"snipsession/snippet"
	"snipsession/text"
	"snipsession/types"
)

// ErrNoDocument is returned when an operation needs a bound document
var ErrNoDocument = errors.New("no document bound to session")

type sessionState int

const (
	sessionInactive sessionState = iota
	sessionActive
)

// String returns a human-readable name for the session state
func (s sessionState) String() string {
	switch s {
	case sessionInactive:
		return "Inactive"
	case sessionActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// SessionConfig controls how templates are parsed on insertion
type SessionConfig struct {
	FinalTabstop bool // append an empty $0 when the template has none
	Variables    bool // resolve TM_* and CURRENT_* variables
	Now          func() time.Time
}

// Session drives one live snippet inside one document line.
//
// A Session is not safe for concurrent use; the Engine serializes every call
// through its event loop.
type Session struct {
	editor types.Editor
	config SessionConfig

	state     sessionState
	document  types.Document
	template  *snippet.Template
	startLine int // 0-indexed
	lineCount int

	// change counter read just before the session's last write
	changedTick int
	// highest change counter whose content the session has already folded in
	syncedTick int

	currIndex int
}

// NewSession creates an inactive session that drives editor
func NewSession(editor types.Editor, config SessionConfig) *Session {
	return &Session{
		editor:    editor,
		config:    config,
		state:     sessionInactive,
		currIndex: -1,
	}
}

// IsActive reports whether a snippet is live
func (s *Session) IsActive() bool { return s.state == sessionActive }

// CurrentIndex returns the focused tab-stop, or -1 before the first jump
func (s *Session) CurrentIndex() int { return s.currIndex }

// Template returns the live template, nil when none was inserted
func (s *Session) Template() *snippet.Template { return s.template }

// StartLine returns the 0-indexed line the snippet occupies
func (s *Session) StartLine() int { return s.startLine }

// Document returns the bound document, nil when unbound
func (s *Session) Document() types.Document { return s.document }

// InsertSnippet parses tmpl and writes its rendering over line of doc.
// An active session is detached first. Failures are logged and reported as
// false; no session becomes active until Attach.
func (s *Session) InsertSnippet(doc types.Document, line int, tmpl string) bool {
	defer logger.Trace("session.InsertSnippet")()

	if s.IsActive() {
		s.Detach()
	}
	if doc == nil {
		logger.Error("insert snippet: %v", ErrNoDocument)
		return false
	}

	opts := []snippet.ParseOption{snippet.WithFinalTabstop(s.config.FinalTabstop)}
	if s.config.Variables {
		opts = append(opts, snippet.WithVariables(s.variables(doc, line)))
	}

	parsed, err := snippet.Parse(tmpl, opts...)
	if err != nil {
		logger.Error("insert snippet: parse %q: %v", tmpl, err)
		return false
	}

	rendered := parsed.String()
	if strings.ContainsAny(rendered, "\r\n") {
		logger.Error("insert snippet: rendered text spans several lines: %q", rendered)
		return false
	}

	tick, err := doc.ChangedTick()
	if err != nil {
		logger.Error("insert snippet: read change counter: %v", err)
		return false
	}
	if err := doc.SetLine(line, rendered); err != nil {
		logger.Error("insert snippet: write line %d of %s: %v", line, doc.URI(), err)
		return false
	}

	s.document = doc
	s.template = parsed
	s.startLine = line
	s.changedTick = tick
	s.syncedTick = tick
	s.currIndex = -1
	logger.Debug("inserted snippet at %s:%d: %q", doc.URI(), line, rendered)
	return true
}

func (s *Session) variables(doc types.Document, line int) snippet.Variables {
	current, err := doc.Line(line)
	if err != nil {
		logger.Warn("snippet variables: read line %d: %v", line, err)
	}
	ctx := snippet.Context{
		FilePath:    doc.Name(),
		LineIndex:   line,
		CurrentLine: current,
	}
	if s.config.Now != nil {
		ctx.Now = s.config.Now()
	}
	return snippet.ContextVariables(ctx)
}

// Attach activates the inserted snippet on the cursor line and focuses its
// first tab-stop.
func (s *Session) Attach() {
	defer logger.Trace("session.Attach")()

	if s.template == nil || s.document == nil {
		logger.Warn("attach: no inserted snippet")
		return
	}

	row, err := s.editor.CursorLine()
	if err != nil {
		logger.Error("attach: read cursor: %v", err)
		return
	}
	lineCount, err := s.document.LineCount()
	if err != nil {
		logger.Error("attach: read line count: %v", err)
		return
	}

	s.startLine = row - 1
	s.lineCount = lineCount
	s.state = sessionActive

	first := s.template.FirstPlaceholder()
	if first == nil {
		return
	}
	s.jumpTo(first.Index)
	if !s.IsActive() {
		return
	}
	if err := s.editor.EnableSnippetMode(); err != nil {
		logger.Error("attach: enable snippet mode: %v", err)
	}
}

// Detach ends the session. It never fails from the caller's point of view.
func (s *Session) Detach() {
	if !s.IsActive() {
		return
	}
	defer logger.Trace("session.Detach")()

	s.state = sessionInactive
	s.document = nil
	if s.template == nil || !s.template.HasPlaceholders() {
		return
	}

	s.template = nil
	s.currIndex = -1
	if err := s.editor.DisableSnippetMode(); err != nil {
		logger.Error("detach: disable snippet mode: %v", err)
	}
}

// JumpTo focuses the first occurrence of tab-stop index
func (s *Session) JumpTo(index int) {
	if !s.IsActive() {
		return
	}
	s.jumpTo(index)
}

func (s *Session) jumpTo(index int) {
	s.EnsureCurrentLine()
	if !s.IsActive() {
		return
	}

	p, ok := s.template.Placeholder(index)
	offset, found := s.template.Offset(index)
	if !ok || !found {
		logger.Debug("jump: tab-stop %d no longer exists", index)
		s.currIndex = index
		return
	}

	line := s.template.String()
	col := text.ByteCol(line, offset)
	length := text.ByteLen(line, offset, text.RuneLen(p.Value()))
	lnum := s.startLine + 1

	var err error
	if p.HasChoice() {
		err = s.editor.ShowChoices(lnum, col, length, p.Choice)
	} else {
		err = s.editor.SelectRange(lnum, col, length)
	}
	if err != nil {
		logger.Error("jump to $%d: %v", index, err)
	}
	s.currIndex = index
}

// SelectCurrentPlaceholder re-selects the focused tab-stop
func (s *Session) SelectCurrentPlaceholder() {
	if !s.IsActive() || s.currIndex < 0 {
		return
	}
	if !s.CheckPosition() {
		return
	}
	s.jumpTo(s.currIndex)
}

// JumpNext focuses the next tab-stop, wrapping from the highest index to $0.
// It reports false when the session was inactive or ended by the position check.
func (s *Session) JumpNext() bool {
	if !s.IsActive() || !s.CheckPosition() {
		return false
	}

	maxIndex := s.template.MaxIndex()
	next := s.currIndex + 1
	if s.currIndex >= maxIndex {
		next = 0
	}
	s.jump(next)
	return true
}

// JumpPrev focuses the previous tab-stop, wrapping from $0 to the highest index
func (s *Session) JumpPrev() bool {
	if !s.IsActive() || !s.CheckPosition() {
		return false
	}

	maxIndex := s.template.MaxIndex()
	prev := s.currIndex - 1
	if s.currIndex <= 0 || s.currIndex > maxIndex {
		prev = maxIndex
	}
	s.jump(prev)
	return true
}

func (s *Session) jump(index int) {
	if _, ok := s.template.Placeholder(index); !ok {
		logger.Debug("jump: no tab-stop %d", index)
		s.currIndex = index
		return
	}
	s.jumpTo(index)
}

// CheckPosition detaches the session when the cursor has left the snippet
// line and reports whether navigation may proceed.
func (s *Session) CheckPosition() bool {
	if !s.IsActive() {
		return false
	}
	row, err := s.editor.CursorLine()
	if err != nil {
		logger.Error("check position: read cursor: %v", err)
		return false
	}
	if row-1 != s.startLine {
		logger.Debug("cursor left snippet line %d (now %d)", s.startLine+1, row)
		s.Detach()
		return false
	}
	return true
}

// EnsureCurrentLine folds any not yet reported edit of the snippet line into
// the template.
func (s *Session) EnsureCurrentLine() {
	if !s.IsActive() {
		return
	}
	snap, err := s.document.Snapshot(s.startLine)
	if err != nil {
		logger.Error("ensure current line: %v", err)
		return
	}
	if snap.Line == s.template.String() {
		return
	}
	// the notification for this edit is still queued
	s.syncedTick = max(s.syncedTick, snap.Tick)
	s.OnLineChange(snap.Line)
}

// OnLineChange reconciles the template with content, the new text of the
// snippet line. Edits outside every tab-stop, or inside $0, end the session.
func (s *Session) OnLineChange(content string) {
	if !s.IsActive() {
		return
	}

	edit := text.ComputeEdit(s.template.String(), content)
	if edit == nil {
		return
	}

	span, ok := s.template.LocateRange(edit.Offset, edit.End(), s.currIndex)
	if !ok {
		logger.Debug("edit at %d outside every tab-stop", edit.Offset)
		s.Detach()
		return
	}
	if span.Placeholder.IsFinal() {
		logger.Debug("edit at %d inside the final tab-stop", edit.Offset)
		s.Detach()
		return
	}

	updated, err := s.template.Update(span, edit)
	if err != nil {
		logger.Debug("reconcile edit %+v: %v", *edit, err)
		s.Detach()
		return
	}
	if updated == content {
		return
	}

	tick, err := s.document.ChangedTick()
	if err != nil {
		logger.Error("write back: read change counter: %v", err)
		s.Detach()
		return
	}
	s.changedTick = tick
	if err := s.document.SetLine(s.startLine, updated); err != nil {
		logger.Error("write back line %d: %v", s.startLine, err)
		s.Detach()
	}
}

// OnDocumentChange handles a change notification from the document adapter
func (s *Session) OnDocumentChange(ev types.ChangeEvent) {
	if !s.IsActive() || s.document == nil || ev.URI != s.document.URI() {
		return
	}
	if ev.Tick > 0 && ev.Tick <= s.syncedTick {
		logger.Debug("change %d already reconciled (at %d)", ev.Tick, s.syncedTick)
		return
	}

	snap, err := s.document.Snapshot(s.startLine)
	if err != nil {
		logger.Error("document change: read %s: %v", ev.URI, err)
		return
	}
	if snap.LineCount != s.lineCount {
		logger.Debug("line count changed %d -> %d", s.lineCount, snap.LineCount)
		s.Detach()
		return
	}

	s.syncedTick = snap.Tick
	if snap.Tick-s.changedTick == 1 {
		return
	}
	if snap.Line == s.template.String() {
		logger.Debug("change counter moved %d -> %d without a text change", s.changedTick, snap.Tick)
		s.Detach()
		return
	}
	s.OnLineChange(snap.Line)
}
