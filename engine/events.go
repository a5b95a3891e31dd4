package engine

import (
	"snipsession/logger"
	"snipsession/types"
)

// EventType names an input to the engine's event loop
type EventType string

const (
	// Editor commands
	EventInsert EventType = "insert"
	EventExpand EventType = "expand"
	EventNext   EventType = "next"
	EventPrev   EventType = "prev"
	EventCancel EventType = "cancel"
	EventSelect EventType = "select"

	// Document change feed
	EventTextChanged EventType = "text_changed"

	// Async snippet resolution results
	EventSnippetReady EventType = "snippet_ready"
	EventSnippetError EventType = "snippet_error"
)

// Event is one unit of work for the event loop
type Event struct {
	Type EventType
	Data any
}

var editorEvents = map[string]EventType{
	string(EventInsert): EventInsert,
	string(EventExpand): EventExpand,
	string(EventNext):   EventNext,
	string(EventPrev):   EventPrev,
	string(EventCancel): EventCancel,
	string(EventSelect): EventSelect,
}

// EventTypeFromString maps an editor notification name to its EventType.
// Internal events are never accepted from the editor; unknown names map to "".
func EventTypeFromString(s string) EventType {
	return editorEvents[s]
}

type state int

const (
	stateIdle state = iota
	stateInSnippet
)

// String returns a human-readable name for the engine state
func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateInSnippet:
		return "InSnippet"
	default:
		return "Unknown"
	}
}

type transition struct {
	from    state
	event   EventType
	handler func(e *Engine, ev Event)
}

var transitions = []transition{
	{stateIdle, EventInsert, (*Engine).doInsert},
	{stateIdle, EventExpand, (*Engine).doExpand},
	{stateIdle, EventCancel, (*Engine).doCancel},

	{stateInSnippet, EventInsert, (*Engine).doInsert},
	{stateInSnippet, EventExpand, (*Engine).doExpand},
	{stateInSnippet, EventNext, (*Engine).doNext},
	{stateInSnippet, EventPrev, (*Engine).doPrev},
	{stateInSnippet, EventCancel, (*Engine).doCancel},
	{stateInSnippet, EventSelect, (*Engine).doSelect},
	{stateInSnippet, EventTextChanged, (*Engine).doTextChanged},
}

func findTransition(from state, event EventType) *transition {
	for i := range transitions {
		if transitions[i].from == from && transitions[i].event == event {
			return &transitions[i]
		}
	}
	return nil
}

// dispatch runs the handler registered for the current state and event.
// Returns false when the event has no meaning in the current state.
func (e *Engine) dispatch(ev Event) bool {
	trans := findTransition(e.state, ev.Type)
	if trans == nil {
		logger.Debug("no transition for %v in state %s", ev.Type, e.state)
		return false
	}
	trans.handler(e, ev)
	e.syncState()
	return true
}

func notificationArgs(ev Event) string {
	if n, ok := ev.Data.(*types.Notification); ok && n != nil {
		return n.Args
	}
	if s, ok := ev.Data.(string); ok {
		return s
	}
	return ""
}

func (e *Engine) doInsert(ev Event) {
	e.cancelExpansion()
	tmpl := notificationArgs(ev)
	if tmpl == "" {
		logger.Warn("insert: empty template")
		return
	}
	e.insertAtCursor(tmpl)
}

func (e *Engine) doExpand(ev Event) {
	name := notificationArgs(ev)
	if name == "" {
		logger.Warn("expand: empty snippet name")
		return
	}
	e.requestExpansion(name)
}

func (e *Engine) doNext(Event) { e.session.JumpNext() }

func (e *Engine) doPrev(Event) { e.session.JumpPrev() }

func (e *Engine) doSelect(Event) { e.session.SelectCurrentPlaceholder() }

func (e *Engine) doCancel(Event) {
	e.cancelExpansion()
	e.session.Detach()
}

func (e *Engine) doTextChanged(ev Event) {
	change, ok := ev.Data.(types.ChangeEvent)
	if !ok {
		logger.Error("text_changed: unexpected payload %T", ev.Data)
		return
	}
	e.session.OnDocumentChange(change)
}
