package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"snipsession/assert"
	"snipsession/types"
)

// --- Mock implementations ---

// mockDocument implements types.Document over an in-memory line slice.
// Every mutation bumps the change counter by one.
type mockDocument struct {
	mu    sync.Mutex
	uri   string
	name  string
	lines []string
	tick  int

	// Track method calls
	setLineCalls int
	setLineErr   error
}

func newMockDocument(lines ...string) *mockDocument {
	return &mockDocument{
		uri:   "test://buffer/1",
		name:  "/src/app/main.go",
		lines: append([]string{}, lines...),
		tick:  1,
	}
}

func (d *mockDocument) URI() string  { return d.uri }
func (d *mockDocument) Name() string { return d.name }

func (d *mockDocument) ChangedTick() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick, nil
}

func (d *mockDocument) LineCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lines), nil
}

func (d *mockDocument) Line(line int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line < 0 || line >= len(d.lines) {
		return "", fmt.Errorf("line %d out of range", line)
	}
	return d.lines[line], nil
}

func (d *mockDocument) SetLine(line int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLineCalls++
	if d.setLineErr != nil {
		return d.setLineErr
	}
	if line < 0 || line >= len(d.lines) {
		return fmt.Errorf("line %d out of range", line)
	}
	d.lines[line] = text
	d.tick++
	return nil
}

func (d *mockDocument) Snapshot(line int) (*types.DocumentSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := &types.DocumentSnapshot{Tick: d.tick, LineCount: len(d.lines)}
	if line >= 0 && line < len(d.lines) {
		snap.Line = d.lines[line]
	}
	return snap, nil
}

// edit simulates a user edit of one line and returns its change notification
func (d *mockDocument) edit(line int, text string) types.ChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines[line] = text
	d.tick++
	return types.ChangeEvent{URI: d.uri, Tick: d.tick}
}

// insertLine simulates the user opening a new line below line
func (d *mockDocument) insertLine(line int) types.ChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines[:line+1], append([]string{""}, d.lines[line+1:]...)...)
	d.tick++
	return types.ChangeEvent{URI: d.uri, Tick: d.tick}
}

func (d *mockDocument) line(n int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines[n]
}

func (d *mockDocument) writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setLineCalls
}

type selection struct {
	line    int
	col     int
	length  int
	choices []string
}

// mockBuffer implements the Buffer interface for testing
type mockBuffer struct {
	mu  sync.Mutex
	row int
	doc *mockDocument

	// Track method calls
	selections   []selection
	enableCalls  int
	disableCalls int
	disableErr   error
	watchCalls   int

	eventHandler  func(n *types.Notification)
	changeHandler func(ev types.ChangeEvent)
}

func newMockBuffer(doc *mockDocument) *mockBuffer {
	return &mockBuffer{row: 1, doc: doc}
}

func (b *mockBuffer) CursorLine() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.row, nil
}

func (b *mockBuffer) SelectRange(line, col, length int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selections = append(b.selections, selection{line: line, col: col, length: length})
	return nil
}

func (b *mockBuffer) ShowChoices(line, col, length int, options []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selections = append(b.selections, selection{line: line, col: col, length: length, choices: options})
	return nil
}

func (b *mockBuffer) EnableSnippetMode() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enableCalls++
	return nil
}

func (b *mockBuffer) DisableSnippetMode() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disableCalls++
	return b.disableErr
}

func (b *mockBuffer) CurrentDocument() (types.Document, error) {
	if b.doc == nil {
		return nil, errors.New("no current buffer")
	}
	return b.doc, nil
}

func (b *mockBuffer) Watch(doc types.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchCalls++
	return nil
}

func (b *mockBuffer) RegisterEventHandler(handler func(n *types.Notification)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventHandler = handler
	return nil
}

func (b *mockBuffer) RegisterChangeHandler(handler func(ev types.ChangeEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeHandler = handler
	return nil
}

func (b *mockBuffer) moveTo(row int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.row = row
}

func (b *mockBuffer) lastSelection() selection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.selections) == 0 {
		return selection{}
	}
	return b.selections[len(b.selections)-1]
}

func (b *mockBuffer) selectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.selections)
}

// mockProvider implements types.Provider for testing
type mockProvider struct {
	mu       sync.Mutex
	snippets map[string]string
	err      error
	block    chan struct{} // when set, GetSnippet waits for it or ctx
	calls    int
	lastReq  *types.SnippetRequest
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		snippets: map[string]string{
			"call": "foo(${1:bar}, ${2:baz})$0",
		},
	}
}

func (p *mockProvider) GetSnippet(ctx context.Context, req *types.SnippetRequest) (*types.SnippetResponse, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	body, ok := p.snippets[req.Name]
	if !ok {
		return nil, types.ErrSnippetNotFound
	}
	return &types.SnippetResponse{Name: req.Name, Body: body}, nil
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// --- Helper functions ---

func createTestEngine(buf *mockBuffer, prov *mockProvider) *Engine {
	eng, _ := NewEngine(prov, buf, EngineConfig{
		ResolveTimeout: time.Second,
		EventBuffer:    10,
		Session:        SessionConfig{FinalTabstop: true},
	})
	return eng
}

func notification(event, args string) Event {
	return Event{
		Type: EventTypeFromString(event),
		Data: &types.Notification{Event: event, Buffer: 1, Args: args},
	}
}

func (e *Engine) currentState() state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Tests ---

func TestEngineCreation(t *testing.T) {
	buf := newMockBuffer(newMockDocument("x"))
	eng, err := NewEngine(newMockProvider(), buf, EngineConfig{})

	assert.NoError(t, err, "NewEngine")
	assert.NotNil(t, eng, "NewEngine")
	assert.Equal(t, stateIdle, eng.state, "initial state")
	assert.Equal(t, defaultResolveTimeout, eng.config.ResolveTimeout, "default resolve timeout")
	assert.Equal(t, defaultEventBuffer, cap(eng.eventChan), "default event buffer")
	assert.False(t, eng.Session().IsActive(), "session starts inactive")
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state state
		want  string
	}{
		{stateIdle, "Idle"},
		{stateInSnippet, "InSnippet"},
		{state(99), "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String(), "state String")
	}
}

func TestResolveStateString(t *testing.T) {
	assert.Equal(t, "None", resolveNone.String(), "resolveNone")
	assert.Equal(t, "InFlight", resolveInFlight.String(), "resolveInFlight")
	assert.Equal(t, "Unknown", resolveState(42).String(), "unknown resolve state")
}

func TestFindTransition(t *testing.T) {
	tests := []struct {
		from  state
		event EventType
		want  bool // whether a transition should exist
	}{
		{stateIdle, EventInsert, true},
		{stateIdle, EventExpand, true},
		{stateIdle, EventCancel, true},
		{stateIdle, EventNext, false},
		{stateIdle, EventTextChanged, false},
		{stateInSnippet, EventInsert, true},
		{stateInSnippet, EventNext, true},
		{stateInSnippet, EventPrev, true},
		{stateInSnippet, EventSelect, true},
		{stateInSnippet, EventTextChanged, true},
		{stateInSnippet, EventSnippetReady, false},
	}

	for _, tt := range tests {
		got := findTransition(tt.from, tt.event) != nil
		assert.Equal(t, tt.want, got, fmt.Sprintf("findTransition(%s, %s)", tt.from, tt.event))
	}
}

func TestEventTypeFromString(t *testing.T) {
	tests := []struct {
		input string
		want  EventType
	}{
		{"insert", EventInsert},
		{"expand", EventExpand},
		{"next", EventNext},
		{"prev", EventPrev},
		{"cancel", EventCancel},
		{"select", EventSelect},
		{"text_changed", ""},
		{"snippet_ready", ""},
		{"unknown_event", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EventTypeFromString(tt.input), "EventTypeFromString "+tt.input)
	}
}

func TestDispatch_ValidTransition(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	result := eng.dispatch(notification("insert", "x${1:y}"))

	assert.True(t, result, "dispatch valid transition")
	assert.Equal(t, stateInSnippet, eng.state, "state follows the session")
}

func TestDispatch_InvalidTransition(t *testing.T) {
	buf := newMockBuffer(newMockDocument(""))
	eng := createTestEngine(buf, newMockProvider())

	// Next from Idle has no transition defined
	result := eng.dispatch(notification("next", ""))

	assert.False(t, result, "dispatch invalid transition")
	assert.Equal(t, 0, buf.selectionCount(), "no navigation")
}

func TestEngine_InsertAtCursor(t *testing.T) {
	doc := newMockDocument("package main", "", "func main() {", "", "}")
	buf := newMockBuffer(doc)
	buf.row = 4
	eng := createTestEngine(buf, newMockProvider())

	eng.handleEvent(notification("insert", "foo(${1:bar}, ${2:baz})$0"))

	assert.Equal(t, "foo(bar, baz)", doc.line(3), "rendered line")
	assert.Equal(t, stateInSnippet, eng.state, "state after insert")
	assert.Equal(t, 1, buf.watchCalls, "document watched")
	assert.Equal(t, selection{line: 4, col: 5, length: 3}, buf.lastSelection(), "first tab-stop selected")
	assert.Equal(t, 1, buf.enableCalls, "snippet mode enabled")
}

func TestEngine_InsertEmptyTemplate(t *testing.T) {
	doc := newMockDocument("keep")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	eng.handleEvent(notification("insert", ""))

	assert.Equal(t, "keep", doc.line(0), "document untouched")
	assert.Equal(t, stateIdle, eng.state, "state after empty insert")
}

func TestEngine_CancelEndsSession(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	eng.handleEvent(notification("insert", "${1:a} ${2:b}"))
	assert.Equal(t, stateInSnippet, eng.state, "state after insert")

	eng.handleEvent(notification("cancel", ""))
	assert.Equal(t, stateIdle, eng.state, "state after cancel")
	assert.False(t, eng.Session().IsActive(), "session inactive")
	assert.Equal(t, 1, buf.disableCalls, "snippet mode disabled")
}

func TestEngine_TextChangedFoldsEdit(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	eng.handleEvent(notification("insert", "${1:a} = $1"))
	ev := doc.edit(0, "ab = a")
	eng.handleEvent(Event{Type: EventTextChanged, Data: ev})

	assert.Equal(t, "ab = ab", doc.line(0), "mirror written back")
	assert.Equal(t, stateInSnippet, eng.state, "still in snippet")
}

func TestEngine_TextChangedWhileIdleIgnored(t *testing.T) {
	doc := newMockDocument("x")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	ev := doc.edit(0, "y")
	eng.handleEvent(Event{Type: EventTextChanged, Data: ev})

	assert.Equal(t, stateIdle, eng.state, "still idle")
	assert.Equal(t, 0, doc.writes(), "no writes")
}

func TestEngine_NavigationEvents(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())

	eng.handleEvent(notification("insert", "${1:a} ${2:b}"))
	eng.handleEvent(notification("next", ""))
	assert.Equal(t, 2, eng.Session().CurrentIndex(), "after next")

	eng.handleEvent(notification("prev", ""))
	assert.Equal(t, 1, eng.Session().CurrentIndex(), "after prev")

	before := buf.selectionCount()
	eng.handleEvent(notification("select", ""))
	assert.Equal(t, before+1, buf.selectionCount(), "select re-selects")
	assert.Equal(t, selection{line: 1, col: 1, length: 1}, buf.lastSelection(), "reselected $1")
}

func TestEngine_ExpandResolvesAndInserts(t *testing.T) {
	doc := newMockDocument("", "")
	buf := newMockBuffer(doc)
	buf.row = 2
	prov := newMockProvider()
	eng := createTestEngine(buf, prov)
	eng.Start(context.Background())
	defer eng.Stop()

	assert.True(t, eng.enqueue(notification("expand", "call")), "enqueue expand")

	waitFor(t, "snippet inserted", func() bool { return eng.currentState() == stateInSnippet })
	assert.Equal(t, "foo(bar, baz)", doc.line(1), "expanded line")
	assert.Equal(t, "/src/app/main.go", prov.lastReq.FilePath, "request carries file path")
}

func TestEngine_ExpandUnknownSnippet(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	prov := newMockProvider()
	eng := createTestEngine(buf, prov)
	eng.Start(context.Background())
	defer eng.Stop()

	eng.enqueue(notification("expand", "missing"))

	waitFor(t, "resolution finished", func() bool {
		eng.mu.RLock()
		defer eng.mu.RUnlock()
		return prov.callCount() == 1 && eng.resolveState == resolveNone
	})
	assert.Equal(t, stateIdle, eng.currentState(), "still idle")
	assert.Equal(t, 0, doc.writes(), "nothing written")
}

func TestEngine_ExpandDroppedWhenCursorMoved(t *testing.T) {
	doc := newMockDocument("", "")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())
	eng.mainCtx = context.Background()

	eng.requestExpansion("call")
	assert.Equal(t, resolveInFlight, eng.resolveState, "in flight")

	buf.moveTo(2)
	eng.handleSnippetReady(&types.SnippetResponse{Name: "call", Body: "x${1:y}"})

	assert.Equal(t, resolveNone, eng.resolveState, "resolution cleared")
	assert.Equal(t, 0, doc.writes(), "nothing written")
}

func TestEngine_StaleResolutionDropped(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	prov := newMockProvider()
	prov.block = make(chan struct{})
	eng := createTestEngine(buf, prov)
	eng.mainCtx = context.Background()

	eng.requestExpansion("call")
	first := eng.pending.generation
	eng.requestExpansion("call")
	assert.NotEqual(t, first, eng.pending.generation, "new generation")

	handled := eng.handleBackgroundEvent(Event{
		Type: EventSnippetReady,
		Data: &resolveResult{generation: first, name: "call", resp: &types.SnippetResponse{Body: "stale"}},
	})

	assert.True(t, handled, "background event consumed")
	assert.Equal(t, resolveInFlight, eng.resolveState, "newer resolution still pending")
	assert.Equal(t, 0, doc.writes(), "stale body not inserted")
	close(prov.block)
}

func TestEngine_InsertCancelsExpansion(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	prov := newMockProvider()
	prov.block = make(chan struct{})
	defer close(prov.block)
	eng := createTestEngine(buf, prov)
	eng.mainCtx = context.Background()

	eng.handleEvent(notification("expand", "call"))
	assert.Equal(t, resolveInFlight, eng.resolveState, "in flight")

	eng.handleEvent(notification("insert", "${1:now}"))
	assert.Equal(t, resolveNone, eng.resolveState, "expansion canceled")
	assert.Nil(t, eng.pending, "pending cleared")
	assert.Equal(t, "now", doc.line(0), "inserted template")
}

func TestEngine_RegisterEventHandler(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())
	eng.mainCtx = context.Background()

	eng.RegisterEventHandler()
	assert.NotNil(t, buf.eventHandler, "event handler registered")
	assert.NotNil(t, buf.changeHandler, "change handler registered")

	buf.eventHandler(&types.Notification{Event: "bogus"})
	assert.Equal(t, 0, len(eng.eventChan), "unknown events dropped")

	buf.eventHandler(&types.Notification{Event: "next"})
	buf.changeHandler(types.ChangeEvent{URI: doc.URI(), Tick: 3})
	assert.Equal(t, 2, len(eng.eventChan), "events queued")

	ev := <-eng.eventChan
	assert.Equal(t, EventNext, ev.Type, "first event")
	ev = <-eng.eventChan
	assert.Equal(t, EventTextChanged, ev.Type, "second event")
}

func TestEngine_StopDetaches(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())
	eng.Start(context.Background())

	eng.handleEvent(notification("insert", "${1:a}"))
	assert.True(t, eng.Session().IsActive(), "active before stop")

	eng.Stop()
	eng.Stop()

	assert.False(t, eng.Session().IsActive(), "inactive after stop")
	assert.False(t, eng.enqueue(notification("next", "")), "enqueue after stop")
}

func TestEngine_BadPayloadIgnored(t *testing.T) {
	doc := newMockDocument("")
	buf := newMockBuffer(doc)
	eng := createTestEngine(buf, newMockProvider())
	eng.Start(context.Background())
	defer eng.Stop()

	eng.handleEvent(notification("insert", "${1:a}"))
	// wrong payload type for a text change is logged, not fatal
	eng.enqueue(Event{Type: EventTextChanged, Data: "not an event"})
	eng.enqueue(notification("cancel", ""))

	waitFor(t, "cancel processed", func() bool { return eng.currentState() == stateIdle })
}
