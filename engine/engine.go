package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"snipsession/logger"
	"snipsession/types"
)

// Buffer is the editor connection the engine drives.
// Implemented by buffer.NvimBuffer for Neovim integration.
type Buffer interface {
	types.Editor
	CurrentDocument() (types.Document, error)
	// Watch subscribes to change notifications of doc
	Watch(doc types.Document) error
	RegisterEventHandler(handler func(n *types.Notification)) error
	RegisterChangeHandler(handler func(ev types.ChangeEvent)) error
}

type EngineConfig struct {
	ResolveTimeout time.Duration
	EventBuffer    int
	Session        SessionConfig
}

const (
	defaultResolveTimeout = 2 * time.Second
	defaultEventBuffer    = 100
)

// Engine serializes editor commands, change notifications and snippet
// resolutions onto one goroutine that owns the Session.
type Engine struct {
	provider types.Provider
	buffer   Buffer
	session  *Session
	state    state
	mu       sync.RWMutex

	eventChan chan Event

	// Main context and cancel for the engine lifecycle
	mainCtx    context.Context
	mainCancel context.CancelFunc
	stopped    bool
	stopOnce   sync.Once

	// Snippet resolution state
	resolveCancel context.CancelFunc
	resolveState  resolveState
	pending       *expansion
	generation    uint64

	eventLoopRestarts atomic.Int32

	config EngineConfig
}

func NewEngine(provider types.Provider, buf Buffer, config EngineConfig) (*Engine, error) {
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = defaultResolveTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}

	return &Engine{
		provider:     provider,
		buffer:       buf,
		session:      NewSession(buf, config.Session),
		state:        stateIdle,
		eventChan:    make(chan Event, config.EventBuffer),
		resolveState: resolveNone,
		config:       config,
	}, nil
}

// Session returns the snippet session owned by the engine
func (e *Engine) Session() *Session { return e.session }

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	e.mainCtx, e.mainCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.eventLoop(e.mainCtx)
	logger.Info("engine started")
}

// Stop shuts the engine down and ends any live snippet
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		logger.Info("stopping engine...")

		e.stopped = true
		if e.mainCancel != nil {
			e.mainCancel()
		}
		e.cancelExpansion()
		e.session.Detach()
		e.state = stateIdle

		logger.Info("engine stopped")
	})
}

const maxEventLoopRestarts = 3

func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			restarts := e.eventLoopRestarts.Add(1)
			logger.Error("event loop panic [%d/%d]: %v\n%s",
				restarts, maxEventLoopRestarts, r, debug.Stack())

			if int(restarts) < maxEventLoopRestarts {
				e.eventLoop(ctx)
			} else {
				logger.Error("max event loop restarts reached, stopping engine")
				go e.Stop() // async to avoid deadlock
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-e.eventChan:
			e.mu.RLock()
			stopped := e.stopped
			e.mu.RUnlock()
			if stopped {
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for event %v: %v", event.Type, r)
					}
				}()
				e.handleEvent(event)
			}()
		}
	}
}

func (e *Engine) handleEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	logger.Debug("handle event: %v (state=%s)", event.Type, e.state)
	defer func() {
		logger.Debug("after event: %v (state=%s)", event.Type, e.state)
	}()

	if e.handleBackgroundEvent(event) {
		return
	}
	e.dispatch(event)
}

// handleBackgroundEvent handles async resolution results.
// Returns true if the event was handled, false if it should be dispatched.
func (e *Engine) handleBackgroundEvent(event Event) bool {
	switch event.Type {
	case EventSnippetReady, EventSnippetError:
		result, ok := event.Data.(*resolveResult)
		if !ok {
			logger.Error("%v: unexpected payload %T", event.Type, event.Data)
			return true
		}
		if e.resolveState != resolveInFlight || e.pending == nil || result.generation != e.pending.generation {
			logger.Debug("dropping stale %v for %q", event.Type, result.name)
			return true
		}
		if event.Type == EventSnippetReady {
			e.handleSnippetReady(result.resp)
		} else {
			e.handleSnippetError(result.err)
		}
		e.syncState()
		return true
	}
	return false
}

// syncState follows the session: the engine is in snippet state exactly
// while the session is active.
func (e *Engine) syncState() {
	if e.session.IsActive() {
		e.state = stateInSnippet
	} else {
		e.state = stateIdle
	}
}

// insertAtCursor replaces the cursor line of the current document with tmpl
// and attaches a session to it.
func (e *Engine) insertAtCursor(tmpl string) {
	doc, err := e.buffer.CurrentDocument()
	if err != nil {
		logger.Error("insert: current document: %v", err)
		return
	}
	row, err := e.buffer.CursorLine()
	if err != nil {
		logger.Error("insert: read cursor: %v", err)
		return
	}
	e.insert(doc, row-1, tmpl)
}

func (e *Engine) insert(doc types.Document, line int, tmpl string) {
	// subscribe before writing so the session sees its own write
	if err := e.buffer.Watch(doc); err != nil {
		logger.Error("insert: watch %s: %v", doc.URI(), err)
		return
	}
	if !e.session.InsertSnippet(doc, line, tmpl) {
		return
	}
	e.session.Attach()
}

// RegisterEventHandler subscribes the engine to editor commands and document
// changes. Call it after Start and before the connection starts serving.
func (e *Engine) RegisterEventHandler() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	if err := e.buffer.RegisterEventHandler(func(n *types.Notification) {
		eventType := EventTypeFromString(n.Event)
		if eventType == "" {
			logger.Warn("unknown editor event %q", n.Event)
			return
		}
		e.enqueue(Event{Type: eventType, Data: n})
	}); err != nil {
		logger.Error("error registering event handler: %v", err)
	}

	if err := e.buffer.RegisterChangeHandler(func(ev types.ChangeEvent) {
		e.enqueue(Event{Type: EventTextChanged, Data: ev})
	}); err != nil {
		logger.Error("error registering change handler: %v", err)
	}
}

// enqueue hands ev to the event loop, blocking while the queue is full.
// Returns false once the engine has stopped.
func (e *Engine) enqueue(ev Event) bool {
	e.mu.RLock()
	stopped, ctx := e.stopped, e.mainCtx
	e.mu.RUnlock()

	if stopped || ctx == nil {
		return false
	}
	select {
	case e.eventChan <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
