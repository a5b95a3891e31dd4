package engine

import (
	"context"
	"errors"

	"snipsession/logger"
	"snipsession/types"
)

// resolveState represents the state of snippet resolution
type resolveState int

const (
	resolveNone resolveState = iota
	resolveInFlight
)

// String returns a human-readable name for the resolve state
func (s resolveState) String() string {
	switch s {
	case resolveNone:
		return "None"
	case resolveInFlight:
		return "InFlight"
	default:
		return "Unknown"
	}
}

// expansion is a named snippet waiting for its body
type expansion struct {
	generation uint64
	name       string
	doc        types.Document
	line       int // 0-indexed cursor line at request time
}

type resolveResult struct {
	generation uint64
	name       string
	resp       *types.SnippetResponse
	err        error
}

// requestExpansion resolves name through the provider off the event loop.
// The result comes back as EventSnippetReady or EventSnippetError.
func (e *Engine) requestExpansion(name string) {
	if e.stopped || e.mainCtx == nil {
		return
	}

	e.cancelExpansion()

	doc, err := e.buffer.CurrentDocument()
	if err != nil {
		logger.Error("expand %q: current document: %v", name, err)
		return
	}
	row, err := e.buffer.CursorLine()
	if err != nil {
		logger.Error("expand %q: read cursor: %v", name, err)
		return
	}

	ctx, cancel := context.WithTimeout(e.mainCtx, e.config.ResolveTimeout)
	e.generation++
	e.resolveCancel = cancel
	e.resolveState = resolveInFlight
	e.pending = &expansion{
		generation: e.generation,
		name:       name,
		doc:        doc,
		line:       row - 1,
	}

	req := &types.SnippetRequest{Name: name, FilePath: doc.Name()}
	generation := e.generation
	mainCtx := e.mainCtx

	go func() {
		defer cancel()

		resp, err := e.provider.GetSnippet(ctx, req)
		result := &resolveResult{generation: generation, name: name, resp: resp, err: err}
		eventType := EventSnippetReady
		if err != nil {
			eventType = EventSnippetError
		}

		select {
		case e.eventChan <- Event{Type: eventType, Data: result}:
		case <-mainCtx.Done():
		}
	}()
}

// cancelExpansion drops any in-flight resolution
func (e *Engine) cancelExpansion() {
	if e.resolveCancel != nil {
		e.resolveCancel()
		e.resolveCancel = nil
	}
	e.resolveState = resolveNone
	e.pending = nil
}

// handleSnippetReady inserts a resolved body where it was requested, provided
// the cursor is still on that line of that document.
func (e *Engine) handleSnippetReady(resp *types.SnippetResponse) {
	p := e.pending
	e.cancelExpansion()

	if resp == nil || resp.Body == "" {
		logger.Warn("expand %q: empty snippet", p.name)
		return
	}

	doc, err := e.buffer.CurrentDocument()
	if err != nil {
		logger.Error("expand %q: current document: %v", p.name, err)
		return
	}
	row, err := e.buffer.CursorLine()
	if err != nil {
		logger.Error("expand %q: read cursor: %v", p.name, err)
		return
	}
	if doc.URI() != p.doc.URI() || row-1 != p.line {
		logger.Debug("expand %q: cursor moved since request, dropping", p.name)
		return
	}

	e.insert(p.doc, p.line, resp.Body)
}

// handleSnippetError processes a failed resolution
func (e *Engine) handleSnippetError(err error) {
	name := e.pending.name
	e.cancelExpansion()

	switch {
	case err == nil:
		logger.Debug("expand %q: error: nil", name)
	case errors.Is(err, context.Canceled):
		logger.Debug("expand %q canceled: %v", name, err)
	case errors.Is(err, types.ErrSnippetNotFound):
		logger.Warn("expand %q: %v", name, err)
	default:
		logger.Error("expand %q: %v", name, err)
	}
}
