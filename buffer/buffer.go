package buffer

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"fortio.org/safecast"
	"github.com/neovim/go-client/nvim"

	"snipsession/logger"
	"snipsession/types"
)

const (
	uriPrefix = "nvim://buffer/"

	eventNotification   = "snipsession_event"
	eventBufLines       = "nvim_buf_lines_event"
	eventBufChangedtick = "nvim_buf_changedtick_event"
	eventBufDetach      = "nvim_buf_detach_event"
)

//go:embed snipsession.lua
var setupLua string

// NvimBuffer adapts a Neovim connection to the engine: it is the Editor,
// hands out Documents for Neovim buffers and feeds their change notifications.
type NvimBuffer struct {
	client *nvim.Nvim

	mu      sync.Mutex
	watched map[nvim.Buffer]bool
}

// New wraps client. Call Setup once the connection is serving.
func New(client *nvim.Nvim) *NvimBuffer {
	return &NvimBuffer{
		client:  client,
		watched: make(map[nvim.Buffer]bool),
	}
}

// Setup installs the editor-side commands and helpers
func (b *NvimBuffer) Setup() error {
	defer logger.Trace("buffer.Setup")()
	if err := b.client.ExecLua(setupLua, nil, b.client.ChannelID()); err != nil {
		return fmt.Errorf("install editor commands: %w", err)
	}
	return nil
}

// URI returns the document URI of buf
func URI(buf nvim.Buffer) string {
	return uriPrefix + strconv.Itoa(int(buf))
}

// ParseURI returns the buffer handle encoded in uri
func ParseURI(uri string) (nvim.Buffer, bool) {
	rest, ok := strings.CutPrefix(uri, uriPrefix)
	if !ok {
		return 0, false
	}
	handle, err := strconv.Atoi(rest)
	if err != nil || handle <= 0 {
		return 0, false
	}
	return nvim.Buffer(handle), true
}

// Document returns the Document for buf
func (b *NvimBuffer) Document(buf nvim.Buffer) (*Document, error) {
	name, err := b.client.BufferName(buf)
	if err != nil {
		return nil, fmt.Errorf("buffer name of %d: %w", buf, err)
	}
	return &Document{client: b.client, buf: buf, name: name}, nil
}

// CurrentDocument returns the Document of the current buffer
func (b *NvimBuffer) CurrentDocument() (types.Document, error) {
	buf, err := b.client.CurrentBuffer()
	if err != nil {
		return nil, fmt.Errorf("current buffer: %w", err)
	}
	return b.Document(buf)
}

// Watch subscribes to line events of doc. Watching twice is a no-op.
func (b *NvimBuffer) Watch(doc types.Document) error {
	buf, ok := ParseURI(doc.URI())
	if !ok {
		return fmt.Errorf("not a neovim document: %s", doc.URI())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watched[buf] {
		return nil
	}
	attached, err := b.client.AttachBuffer(buf, false, map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("attach buffer %d: %w", buf, err)
	}
	if !attached {
		return fmt.Errorf("attach buffer %d: refused", buf)
	}
	b.watched[buf] = true
	logger.Debug("watching %s", doc.URI())
	return nil
}

// RegisterEventHandler routes editor command notifications to handler
func (b *NvimBuffer) RegisterEventHandler(handler func(n *types.Notification)) error {
	return b.client.RegisterHandler(eventNotification, func(n *types.Notification) {
		logger.Debug("editor event: %+v", *n)
		handler(n)
	})
}

// RegisterChangeHandler routes buffer change notifications to handler, in
// arrival order.
func (b *NvimBuffer) RegisterChangeHandler(handler func(ev types.ChangeEvent)) error {
	onChange := func(args ...interface{}) {
		ev, ok := changeEvent(args)
		if !ok {
			logger.Warn("malformed buffer event: %v", args)
			return
		}
		handler(ev)
	}
	if err := b.client.RegisterHandler(eventBufLines, onChange); err != nil {
		return err
	}
	if err := b.client.RegisterHandler(eventBufChangedtick, onChange); err != nil {
		return err
	}
	return b.client.RegisterHandler(eventBufDetach, func(args ...interface{}) {
		buf, ok := bufferArg(args)
		if !ok {
			return
		}
		b.mu.Lock()
		delete(b.watched, buf)
		b.mu.Unlock()
		logger.Debug("buffer %d detached", buf)
	})
}

// changeEvent decodes the leading {buf, changedtick} arguments shared by
// nvim_buf_lines_event and nvim_buf_changedtick_event.
func changeEvent(args []interface{}) (types.ChangeEvent, bool) {
	buf, ok := bufferArg(args)
	if !ok {
		return types.ChangeEvent{}, false
	}
	ev := types.ChangeEvent{URI: URI(buf)}
	if len(args) > 1 {
		// changedtick is nil for changes that did not bump it
		ev.Tick, _ = tickArg(args[1])
	}
	return ev, true
}

func bufferArg(args []interface{}) (nvim.Buffer, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch v := args[0].(type) {
	case nvim.Buffer:
		return v, true
	case int64:
		n, err := safecast.Conv[int](v)
		return nvim.Buffer(n), err == nil
	case uint64:
		n, err := safecast.Conv[int](v)
		return nvim.Buffer(n), err == nil
	}
	return 0, false
}

func tickArg(arg interface{}) (int, bool) {
	var (
		n   int
		err error
	)
	switch v := arg.(type) {
	case int64:
		n, err = safecast.Conv[int](v)
	case uint64:
		n, err = safecast.Conv[int](v)
	case int:
		n = v
	default:
		return 0, false
	}
	return n, err == nil
}

// CursorLine returns the 1-based cursor line of the current window
func (b *NvimBuffer) CursorLine() (int, error) {
	win, err := b.client.CurrentWindow()
	if err != nil {
		return 0, fmt.Errorf("current window: %w", err)
	}
	pos, err := b.client.WindowCursor(win)
	if err != nil {
		return 0, fmt.Errorf("window cursor: %w", err)
	}
	return pos[0], nil
}

// SelectRange selects length bytes from col of line in select mode; an
// empty range only places the cursor in insert mode.
func (b *NvimBuffer) SelectRange(line, col, length int) error {
	return b.client.ExecLua("return _G.snipsession.select_range(...)", nil, line, col, length)
}

// ShowChoices offers options for the range through the completion menu
func (b *NvimBuffer) ShowChoices(line, col, length int, options []string) error {
	return b.client.ExecLua("return _G.snipsession.show_choices(...)", nil, line, col, length, options)
}

// EnableSnippetMode sets b:snipsession_active and fires User SnipSessionEnter
func (b *NvimBuffer) EnableSnippetMode() error {
	return b.client.ExecLua("return _G.snipsession.enable()", nil)
}

// DisableSnippetMode clears b:snipsession_active and fires User SnipSessionLeave
func (b *NvimBuffer) DisableSnippetMode() error {
	return b.client.ExecLua("return _G.snipsession.disable()", nil)
}
