package types

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrSnippetNotFound is returned by providers for unknown snippet names
var ErrSnippetNotFound = errors.New("snippet not found")

// TextEdit is a single contiguous replacement within one line.
// Offsets and lengths count runes, not bytes.
type TextEdit struct {
	Offset        int    // 0-indexed start of the replaced region
	RemovedLength int    // runes removed at Offset
	InsertedText  string // text inserted at Offset
}

// End returns the rune offset just past the removed region
func (e *TextEdit) End() int { return e.Offset + e.RemovedLength }

// Apply splices the edit into s. Out-of-range regions are clamped. Bytes
// outside the edited region are kept as they are, invalid UTF-8 included.
func (e *TextEdit) Apply(s string) string {
	n := utf8.RuneCountInString(s)
	start := min(max(e.Offset, 0), n)
	end := min(max(e.End(), start), n)
	return s[:ByteOffset(s, start)] + e.InsertedText + s[ByteOffset(s, end):]
}

// ByteOffset converts a rune offset into s to a byte offset. Every invalid
// byte counts as one rune, as in utf8.RuneCountInString.
func ByteOffset(s string, runeOffset int) int {
	i := 0
	for ; runeOffset > 0 && i < len(s); runeOffset-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// ChangeEvent is delivered by the document adapter for every mutation of a watched document
type ChangeEvent struct {
	URI string
	// Tick is the document change counter after the mutation, or 0 when
	// the adapter did not report one.
	Tick int
}

// DocumentSnapshot is a consistent read of a document taken in one round trip
type DocumentSnapshot struct {
	Tick      int
	LineCount int
	Line      string // content of the requested line, empty when it does not exist
}

// Document is the line-oriented buffer a snippet session writes into.
//
// The change counter must advance by exactly one per mutation and change
// notifications must arrive in mutation order; the session relies on both to
// recognize its own writes.
type Document interface {
	URI() string
	Name() string // file path, empty for unnamed buffers
	ChangedTick() (int, error)
	LineCount() (int, error)
	Line(line int) (string, error) // 0-indexed
	// SetLine replaces exactly one existing line; it fails when the line does not exist
	SetLine(line int, text string) error
	Snapshot(line int) (*DocumentSnapshot, error)
}

// Editor is the host editor surface used for navigation.
// Lines are 1-based, columns are 1-based byte columns, lengths are bytes.
type Editor interface {
	CursorLine() (int, error)
	SelectRange(line, col, length int) error
	ShowChoices(line, col, length int, options []string) error
	EnableSnippetMode() error
	DisableSnippetMode() error
}

// Notification is a command sent by the editor-side plugin
type Notification struct {
	Event  string `msgpack:"event"`
	Buffer int    `msgpack:"buffer"`
	Args   string `msgpack:"args"`
}

// SnippetRequest asks a provider for a named snippet body
type SnippetRequest struct {
	Name     string
	FilePath string // path of the buffer the snippet will be inserted into
}

// SnippetResponse carries a resolved template
type SnippetResponse struct {
	Name        string
	Body        string
	Description string
}

// Provider resolves snippet names to template bodies
type Provider interface {
	GetSnippet(ctx context.Context, req *SnippetRequest) (*SnippetResponse, error)
}

// ProviderType represents the type of provider
type ProviderType string

const (
	ProviderTypeStatic ProviderType = "static"
	ProviderTypeFile   ProviderType = "file"
)

// ProviderConfig holds configuration for providers
type ProviderConfig struct {
	// Snippets declared inline (static provider), name -> body
	Snippets map[string]string
	// Directory of snippet files (file provider)
	SnippetDir string
	// AllowMultiline keeps bodies that span several lines
	AllowMultiline bool
}
