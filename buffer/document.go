package buffer

import (
	"fmt"

	"github.com/neovim/go-client/nvim"

	"snipsession/types"
)

// Document is one Neovim buffer seen as a list of lines.
// Line numbers are 0-indexed.
type Document struct {
	client *nvim.Nvim
	buf    nvim.Buffer
	name   string
}

func (d *Document) URI() string { return URI(d.buf) }

func (d *Document) Name() string { return d.name }

func (d *Document) ChangedTick() (int, error) {
	return d.client.BufferChangedTick(d.buf)
}

func (d *Document) LineCount() (int, error) {
	return d.client.BufferLineCount(d.buf)
}

func (d *Document) Line(line int) (string, error) {
	lines, err := d.client.BufferLines(d.buf, line, line+1, true)
	if err != nil {
		return "", err
	}
	if len(lines) != 1 {
		return "", fmt.Errorf("line %d of buffer %d: got %d lines", line, d.buf, len(lines))
	}
	return string(lines[0]), nil
}

// SetLine replaces line in place; strict indexing makes it fail on a missing line
func (d *Document) SetLine(line int, text string) error {
	return d.client.SetBufferLines(d.buf, line, line+1, true, [][]byte{[]byte(text)})
}

// Snapshot reads the change counter, line count and line in one atomic call
func (d *Document) Snapshot(line int) (*types.DocumentSnapshot, error) {
	var (
		tick  int
		count int
		lines [][]byte
	)
	b := d.client.NewBatch()
	b.BufferChangedTick(d.buf, &tick)
	b.BufferLineCount(d.buf, &count)
	b.BufferLines(d.buf, line, line+1, false, &lines)
	if err := b.Execute(); err != nil {
		return nil, fmt.Errorf("snapshot of buffer %d: %w", d.buf, err)
	}

	snap := &types.DocumentSnapshot{Tick: tick, LineCount: count}
	if len(lines) > 0 {
		snap.Line = string(lines[0])
	}
	return snap, nil
}
