package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"snipsession/snippet"
	"snipsession/text"
)

var (
	palette = []*color.Color{
		color.New(color.FgCyan),
		color.New(color.FgGreen),
		color.New(color.FgYellow),
		color.New(color.FgMagenta),
		color.New(color.FgBlue),
	}
	finalColor  = color.New(color.FgRed, color.Bold)
	headerColor = color.New(color.Bold)
)

func newRenderCmd() *cobra.Command {
	var (
		vars    []string
		file    string
		noFinal bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a snippet template and list its placeholders",
		Example: `  snipsession render 'for ${1:i} := 0; $1 < ${2:n}; $1++ {$0}'
  snipsession render --var NAME=world 'hello ${NAME}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			resolver, err := renderVariables(file, vars)
			if err != nil {
				return err
			}
			tmpl, err := snippet.Parse(args[0],
				snippet.WithFinalTabstop(!noFinal),
				snippet.WithVariables(resolver))
			if err != nil {
				return err
			}
			printTemplate(cmd.OutOrStdout(), tmpl)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable as NAME=value (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "file path used for TM_FILENAME and friends")
	cmd.Flags().BoolVar(&noFinal, "no-final", false, "do not append an implicit $0")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

// renderVariables builds the context variables for file, overridden by
// NAME=value pairs.
func renderVariables(file string, pairs []string) (snippet.Variables, error) {
	vars := snippet.ContextVariables(snippet.Context{FilePath: file})
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, want NAME=value", pair)
		}
		vars[name] = value
	}
	return vars, nil
}

func colorFor(index int) *color.Color {
	if index == snippet.FinalIndex {
		return finalColor
	}
	return palette[(index-1)%len(palette)]
}

func printTemplate(w io.Writer, tmpl *snippet.Template) {
	line := tmpl.String()
	spans := tmpl.Spans()

	fmt.Fprintln(w, highlight(line, spans))
	if len(spans) == 0 {
		return
	}
	fmt.Fprintln(w, ruler(line, spans))
	fmt.Fprintln(w)

	rows := spanRows(line, spans)
	widths := columnWidths(rows)
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = runewidth.FillRight(cell, widths[j])
		}
		out := strings.TrimRight(strings.Join(cells, "  "), " ")
		if i == 0 {
			out = headerColor.Sprint(out)
		}
		fmt.Fprintln(w, out)
	}
}

// owners maps every rune of line to the innermost placeholder rendering it
func owners(line string, spans []snippet.Span) []*snippet.Placeholder {
	out := make([]*snippet.Placeholder, text.RuneLen(line))
	// nested spans follow their parent, so later spans are deeper
	for _, s := range spans {
		for i := s.Start; i < s.End && i < len(out); i++ {
			out[i] = s.Placeholder
		}
	}
	return out
}

// highlight colors each run of line by the placeholder that renders it
func highlight(line string, spans []snippet.Span) string {
	runes := []rune(line)
	owner := owners(line, spans)

	var sb strings.Builder
	for start := 0; start < len(runes); {
		end := start + 1
		for end < len(runes) && owner[end] == owner[start] {
			end++
		}
		run := string(runes[start:end])
		if p := owner[start]; p != nil {
			run = colorFor(p.Index).Sprint(run)
		}
		sb.WriteString(run)
		start = end
	}
	return sb.String()
}

// ruler underlines each placeholder occurrence with the last digit of its
// index, in display cells. Empty occurrences show as '|'.
func ruler(line string, spans []snippet.Span) string {
	runes := []rune(line)
	cells := make([]int, len(runes)+1)
	for i, r := range runes {
		cells[i+1] = cells[i] + runewidth.RuneWidth(r)
	}

	marks := []rune(strings.Repeat(" ", cells[len(runes)]+1))
	for _, s := range spans {
		if s.Start > len(runes) || s.End > len(runes) {
			continue
		}
		if s.Len() == 0 {
			marks[cells[s.Start]] = '|'
			continue
		}
		digit := rune('0' + s.Placeholder.Index%10)
		for c := cells[s.Start]; c < cells[s.End]; c++ {
			marks[c] = digit
		}
	}
	return strings.TrimRight(string(marks), " ")
}

// spanRows lists one table row per occurrence, header first. Columns are
// 1-based byte columns as Neovim addresses them.
func spanRows(line string, spans []snippet.Span) [][]string {
	rows := [][]string{{"INDEX", "COL", "LEN", "DEPTH", "KIND", "VALUE"}}
	seen := make(map[int]bool)
	for _, s := range spans {
		p := s.Placeholder
		kind := "tabstop"
		switch {
		case seen[p.Index]:
			kind = "mirror"
		case p.IsFinal():
			kind = "final"
		case p.HasChoice():
			kind = "choice " + strings.Join(p.Choice, ",")
		}
		seen[p.Index] = true

		rows = append(rows, []string{
			"$" + strconv.Itoa(p.Index),
			strconv.Itoa(text.ByteCol(line, s.Start)),
			strconv.Itoa(text.ByteLen(line, s.Start, s.Len())),
			strconv.Itoa(s.Depth),
			kind,
			strconv.Quote(p.Value()),
		})
	}
	return rows
}

func columnWidths(rows [][]string) []int {
	var widths []int
	for _, row := range rows {
		for j, cell := range row {
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			widths[j] = max(widths[j], runewidth.StringWidth(cell))
		}
	}
	return widths
}
