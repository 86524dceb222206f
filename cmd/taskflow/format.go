package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// formatTable renders rows as a boxed ASCII table. Cell widths ignore ANSI
// styling so colored cells line up.
func formatTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "No data to display."
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var sep strings.Builder
	sep.WriteString("+")
	for _, w := range widths {
		sep.WriteString(strings.Repeat("-", w+2))
		sep.WriteString("+")
	}

	line := func(cells []string) string {
		var b strings.Builder
		b.WriteString("|")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", w-lipgloss.Width(cell)))
			b.WriteString(" |")
		}
		return b.String()
	}

	out := []string{sep.String(), line(headers), sep.String()}
	for _, row := range rows {
		out = append(out, line(row))
	}
	out = append(out, sep.String())
	return strings.Join(out, "\n")
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
