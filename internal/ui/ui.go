// Package ui renders styled CLI output.
package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

type styles struct {
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	accent lipgloss.Style
	muted  lipgloss.Style
	bold   lipgloss.Style
	status map[string]lipgloss.Style
}

var (
	mu      sync.RWMutex
	current = newStyles(lipgloss.NewRenderer(os.Stdout))
)

func newStyles(r *lipgloss.Renderer) *styles {
	green := lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	gray := lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}

	return &styles{
		pass:   r.NewStyle().Foreground(green),
		warn:   r.NewStyle().Foreground(yellow),
		fail:   r.NewStyle().Foreground(red),
		accent: r.NewStyle().Foreground(blue),
		muted:  r.NewStyle().Foreground(gray),
		bold:   r.NewStyle().Bold(true),
		status: map[string]lipgloss.Style{
			"TODO":        r.NewStyle().Foreground(gray),
			"IN_PROGRESS": r.NewStyle().Foreground(yellow).Bold(true),
			"DONE":        r.NewStyle().Foreground(green),
			"ARCHIVED":    r.NewStyle().Foreground(gray).Faint(true),
			"active":      r.NewStyle().Foreground(blue),
			"completed":   r.NewStyle().Foreground(green),
			"archived":    r.NewStyle().Foreground(gray).Faint(true),
			"in_progress": r.NewStyle().Foreground(yellow),
			"paused":      r.NewStyle().Foreground(gray),
		},
	}
}

// Init configures styling for out. mode is "always", "never" or "auto";
// auto disables color when out is not a terminal or NO_COLOR is set.
func Init(mode string, out *os.File) {
	r := lipgloss.NewRenderer(out)
	switch mode {
	case "always":
		r.SetColorProfile(termenv.ANSI256)
	case "never":
		r.SetColorProfile(termenv.Ascii)
	default:
		if os.Getenv("NO_COLOR") != "" || !IsTerminal(out) {
			r.SetColorProfile(termenv.Ascii)
		}
	}

	s := newStyles(r)
	mu.Lock()
	current = s
	mu.Unlock()
}

func get() *styles {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or 80 when it cannot be determined.
func Width(f *os.File) int {
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func RenderPass(s string) string   { return get().pass.Render(s) }
func RenderWarn(s string) string   { return get().warn.Render(s) }
func RenderFail(s string) string   { return get().fail.Render(s) }
func RenderAccent(s string) string { return get().accent.Render(s) }
func RenderMuted(s string) string  { return get().muted.Render(s) }
func RenderBold(s string) string   { return get().bold.Render(s) }

// RenderStatus colors a task, project or iteration status value.
func RenderStatus(status string) string {
	st := get()
	if style, ok := st.status[status]; ok {
		return style.Render(status)
	}
	return status
}

// ProgressBar draws pct (0-100) as a bar of the given width followed by the
// percentage, e.g. "[#####-----]  50.0%".
func ProgressBar(pct float64, width int) string {
	if width < 1 {
		width = 1
	}
	pct = min(max(pct, 0), 100)
	filled := int(pct / 100 * float64(width))

	st := get()
	bar := st.pass.Render(strings.Repeat("#", filled)) + st.muted.Render(strings.Repeat("-", width-filled))
	return fmt.Sprintf("[%s] %5.1f%%", bar, pct)
}
