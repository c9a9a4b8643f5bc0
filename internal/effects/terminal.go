package effects

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Terminal writes effects to a display surface, one line per effect.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	styles map[Kind]lipgloss.Style
	prefix bool
}

// NewTerminal returns a Terminal writing to w. When prefix is set each line
// starts with the producing executable's name.
func NewTerminal(w io.Writer, prefix bool) *Terminal {
	return &Terminal{
		w:      w,
		prefix: prefix,
		styles: map[Kind]lipgloss.Style{
			KindDisplay: lipgloss.NewStyle(),
			KindStdout:  lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
			KindStderr:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
			KindLog:     lipgloss.NewStyle().Faint(true),
		},
	}
}

func (t *Terminal) Emit(e Effect) {
	style, ok := t.styles[e.Kind]
	if !ok {
		style = lipgloss.NewStyle()
	}
	text := strings.TrimRight(e.Text, "\n")
	if t.prefix && e.Source != "" {
		text = lipgloss.NewStyle().Bold(true).Render("@"+e.Source) + " " + text
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, style.Render(text))
}
