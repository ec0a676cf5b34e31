package display

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/zheng/argus/internal/graph"
)

// Styles colors call trees. The zero value prints plain text.
type Styles struct {
	enabled   bool
	callTypes map[graph.CallType]lipgloss.Style
	name      lipgloss.Style
	marker    lipgloss.Style
	muted     lipgloss.Style
}

// NewStyles returns colored styles when color is true, plain ones otherwise.
func NewStyles(color bool) Styles {
	if !color {
		return Styles{}
	}
	return Styles{
		enabled: true,
		callTypes: map[graph.CallType]lipgloss.Style{
			graph.CallInternal:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
			graph.CallInherited: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
			graph.CallLibrary:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
			graph.CallExternal:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		},
		name:   lipgloss.NewStyle().Bold(true),
		marker: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		muted:  lipgloss.NewStyle().Faint(true),
	}
}

// ColorEnabled reports whether f is a terminal and NO_COLOR is unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ForStdout returns styles suited to os.Stdout.
func ForStdout() Styles {
	return NewStyles(ColorEnabled(os.Stdout))
}

func (s Styles) render(st lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return st.Render(text)
}

// CallType renders text in the color of the call type.
func (s Styles) CallType(ct graph.CallType, text string) string {
	return s.render(s.callTypes[ct], text)
}

// Name renders a function name.
func (s Styles) Name(text string) string { return s.render(s.name, text) }

// Marker renders a back-reference, elision or truncation marker.
func (s Styles) Marker(text string) string { return s.render(s.marker, text) }

// Muted renders locations and signatures.
func (s Styles) Muted(text string) string { return s.render(s.muted, text) }
