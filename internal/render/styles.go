package render

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	domainStyle  = lipgloss.NewStyle().Bold(true)

	createStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	modifyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	deleteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noopStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// IsTerminal reports whether f is an interactive terminal that should receive
// styled output. NO_COLOR disables styling.
func IsTerminal(f *os.File) bool {
	if f == nil || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

type palette struct {
	styled bool
}

func (p palette) apply(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}
