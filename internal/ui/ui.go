// Package ui renders the small set of colored markers the CLI prints.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette.
var (
	Accent = lipgloss.Color("#8B5CF6")
	Pass   = lipgloss.Color("#22A06B")
	Warn   = lipgloss.Color("#F59E0B")
	Fail   = lipgloss.Color("#D93025")
	Muted  = lipgloss.Color("#667085")
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(Pass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(Warn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(Fail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(Muted)
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// ColorProfile picks the profile for stdout. NO_COLOR or a non-terminal
// stdout disables color.
func ColorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// IsTerminal reports whether stdin and stdout are both attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
