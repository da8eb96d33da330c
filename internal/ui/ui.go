// Package ui provides terminal styling helpers for CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// colorEnabled reports whether the terminal supports color output.
func colorEnabled() bool {
	return termenv.DefaultOutput().Profile != termenv.Ascii
}

// RenderPass styles success markers.
func RenderPass(s string) string {
	if !colorEnabled() {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn styles warning markers.
func RenderWarn(s string) string {
	if !colorEnabled() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderError styles error markers.
func RenderError(s string) string {
	if !colorEnabled() {
		return s
	}
	return errorStyle.Render(s)
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string {
	if !colorEnabled() {
		return s
	}
	return accentStyle.Render(s)
}

// RenderDim styles secondary text.
func RenderDim(s string) string {
	if !colorEnabled() {
		return s
	}
	return dimStyle.Render(s)
}
