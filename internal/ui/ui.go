// Package ui provides terminal output styling for the CLI.
package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Pass renders a success marker.
func Pass(s string) string { return passStyle.Render(s) }

// Warn renders a warning marker.
func Warn(s string) string { return warnStyle.Render(s) }

// Fail renders a failure marker.
func Fail(s string) string { return failStyle.Render(s) }

// Accent renders emphasized text.
func Accent(s string) string { return accentStyle.Render(s) }

// Dim renders de-emphasized text.
func Dim(s string) string { return dimStyle.Render(s) }

// OnlineBadge renders the connectivity state.
func OnlineBadge(online bool) string {
	if online {
		return Pass("online")
	}
	return Fail("offline")
}

// Confirm prompts for a yes/no answer, defaulting to no.
func Confirm(title string) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirmation aborted: %w", err)
	}
	return confirmed, nil
}
