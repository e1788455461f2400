// Package tui implements the terminal chat interface.
package tui

import "github.com/charmbracelet/lipgloss"

// Colors.
var (
	colorPrimary = lipgloss.Color("#7C3AED") // violet
	colorSuccess = lipgloss.Color("#10B981") // emerald
	colorError   = lipgloss.Color("#EF4444") // red
	colorMuted   = lipgloss.Color("#6B7280") // gray-500
	colorSubtle  = lipgloss.Color("#9CA3AF") // gray-400
)

// Shared styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	peerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSuccess)

	dimmedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)

	onlineDot  = lipgloss.NewStyle().Foreground(colorSuccess).Render("●")
	offlineDot = lipgloss.NewStyle().Foreground(colorMuted).Render("●")
)
