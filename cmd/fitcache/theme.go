package main

import "github.com/charmbracelet/lipgloss"

var (
	green     = lipgloss.Color("#00FF41")
	medGreen  = lipgloss.Color("#00C832")
	darkGreen = lipgloss.Color("#008F11")
	dimGreen  = lipgloss.Color("#3B7F3B")
	cyan      = lipgloss.Color("#00D4AA")
	amber     = lipgloss.Color("#FFD700")
	red       = lipgloss.Color("#FF4136")

	titleStyle = lipgloss.NewStyle().
			Foreground(green).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(medGreen).
			Bold(true)

	keyStyle = lipgloss.NewStyle().
			Foreground(cyan)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimGreen)

	bulletStyle = lipgloss.NewStyle().
			Foreground(darkGreen)

	okStyle = lipgloss.NewStyle().
		Foreground(green).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(amber).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(red).
			Bold(true)

	addedStyle   = lipgloss.NewStyle().Foreground(green)
	removedStyle = lipgloss.NewStyle().Foreground(red)
	hunkStyle    = lipgloss.NewStyle().Foreground(cyan).Italic(true)
)
