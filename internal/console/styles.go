package console

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FFF87")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#767676")
	colorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	listeningStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	processingStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	finalStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	interimStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	replyStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)
)
