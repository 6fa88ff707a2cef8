package ui

import "github.com/charmbracelet/lipgloss"

var (
	green     = lipgloss.Color("#04B575")
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	dimFg     = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	mediumFg  = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#9B9B9B"}
	inputFg   = lipgloss.AdaptiveColor{Light: "#3C7BD9", Dark: "#7EB4FF"}
	errorFg   = lipgloss.AdaptiveColor{Light: "#D0342C", Dark: "#FF6961"}
	warnFg    = lipgloss.AdaptiveColor{Light: "#B7791F", Dark: "#F6C177"}

	titleStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Background(darkGreen).
			Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Foreground(inputFg)
	feedbackStyle  = lipgloss.NewStyle().Foreground(green).Italic(true)
	strokeStyle    = lipgloss.NewStyle().Foreground(dimFg)
	highlightStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("226")).
			Foreground(lipgloss.Color("0"))

	statusLabelStyle = lipgloss.NewStyle().Foreground(dimFg).Italic(true)
	statusTextStyle  = lipgloss.NewStyle().Foreground(mediumFg)
	statusStatStyle  = lipgloss.NewStyle().Foreground(dimFg)

	bufferOnStyle  = lipgloss.NewStyle().Foreground(mediumFg)
	bufferOffStyle = lipgloss.NewStyle().Foreground(dimFg)

	logInfoStyle  = lipgloss.NewStyle().Foreground(mediumFg)
	logWarnStyle  = lipgloss.NewStyle().Foreground(warnFg)
	logErrorStyle = lipgloss.NewStyle().Foreground(errorFg)
)
