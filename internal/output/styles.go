package output

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	infoColor    = lipgloss.Color("#06B6D4")

	headerStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	taglineStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	progressStyle = lipgloss.NewStyle().
			Foreground(infoColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// statusStyle colours a status label.
func statusStyle(label string) lipgloss.Style {
	switch label {
	case "Completed":
		return lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case "Failed":
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	case "Paused", "Starting":
		return lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(infoColor).Bold(true)
	}
}
