package render

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles for table output.
var (
	// HeaderStyle for table header rows.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true)

	// SuccessStyle for complete/running states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for canceled states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for failed states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for secondary text.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// statusStyle picks the style for a run or retailer status cell.
func statusStyle(value string) (lipgloss.Style, bool) {
	switch value {
	case "complete", "running", "enabled", "ok":
		return SuccessStyle, true
	case "canceled", "disabled":
		return WarningStyle, true
	case "failed", "error":
		return ErrorStyle, true
	}
	return lipgloss.Style{}, false
}
