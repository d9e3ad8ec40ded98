package cli

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// styleForStatus maps a run's status string to its display style, mirroring
// the ready/failed/in-progress split spec.md's lifecycle draws between
// the terminal and non-terminal states.
func styleForStatus(status string) lipgloss.Style {
	switch status {
	case "ready", "healthy":
		return readyStyle
	case "failed", "terminated":
		return failedStyle
	case "queued":
		return labelStyle
	default:
		return activeStyle
	}
}
