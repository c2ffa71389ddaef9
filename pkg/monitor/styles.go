package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/offtask/internal/models"
	tsync "github.com/marcus/offtask/internal/sync"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle       = lipgloss.NewStyle().Bold(true)
	subtleStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle        = lipgloss.NewStyle().Foreground(mutedColor)
	selectedRowStyle = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	spinnerStyle     = lipgloss.NewStyle().Foreground(primaryColor)
	onlineStyle      = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle     = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	// Priority styles
	priorityStyles = map[models.Priority]lipgloss.Style{
		models.PriorityHigh:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		models.PriorityMedium: lipgloss.NewStyle().Foreground(warningColor),
		models.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}

	// Operation badges
	opStyles = map[models.Operation]lipgloss.Style{
		models.OpCreate: lipgloss.NewStyle().Foreground(successColor),
		models.OpUpdate: lipgloss.NewStyle().Foreground(warningColor),
		models.OpDelete: lipgloss.NewStyle().Foreground(errorColor),
	}

	progressStyles = map[tsync.Status]lipgloss.Style{
		tsync.StatusIdle:      subtleStyle,
		tsync.StatusSyncing:   lipgloss.NewStyle().Foreground(primaryColor),
		tsync.StatusCompleted: lipgloss.NewStyle().Foreground(successColor),
		tsync.StatusError:     lipgloss.NewStyle().Foreground(errorColor),
	}
)

// formatPriority renders a priority with color
func formatPriority(p models.Priority) string {
	style, ok := priorityStyles[p]
	if !ok {
		return string(p)
	}
	return style.Render(string(p))
}

// formatOp renders an operation badge
func formatOp(op models.Operation) string {
	style, ok := opStyles[op]
	if !ok {
		return string(op)
	}
	return style.Render(string(op))
}
