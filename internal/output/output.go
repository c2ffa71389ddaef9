// Package output provides styled terminal output helpers (success, error,
// warning, task formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"gopkg.in/yaml.v3"

	"github.com/marcus/offtask/internal/models"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	priorityStyle = map[models.Priority]lipgloss.Style{
		models.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		models.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
	syncStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncStatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncStatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncStatusDeleted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Stdout is where every helper writes. Tests swap it.
var Stdout io.Writer = os.Stdout

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
	ModeYAML
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Fprintln(Stdout, fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, string(data))
	return nil
}

// YAML outputs data as YAML. Values without yaml tags are round-tripped
// through JSON first so field names match the JSON output.
func YAML(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	return YAMLRaw(generic)
}

// YAMLRaw encodes v with its own yaml tags.
func YAMLRaw(v interface{}) error {
	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Emit writes v as JSON or YAML, or returns false for the styled modes.
func Emit(mode OutputMode, v interface{}) (bool, error) {
	switch mode {
	case ModeJSON:
		return true, JSON(v)
	case ModeYAML:
		return true, YAML(v)
	}
	return false, nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeConflict       = "conflict"
	ErrCodeAmbiguous      = "ambiguous"
	ErrCodeStorageError   = "storage_error"
	ErrCodeNetworkError   = "network_error"
	ErrCodeSyncInProgress = "sync_in_progress"
	ErrCodeInternal       = "internal"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	result := map[string]interface{}{
		"error": errObj,
	}
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(Stdout, string(data))
}

// ShortID returns the first 8 characters of a task id
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatPriority formats a priority with color
func FormatPriority(p models.Priority) string {
	style, ok := priorityStyle[p]
	if !ok {
		return fmt.Sprintf("[%s]", p)
	}
	return style.Render(fmt.Sprintf("[%s]", p))
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// Checkbox returns the completion marker
func Checkbox(done bool) string {
	if done {
		return successStyle.Render("[x]")
	}
	return "[ ]"
}

// FormatTaskShort formats a task on one line, truncating the title so the
// row fits width. A width <= 0 disables truncation.
func FormatTaskShort(t *models.Task, width int) string {
	prefix := strings.Join([]string{
		titleStyle.Render(ShortID(t.ID)),
		Checkbox(t.Completed),
		FormatPriority(t.Priority),
	}, "  ")

	var suffix []string
	suffix = append(suffix, subtleStyle.Render(t.Category))
	if t.DueDate != "" {
		suffix = append(suffix, subtleStyle.Render("due "+t.DueDate))
	}
	if t.SyncStatus != "" && t.SyncStatus != models.SyncStatusSynced {
		suffix = append(suffix, FormatSyncStatus(t.SyncStatus))
	}
	tail := strings.Join(suffix, "  ")

	title := t.Title
	if width > 0 {
		room := width - ansi.StringWidth(prefix) - ansi.StringWidth(tail) - 4
		if room < 8 {
			room = 8
		}
		title = ansi.Truncate(title, room, "…")
	}
	return prefix + "  " + title + "  " + tail
}

// FormatTaskLong formats a task with every field and a rendered description
func FormatTaskLong(t *models.Task) string {
	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", t.ID, t.Title)))
	sb.WriteString("\n")
	state := "open"
	if t.Completed {
		state = "completed"
	}
	sb.WriteString(fmt.Sprintf("Status: %s %s | Priority: %s | Category: %s\n",
		Checkbox(t.Completed), state, FormatPriority(t.Priority), t.Category))
	if t.DueDate != "" {
		sb.WriteString("Due: " + t.DueDate)
		switch note := DueNote(t.DueDate, t.Completed, time.Now()); {
		case strings.HasPrefix(note, "overdue"):
			sb.WriteString(" " + errorStyle.Render("("+note+")"))
		case note != "":
			sb.WriteString(" " + subtleStyle.Render("("+note+")"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(subtleStyle.Render(fmt.Sprintf("Created %s, updated %s",
		FormatTimeAgo(t.CreatedAt), FormatTimeAgo(t.UpdatedAt))))
	sb.WriteString("\n")

	sync := FormatSyncStatus(t.SyncStatus)
	if t.LastSynced != nil {
		sync += subtleStyle.Render(fmt.Sprintf(" (last synced %s)", FormatTimeAgo(*t.LastSynced)))
	}
	sb.WriteString(fmt.Sprintf("Sync: %s\n", sync))

	// Description
	if t.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Description:"))
		sb.WriteString("\n")
		sb.WriteString(RenderDescription(t.Description, descriptionWidth()))
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatStats renders task stats as a small report
func FormatStats(s models.TaskStats) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Tasks"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Total: %d  Completed: %d  Open: %d  (%d%% done)\n",
		s.Total, s.Completed, s.Pending, s.CompletionRate))
	sb.WriteString(SectionHeader("priority"))
	sb.WriteString(fmt.Sprintf("  %s %d  %s %d  %s %d\n",
		FormatPriority(models.PriorityHigh), s.PriorityStats.High,
		FormatPriority(models.PriorityMedium), s.PriorityStats.Medium,
		FormatPriority(models.PriorityLow), s.PriorityStats.Low))

	if len(s.CategoryStats) > 0 {
		sb.WriteString(SectionHeader("categories"))
		cats := make([]string, 0, len(s.CategoryStats))
		for c := range s.CategoryStats {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			sb.WriteString(fmt.Sprintf("  %-16s %d\n", c, s.CategoryStats[c]))
		}
	}
	return sb.String()
}

// FormatSyncStats renders local sync health
func FormatSyncStats(s models.SyncStats, online bool) string {
	var sb strings.Builder
	conn := errorStyle.Render("offline")
	if online {
		conn = successStyle.Render("online")
	}
	sb.WriteString(fmt.Sprintf("Remote: %s\n", conn))
	pending := fmt.Sprintf("%d", s.PendingSync)
	if s.PendingSync > 0 {
		pending = warningStyle.Render(pending)
	}
	sb.WriteString(fmt.Sprintf("Pending operations: %s\n", pending))
	if s.LastSync != nil {
		sb.WriteString(fmt.Sprintf("Last sync: %s\n", FormatTimeAgo(*s.LastSync)))
	} else {
		sb.WriteString("Last sync: never\n")
	}
	sb.WriteString(fmt.Sprintf("Local tasks: %d\n", s.TotalLocal))
	if s.TotalRemote != nil {
		sb.WriteString(fmt.Sprintf("Remote tasks: %d\n", *s.TotalRemote))
	}
	return sb.String()
}

// FormatPendingItem formats one entry of the operation log
func FormatPendingItem(item models.PendingItem) string {
	op := string(item.Op.Operation)
	switch item.Op.Operation {
	case models.OpCreate:
		op = successStyle.Render(op)
	case models.OpDelete:
		op = errorStyle.Render(op)
	default:
		op = warningStyle.Render(op)
	}
	return fmt.Sprintf("#%-4d %-6s  %s  %s  %s",
		item.Op.ID, op, titleStyle.Render(ShortID(item.Task.ID)), item.Task.Title,
		subtleStyle.Render(item.Op.Timestamp.Local().Format("2006-01-02 15:04:05")))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// TaskOneLiner returns a concise single-line task representation
// Format: "1a2b3c4d \"Title\" [pending]"
func TaskOneLiner(t *models.Task) string {
	return fmt.Sprintf("%s \"%s\" [%s]", ShortID(t.ID), t.Title, t.SyncStatus)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPRIORITY:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
