package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/offtask/internal/models"
	tsync "github.com/marcus/offtask/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	progress := m.renderProgress()
	footer := m.renderFooter()

	// header, progress and footer take one line each
	available := m.Height - 3
	tasksHeight := available * 3 / 5
	pendingHeight := available - tasksHeight

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderTasksPanel(tasksHeight),
		m.renderPendingPanel(pendingHeight),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, progress, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("offtask monitor (resize for full view)\n\n")
	s.WriteString(m.connectivityBadge())
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Tasks: %d | Pending ops: %d\n", len(m.VisibleTasks()), len(m.Pending)))
	s.WriteString(fmt.Sprintf("Sync: %s\n", m.Progress.Status))
	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

func (m Model) connectivityBadge() string {
	if m.Online {
		return onlineStyle.Render("● online")
	}
	return offlineStyle.Render("○ offline")
}

func (m Model) renderHeader() string {
	parts := []string{
		titleStyle.Render("offtask monitor"),
		m.connectivityBadge(),
		fmt.Sprintf("pending: %d", m.SyncStats.PendingSync),
	}
	if m.SyncStats.LastSync != nil {
		parts = append(parts, subtleStyle.Render("last sync "+m.SyncStats.LastSync.Local().Format("15:04:05")))
	} else {
		parts = append(parts, subtleStyle.Render("never synced"))
	}
	if m.SyncStats.TotalRemote != nil {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("remote: %d", *m.SyncStats.TotalRemote)))
	}
	return ansi.Truncate(strings.Join(parts, "  "), m.Width, "…")
}

// renderProgress renders the sync progress line
func (m Model) renderProgress() string {
	p := m.Progress
	style := progressStyles[p.Status]
	var line string
	switch p.Status {
	case tsync.StatusSyncing:
		line = fmt.Sprintf("%s syncing %d/%d", m.Spinner.View(), p.CompletedCount, p.Total)
		if p.CurrentLabel != "" {
			line += "  " + p.CurrentLabel
		}
	case tsync.StatusCompleted:
		line = "✓ " + orDefault(p.CurrentLabel, "sync completed")
	case tsync.StatusError:
		line = "✗ " + orDefault(p.CurrentLabel, "sync failed")
	default:
		line = "idle"
	}
	if p.Failed > 0 {
		line += fmt.Sprintf("  (%d still pending)", p.Failed)
	}
	if m.StatusMessage != "" {
		line += "  " + subtleStyle.Render(m.StatusMessage)
	}
	if m.Err != nil {
		line += "  " + offlineStyle.Render("error: "+m.Err.Error())
	}
	return ansi.Truncate(style.Render(line), m.Width, "…")
}

// renderTasksPanel renders the task list (Panel 1)
func (m Model) renderTasksPanel(height int) string {
	visible := m.VisibleTasks()
	rows := make([]string, 0, len(visible))
	for _, t := range visible {
		check := "[ ]"
		if t.Completed {
			check = "[x]"
		}
		row := fmt.Sprintf("%s %s %-6s %s", shortID(t.ID), check, formatPriority(t.Priority), t.Title)
		if t.SyncStatus != "" && t.SyncStatus != models.SyncStatusSynced {
			row += "  " + subtleStyle.Render(string(t.SyncStatus))
		}
		rows = append(rows, row)
	}

	title := fmt.Sprintf("TASKS (%d)", len(visible))
	if m.SearchMode {
		title += "  /" + m.SearchInput.View()
	} else if m.SearchQuery != "" {
		title += fmt.Sprintf("  filter: %q", m.SearchQuery)
	}
	if len(rows) == 0 {
		return m.wrapPanel(title, []string{subtleStyle.Render("No tasks")}, height, PanelTasks)
	}
	return m.wrapPanel(title, rows, height, PanelTasks)
}

// renderPendingPanel renders the pending operation log (Panel 2)
func (m Model) renderPendingPanel(height int) string {
	rows := make([]string, 0, len(m.Pending))
	for _, item := range m.Pending {
		rows = append(rows, fmt.Sprintf("#%-4d %-6s %s %s  %s",
			item.Op.ID, formatOp(item.Op.Operation), shortID(item.Task.ID), item.Task.Title,
			subtleStyle.Render(item.Op.Timestamp.Local().Format("15:04:05"))))
	}
	title := fmt.Sprintf("PENDING OPERATIONS (%d)", len(m.Pending))
	if len(rows) == 0 {
		return m.wrapPanel(title, []string{subtleStyle.Render("Nothing to push")}, height, PanelPending)
	}
	return m.wrapPanel(title, rows, height, PanelPending)
}

// wrapPanel draws a bordered panel, scrolling rows so the cursor stays visible
func (m Model) wrapPanel(title string, rows []string, height int, panel Panel) string {
	style := panelStyle
	isActive := m.ActivePanel == panel
	if isActive {
		style = activePanelStyle
	}

	// borders plus the title line
	visibleRows := max(height-3, 1)
	cursor := m.Cursor[panel]
	offset := 0
	if cursor >= visibleRows {
		offset = cursor - visibleRows + 1
	}
	end := min(offset+visibleRows, len(rows))

	innerWidth := max(m.Width-4, 10)
	var content strings.Builder
	content.WriteString(panelTitleStyle.Render(title))
	for i := offset; i < end; i++ {
		line := ansi.Truncate(rows[i], innerWidth-2, "…")
		if isActive && i == cursor {
			line = selectedRowStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		content.WriteString("\n")
		content.WriteString(line)
	}

	return style.Width(m.Width - 2).Height(height - 2).Render(content.String())
}

// renderFooter renders the key hint line
func (m Model) renderFooter() string {
	if m.SearchMode {
		return helpStyle.Render("enter:apply  esc:cancel")
	}
	return ansi.Truncate(helpStyle.Render(
		"q:quit  tab:panel  j/k:move  space:toggle  s:sync  p:push  c:completed  /:search  r:refresh  ?:help"),
		m.Width, "…")
}

// renderHelp renders the full help screen
func (m Model) renderHelp() string {
	lines := []string{
		titleStyle.Render("offtask monitor"),
		"",
		"  q, ctrl+c     quit",
		"  tab, 1, 2     switch panel",
		"  j/k, ↑/↓      move cursor",
		"  space, x      toggle the selected task",
		"  s             full sync (pull, then push)",
		"  p             push pending operations",
		"  c             show or hide completed tasks",
		"  /             search titles and descriptions",
		"  esc           clear search",
		"  r             refresh now",
		"  ?             close this help",
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
