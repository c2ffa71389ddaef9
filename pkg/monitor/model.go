// Package monitor is a live terminal view of the task list, the pending
// operation log and sync progress.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/offtask/internal/models"
	tsync "github.com/marcus/offtask/internal/sync"
)

// Source is what the monitor reads from and acts on. tasks.Service
// satisfies it.
type Source interface {
	List(ctx context.Context, f models.TaskFilters) ([]models.Task, error)
	Pending(ctx context.Context) ([]models.PendingItem, error)
	SyncStats(ctx context.Context) (models.SyncStats, error)
	Toggle(ctx context.Context, id string) (*models.Task, error)
	Online() bool
	SubscribeProgress() (<-chan tsync.Progress, func())
	RequestSync(k tsync.Kind)
}

// Panel represents which panel is active
type Panel int

const (
	PanelTasks Panel = iota
	PanelPending
)

const panelCount = 2

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	src      Source
	progress <-chan tsync.Progress
	unsub    func()

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Tasks     []models.Task
	Pending   []models.PendingItem
	SyncStats models.SyncStats
	Online    bool
	Progress  tsync.Progress

	// UI state
	ActivePanel   Panel
	Cursor        map[Panel]int
	ShowHelp      bool
	ShowCompleted bool
	SearchMode    bool
	SearchQuery   string
	SearchInput   textinput.Model
	Spinner       spinner.Model
	StatusMessage string
	LastRefresh   time.Time
	Err           error

	// Configuration
	RefreshInterval time.Duration
}

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Tasks     []models.Task
	Pending   []models.PendingItem
	SyncStats models.SyncStats
	Online    bool
	Err       error
	Timestamp time.Time
}

// ProgressMsg carries a sync progress snapshot
type ProgressMsg tsync.Progress

// progressClosedMsg reports that the progress stream ended
type progressClosedMsg struct{}

// actionDoneMsg reports the result of a key-triggered action
type actionDoneMsg struct {
	status string
	err    error
}

// NewModel creates a new monitor model and subscribes to sync progress.
// Call Close when the program exits.
func NewModel(src Source, interval time.Duration) Model {
	searchInput := textinput.New()
	searchInput.Placeholder = "search"
	searchInput.Prompt = ""
	searchInput.Width = 40
	searchInput.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	ch, unsub := src.SubscribeProgress()
	return Model{
		src:             src,
		progress:        ch,
		unsub:           unsub,
		Cursor:          make(map[Panel]int),
		SearchInput:     searchInput,
		Spinner:         sp,
		ActivePanel:     PanelTasks,
		RefreshInterval: interval,
	}
}

// Close releases the progress subscription
func (m Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Run starts the monitor full screen and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, src Source, interval time.Duration) error {
	m := NewModel(src, interval)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.waitForProgress(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.SearchMode {
			return m.handleSearchKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Tasks = msg.Tasks
			m.Pending = msg.Pending
			m.SyncStats = msg.SyncStats
		}
		m.Online = msg.Online
		m.LastRefresh = msg.Timestamp
		m.clampCursors()
		return m, nil

	case ProgressMsg:
		prev := m.Progress.Status
		m.Progress = tsync.Progress(msg)
		cmds := []tea.Cmd{m.waitForProgress()}
		// A finished pass changes the log, so refresh right away.
		if prev == tsync.StatusSyncing && m.Progress.Terminal() {
			cmds = append(cmds, m.fetchData())
		}
		return m, tea.Batch(cmds...)

	case progressClosedMsg:
		m.progress = nil
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.StatusMessage = "error: " + msg.err.Error()
		} else {
			m.StatusMessage = msg.status
		}
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % panelCount
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + panelCount - 1) % panelCount
		return m, nil

	case "1":
		m.ActivePanel = PanelTasks
		return m, nil

	case "2":
		m.ActivePanel = PanelPending
		return m, nil

	case "j", "down":
		if m.Cursor[m.ActivePanel] < m.rowCount(m.ActivePanel)-1 {
			m.Cursor[m.ActivePanel]++
		}
		return m, nil

	case "k", "up":
		if m.Cursor[m.ActivePanel] > 0 {
			m.Cursor[m.ActivePanel]--
		}
		return m, nil

	case " ", "x":
		if m.ActivePanel != PanelTasks {
			return m, nil
		}
		if t := m.SelectedTask(); t != nil {
			return m, m.toggle(t.ID)
		}
		return m, nil

	case "s":
		m.src.RequestSync(tsync.KindFull)
		m.StatusMessage = "full sync requested"
		return m, nil

	case "p":
		m.src.RequestSync(tsync.KindPush)
		m.StatusMessage = "push requested"
		return m, nil

	case "c":
		m.ShowCompleted = !m.ShowCompleted
		m.clampCursors()
		return m, nil

	case "/":
		m.SearchMode = true
		m.SearchInput.SetValue(m.SearchQuery)
		m.SearchInput.Focus()
		return m, textinput.Blink

	case "esc":
		m.SearchQuery = ""
		m.clampCursors()
		return m, nil

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// handleSearchKey feeds keys to the search input until enter or esc
func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.SearchMode = false
		m.SearchQuery = m.SearchInput.Value()
		m.SearchInput.Blur()
		m.Cursor[PanelTasks] = 0
		return m, nil
	case "esc":
		m.SearchMode = false
		m.SearchInput.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.SearchInput, cmd = m.SearchInput.Update(msg)
	return m, cmd
}

// VisibleTasks applies the completed toggle and search query
func (m Model) VisibleTasks() []models.Task {
	f := models.TaskFilters{Search: m.SearchQuery}
	if !m.ShowCompleted {
		open := false
		f.Completed = &open
	}
	out := make([]models.Task, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// SelectedTask returns the task under the cursor, if any
func (m Model) SelectedTask() *models.Task {
	visible := m.VisibleTasks()
	i := m.Cursor[PanelTasks]
	if i < 0 || i >= len(visible) {
		return nil
	}
	t := visible[i]
	return &t
}

func (m Model) rowCount(p Panel) int {
	if p == PanelPending {
		return len(m.Pending)
	}
	return len(m.VisibleTasks())
}

func (m Model) clampCursors() {
	for p := Panel(0); p < panelCount; p++ {
		n := m.rowCount(p)
		if m.Cursor[p] >= n {
			m.Cursor[p] = max(n-1, 0)
		}
		if m.Cursor[p] < 0 {
			m.Cursor[p] = 0
		}
	}
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		return FetchData(context.Background(), src)
	}
}

// waitForProgress blocks on the next progress snapshot
func (m Model) waitForProgress() tea.Cmd {
	ch := m.progress
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return progressClosedMsg{}
		}
		return ProgressMsg(p)
	}
}

func (m Model) toggle(id string) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		t, err := src.Toggle(context.Background(), id)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		state := "reopened"
		if t.Completed {
			state = "completed"
		}
		return actionDoneMsg{status: state + ": " + t.Title}
	}
}
