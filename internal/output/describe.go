package output

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Wrap limits for rendered task descriptions.
const (
	minDescriptionWidth = 20
	maxDescriptionWidth = 100
)

// TerminalWidth returns the width of stdout when it is a terminal, then
// $COLUMNS, then fallback.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	return fallback
}

// descriptionWidth is the terminal width clamped to a readable column.
func descriptionWidth() int {
	return min(max(TerminalWidth(80)-2, minDescriptionWidth), maxDescriptionWidth)
}

// RenderDescription renders a task description as markdown wrapped at
// width. A blank description renders as "". If glamour fails the raw text is
// returned.
func RenderDescription(desc string, width int) string {
	if strings.TrimSpace(desc) == "" {
		return ""
	}
	width = min(max(width, minDescriptionWidth), maxDescriptionWidth)

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err == nil {
		var out string
		if out, err = r.Render(desc); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	slog.Debug("output: markdown render failed, using raw description", "err", err)
	return strings.TrimRight(desc, "\n")
}

// DueNote phrases a YYYY-MM-DD due date relative to now: "due today",
// "due tomorrow", "due in 4 days", "overdue by 2 days". Completed tasks and
// unparseable dates get "".
func DueNote(due string, completed bool, now time.Time) string {
	if due == "" || completed {
		return ""
	}
	day, err := time.ParseInLocation("2006-01-02", due, now.Location())
	if err != nil {
		return ""
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := int(math.Round(day.Sub(today).Hours() / 24))

	switch {
	case days == 0:
		return "due today"
	case days == 1:
		return "due tomorrow"
	case days > 1:
		return fmt.Sprintf("due in %d days", days)
	case days == -1:
		return "overdue by 1 day"
	default:
		return fmt.Sprintf("overdue by %d days", -days)
	}
}
