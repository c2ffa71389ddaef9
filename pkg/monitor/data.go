package monitor

import (
	"context"
	"time"

	"github.com/marcus/offtask/internal/models"
)

// FetchData retrieves all data needed for the monitor display
func FetchData(ctx context.Context, src Source) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
		Online:    src.Online(),
	}

	tasks, err := src.List(ctx, models.TaskFilters{})
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Tasks = tasks

	pending, err := src.Pending(ctx)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Pending = pending

	stats, err := src.SyncStats(ctx)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.SyncStats = stats

	return msg
}
