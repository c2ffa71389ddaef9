package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	creates      atomic.Int64
	replays      atomic.Int64
	updates      atomic.Int64
	deletes      atomic.Int64
	lists        atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	TasksCreated  int64   `json:"tasks_created"`
	CreateReplays int64   `json:"create_replays"`
	TasksUpdated  int64   `json:"tasks_updated"`
	TasksDeleted  int64   `json:"tasks_deleted"`
	ListRequests  int64   `json:"list_requests"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordRequest()     { m.requests.Add(1) }
func (m *Metrics) RecordError()       { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }
func (m *Metrics) RecordCreate()      { m.creates.Add(1) }
func (m *Metrics) RecordReplay()      { m.replays.Add(1) }
func (m *Metrics) RecordUpdate()      { m.updates.Add(1) }
func (m *Metrics) RecordDelete()      { m.deletes.Add(1) }
func (m *Metrics) RecordList()        { m.lists.Add(1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		TasksCreated:  m.creates.Load(),
		CreateReplays: m.replays.Load(),
		TasksUpdated:  m.updates.Load(),
		TasksDeleted:  m.deletes.Load(),
		ListRequests:  m.lists.Load(),
	}
}
