// Package connectivity tracks whether the remote task API is reachable.
//
// The Monitor is a two-state machine. It probes on an interval and
// notifies subscribers on every transition; it never retries or schedules
// sync work itself.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for Options.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 2 * time.Second
)

// Probe checks reachability. A nil error means online.
type Probe func(ctx context.Context) error

// Edge is a state transition.
type Edge struct {
	Online bool
	At     time.Time
}

// Options tunes the probe loop.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor tracks online/offline state.
type Monitor struct {
	probe Probe
	opts  Options

	mu     sync.Mutex
	online bool
	subs   map[int]chan Edge
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor that starts offline until the first probe.
func New(probe Probe, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Monitor{
		probe: probe,
		opts:  opts,
		subs:  make(map[int]chan Edge),
	}
}

// Start probes once synchronously to establish the initial state, without
// emitting an edge, then keeps probing in the background until Stop or ctx
// cancellation.
func (m *Monitor) Start(ctx context.Context) {
	online := m.runProbe(ctx)
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	slog.Debug("connectivity: initial state", "online", online)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Report(m.runProbe(ctx))
			}
		}
	}()
}

// Stop ends the probe loop and closes subscriber channels.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check runs the probe once and feeds the result through Report.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.runProbe(ctx)
	m.Report(online)
	return online
}

// Report records an observation. A change of state is delivered to every
// subscriber.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	edge := Edge{Online: online, At: time.Now()}
	if online {
		slog.Info("connectivity: online")
	} else {
		slog.Info("connectivity: offline")
	}
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- edge
	}
}

// Subscribe returns a channel holding the latest undelivered edge and an
// unsubscribe func.
func (m *Monitor) Subscribe() (<-chan Edge, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Edge, 1)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context) bool {
	if m.probe == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	if err := m.probe(ctx); err != nil {
		slog.Debug("connectivity: probe failed", "err", err)
		return false
	}
	return true
}
