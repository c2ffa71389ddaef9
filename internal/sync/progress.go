package sync

import (
	stdsync "sync"
	"time"
)

// Status is the lifecycle state of a sync pass.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// DefaultGrace is how long completed and error states stay visible before
// reverting to idle.
const DefaultGrace = 3 * time.Second

// Progress is a snapshot of the current sync pass.
type Progress struct {
	Total          int    `json:"total"`
	CompletedCount int    `json:"completedCount"`
	CurrentLabel   string `json:"currentLabel"`
	Status         Status `json:"status"`
	Failed         int    `json:"failed"`
}

// Terminal reports whether p ends a pass.
func (p Progress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusError
}

// Broadcaster fans progress snapshots out to subscribers. Each subscriber
// channel holds only the latest snapshot; slow readers skip intermediate
// values and never block the publisher.
type Broadcaster struct {
	mu      stdsync.Mutex
	current Progress
	subs    map[int]chan Progress
	nextID  int
	grace   time.Duration
	gen     uint64
	timer   *time.Timer
	closed  bool
}

// NewBroadcaster returns a Broadcaster in the idle state. Terminal snapshots
// revert to idle after grace; a non-positive grace disables the revert.
func NewBroadcaster(grace time.Duration) *Broadcaster {
	return &Broadcaster{
		current: Progress{Status: StatusIdle},
		subs:    make(map[int]chan Progress),
		grace:   grace,
	}
}

// Current returns the most recent snapshot.
func (b *Broadcaster) Current() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a channel primed with the current snapshot and a func
// that unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Progress, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- b.current

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish replaces the current snapshot and delivers it to subscribers.
func (b *Broadcaster) Publish(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.setLocked(p)

	if p.Terminal() && b.grace > 0 {
		gen := b.gen
		b.timer = time.AfterFunc(b.grace, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed || b.gen != gen {
				return
			}
			b.timer = nil
			b.setLocked(Progress{Status: StatusIdle})
		})
	}
}

func (b *Broadcaster) setLocked(p Progress) {
	b.current = p
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}

// Close stops the grace timer and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
