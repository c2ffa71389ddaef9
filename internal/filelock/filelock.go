// Package filelock provides a cross-process exclusive lock backed by an OS
// file lock. The lock is released by the kernel when the holder exits,
// including on crashes.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout matches the SQLite busy_timeout used by the store.
	DefaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// ErrTimeout is returned when the lock could not be acquired in time.
var ErrTimeout = errors.New("write lock timeout")

// Lock is an exclusive lock on a single lock file.
type Lock struct {
	path string
	file *os.File
}

// New returns an unlocked Lock for path. The parent directory is created on
// first acquire.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock, retrying with exponential backoff until timeout
// elapses or ctx is done.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.Holder()
			l.closeFile()
			return fmt.Errorf("%w after %v (holder: %s)", ErrTimeout, timeout, holder)
		}

		select {
		case <-ctx.Done():
			l.closeFile()
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	l.unlock()
	return l.closeFile()
}

func (l *Lock) closeFile() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// With runs fn while holding an exclusive lock on path.
func With(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	l := New(path)
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

func (l *Lock) writeHolder() {
	_ = l.file.Truncate(0)
	_, _ = l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = l.file.Sync()
}

// Holder describes the process recorded in the lock file, flagging it as
// stale when that process is gone.
func (l *Lock) Holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}

	var pid, since string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			since = v
		}
	}
	if pid == "" {
		return "unknown"
	}

	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid:%s since %s (stale)", pid, since)
	}
	return fmt.Sprintf("pid:%s since %s", pid, since)
}
