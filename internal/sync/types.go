// Package sync reconciles the local task store with the remote task API.
//
// Local mutations are pushed by replaying the pending-operation log in order.
// Remote state is pulled and merged with last-write-wins on UpdatedAt.
package sync

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned by a direct sync call while another pass
// holds the orchestrator.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncFailure is a failure of a whole pass or stage, as opposed to a single
// item that stays pending.
type SyncFailure struct {
	Stage string
	Err   error
}

func (e *SyncFailure) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Stage, e.Err)
}

func (e *SyncFailure) Unwrap() error { return e.Err }

// Kind selects what a queued sync request runs.
type Kind int

const (
	KindPush Kind = iota + 1
	KindFull
)

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "push"
	case KindFull:
		return "full"
	default:
		return "unknown"
	}
}

// PushResult summarises one drain of the pending-operation log.
type PushResult struct {
	Total   int  `json:"total"`   // pending entries read
	Synced  int  `json:"synced"`  // entries confirmed by the remote
	Failed  int  `json:"failed"`  // entries left pending
	Purged  int  `json:"purged"`  // soft-deleted tasks removed after confirmation
	Offline bool `json:"offline,omitempty"`
}

// PullResult summarises one merge of the remote task list.
type PullResult struct {
	Created int  `json:"created"`
	Updated int  `json:"updated"`
	Skipped int  `json:"skipped"`
	Failed  int  `json:"failed"`
	Offline bool `json:"offline,omitempty"`
}

// FullResult is the outcome of a pull followed by a push.
type FullResult struct {
	Pull PullResult `json:"pull"`
	Push PushResult `json:"push"`
}
