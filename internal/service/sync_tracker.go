package service

import (
	"context"
	"sync"
	"time"
)

// Sync run states.
const (
	SyncRunning  = "running"
	SyncComplete = "complete"
	SyncError    = "error"
)

// SyncStatus is the state of a user's most recent sync run.
type SyncStatus struct {
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"` // running, complete, error
	Synced      int        `json:"synced"`
	Linked      int        `json:"linked"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finished reports whether the run has ended.
func (s *SyncStatus) Finished() bool {
	return s.Status == SyncComplete || s.Status == SyncError
}

// SyncTracker keeps the last sync run per user in memory and refuses to
// start a second run for a user whose run is still going.
type SyncTracker struct {
	mu   sync.RWMutex
	runs map[string]*SyncStatus
	subs map[string][]chan SyncStatus // subscribers per user
	now  func() time.Time
}

// NewSyncTracker creates a new sync tracker.
func NewSyncTracker() *SyncTracker {
	return &SyncTracker{
		runs: make(map[string]*SyncStatus),
		subs: make(map[string][]chan SyncStatus),
		now:  time.Now,
	}
}

// Begin records a new running sync and reports false if one is already running.
func (t *SyncTracker) Begin(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[userID]; ok && run.Status == SyncRunning {
		return false
	}
	t.runs[userID] = &SyncStatus{
		UserID:    userID,
		Status:    SyncRunning,
		StartedAt: t.now().UTC(),
	}
	return true
}

// Finish closes the user's running sync and notifies subscribers.
func (t *SyncTracker) Finish(userID string, res *SyncResult, err error) {
	t.mu.Lock()
	run, ok := t.runs[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if res != nil {
		run.Synced = res.Synced
		run.Linked = res.Linked
		run.Skipped = res.Skipped
		run.Failed = res.Failed
	}
	run.Status = SyncComplete
	if err != nil {
		run.Status = SyncError
		run.Error = err.Error()
	}
	done := t.now().UTC()
	run.CompletedAt = &done
	snapshot := *run
	// Sends happen under the lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range t.subs[userID] {
		select {
		case ch <- snapshot:
		default:
		}
	}
	t.mu.Unlock()
}

// WaitIdle blocks until the user has no running sync or ctx is done.
func (t *SyncTracker) WaitIdle(ctx context.Context, userID string) error {
	ch := t.Subscribe(userID)
	defer t.Unsubscribe(userID, ch)
	for {
		if run, ok := t.Get(userID); !ok || run.Status != SyncRunning {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get returns the user's last sync run.
func (t *SyncTracker) Get(userID string) (*SyncStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[userID]
	if !ok {
		return nil, false
	}
	snapshot := *run
	return &snapshot, true
}

// Subscribe returns a channel that receives the user's sync updates.
func (t *SyncTracker) Subscribe(userID string) chan SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan SyncStatus, 10)
	t.subs[userID] = append(t.subs[userID], ch)
	return ch
}

// Unsubscribe removes a channel from subscribers.
func (t *SyncTracker) Unsubscribe(userID string, ch chan SyncStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[userID]
	for i, s := range subs {
		if s == ch {
			t.subs[userID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[userID]) == 0 {
		delete(t.subs, userID)
	}
	close(ch)
}
