package conversation

import (
	"sync"
	"time"
)

// DefaultInactivityTimeout ends continuous mode after this much silence.
const DefaultInactivityTimeout = 15 * time.Second

// InactivityTimer is a one-shot timer with at most one pending instance.
// Starting it supersedes any pending instance, and a superseded or cancelled
// instance never fires, even if its clock already ran out.
type InactivityTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Start schedules onFire after d, cancelling any pending timer first.
// onFire runs on its own goroutine.
func (t *InactivityTimer) Start(d time.Duration, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen || t.timer == nil {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		onFire()
	})
}

// Cancel stops the pending timer. Safe to call at any time. It reports
// whether an instance was pending; false means none was scheduled or it has
// already fired.
func (t *InactivityTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

func (t *InactivityTimer) cancelLocked() bool {
	pending := t.timer != nil
	if pending {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	return pending
}

// Pending reports whether a timer is scheduled and has not fired.
func (t *InactivityTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
