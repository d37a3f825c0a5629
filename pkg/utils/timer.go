package utils

import (
	"sync"
	"time"
)

// CallbackTimer runs a callback once after a delay. Starting it again
// replaces any pending callback, and Cancel drops a pending callback
// without affecting later starts. A callback that has already fired but
// not yet run is suppressed by the sequence check, so after Cancel or a
// new Start the old callback never runs.
type CallbackTimer struct {
	mu    sync.Mutex
	seq   uint64
	timer *time.Timer
}

// Start schedules fn to run once after d, replacing any pending callback.
func (t *CallbackTimer) Start(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	seq := t.seq
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if seq != t.seq {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops any pending callback. It is safe to call when nothing is
// scheduled.
func (t *CallbackTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Running reports whether a callback is currently scheduled.
func (t *CallbackTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
