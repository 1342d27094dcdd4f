package cdr

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of mutations into a single flush after a
// quiet period. Each Trigger resets the timer (last write wins, no write
// amplification). Close stops the timer and, if a flush is still pending,
// runs it synchronously so the final edit is never dropped.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	pending  bool
	closed   bool
	flush    func()
}

func NewDebouncer(interval time.Duration, flush func()) *Debouncer {
	return &Debouncer{
		interval: interval,
		flush:    flush,
	}
}

// Trigger schedules a flush after the quiet period, resetting any timer
// already running.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Pending reports whether a flush is scheduled but not yet run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.closed || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.flush()
}

// Flush runs a pending flush immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.closed || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.flush()
}

// Close is idempotent. A pending flush runs synchronously before Close
// returns; no flush runs afterwards.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	wasPending := d.pending
	d.pending = false
	d.mu.Unlock()

	if wasPending {
		d.flush()
	}
}
