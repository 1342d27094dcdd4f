package cdr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var flushes int32
	d := NewDebouncer(50*time.Millisecond, func() {
		atomic.AddInt32(&flushes, 1)
	})

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
	assert.False(t, d.Pending())
}

func TestDebouncerTriggerResetsTimer(t *testing.T) {
	var flushes int32
	d := NewDebouncer(60*time.Millisecond, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	// Still inside the quiet period, this resets it.
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&flushes))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestDebouncerFlushRunsPendingNow(t *testing.T) {
	var flushes int32
	d := NewDebouncer(time.Hour, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.Trigger()
	d.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))

	// Nothing pending, flush is a no-op.
	d.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}

func TestDebouncerCloseRunsPendingSynchronously(t *testing.T) {
	var flushes int32
	d := NewDebouncer(time.Hour, func() {
		atomic.AddInt32(&flushes, 1)
	})

	d.Trigger()
	d.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))

	// Idempotent, and nothing fires after close.
	d.Close()
	d.Trigger()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flushes))
}
