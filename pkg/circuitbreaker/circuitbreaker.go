package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the wrapped call while the
// breaker is cooling down.
var ErrOpen = errors.New("circuit breaker open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type Settings struct {
	Name      string
	Threshold int
	Cooldown  time.Duration
}

// Breaker trips after Threshold consecutive failures and rejects calls
// for Cooldown. The first call after the cooldown probes the dependency;
// its outcome either closes the breaker or re-opens it.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	st       state
	failures int
	openedAt time.Time
}

func New(settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      settings.Name,
		threshold: settings.Threshold,
		cooldown:  settings.Cooldown,
	}
}

func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.st = stateHalfOpen
	}
	return true
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.st == stateHalfOpen || b.failures >= b.threshold {
		b.st = stateOpen
		b.openedAt = time.Now()
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.st = stateClosed
}
