package delivery

import (
	"sync"
	"time"
)

// Breaker gates transmissions on collector health. After maxFailures
// consecutive retriable failures it opens for the reset window, during which
// the drain loop idles instead of burning queue attempts. Fail and Success
// report state transitions so the caller can log and gauge them exactly once.
type Breaker struct {
	mu          sync.Mutex
	consecutive int
	maxFailures int
	openUntil   time.Time
	window      time.Duration
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for the given window
func NewBreaker(maxFailures int, window time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		window:      window,
	}
}

// Open reports whether transmissions are currently gated off
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Breaker) openLocked() bool {
	return b.consecutive >= b.maxFailures && time.Now().Before(b.openUntil)
}

// Consecutive returns the current run of failures without an intervening
// success
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Success clears the failure run. Returns true when the breaker had tripped,
// so the caller can report the close even after the window lapsed into
// half-open.
func (b *Breaker) Success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.consecutive >= b.maxFailures
	b.consecutive = 0
	b.openUntil = time.Time{}
	return wasOpen
}

// Fail extends the failure run. Returns true when this crossed the threshold
// and opened the breaker.
func (b *Breaker) Fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.openLocked()
	b.consecutive++
	if b.consecutive >= b.maxFailures {
		b.openUntil = time.Now().Add(b.window)
	}
	return !wasOpen && b.openLocked()
}
