package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	assert.False(t, b.Open())
	assert.False(t, b.Fail())
	assert.False(t, b.Fail())
	assert.False(t, b.Open(), "below threshold must stay closed")
	assert.True(t, b.Fail(), "crossing the threshold reports the transition")
	assert.True(t, b.Open())
	assert.False(t, b.Fail(), "already open, no second transition")
	assert.Equal(t, 4, b.Consecutive())
}

func TestBreakerClosesOnSuccess(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	assert.True(t, b.Fail())
	assert.True(t, b.Open())

	assert.True(t, b.Success(), "closing an open breaker reports the transition")
	assert.False(t, b.Open())
	assert.Equal(t, 0, b.Consecutive())
	assert.False(t, b.Success(), "already closed, no transition")
	assert.True(t, b.Fail(), "threshold counts from zero after a success")
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	assert.True(t, b.Fail())
	assert.True(t, b.Open())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.Open(), "reset window elapsed")
	assert.True(t, b.Fail(), "a failure while half-open re-opens the circuit")
	assert.True(t, b.Open())
	assert.True(t, b.Success(), "a success while tripped reports the close")
}
