package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowLimiter_AllowsUnderLimit(t *testing.T) {
	l := NewSlidingWindowLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "query %d should be admitted", i)
	}
}

func TestSlidingWindowLimiter_TripsOverLimit(t *testing.T) {
	l := NewSlidingWindowLimiter(2, time.Minute)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	// Once sidelined, stays sidelined for the rest of the window.
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestSlidingWindowLimiter_PerClientIsolation(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestSlidingWindowLimiter_ResetsAfterWindow(t *testing.T) {
	l := NewSlidingWindowLimiter(1, 20*time.Millisecond)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestSlidingWindowLimiter_ClearReleasesClient(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	l.Clear("1.2.3.4")
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestSlidingWindowLimiter_DisabledWhenLimitZero(t *testing.T) {
	l := NewSlidingWindowLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("1.2.3.4"))
	}
}

func TestSlidingWindowLimiter_NilReceiverAllows(t *testing.T) {
	var l *SlidingWindowLimiter
	assert.True(t, l.Allow("1.2.3.4"))
	l.Clear("1.2.3.4") // must not panic
}
