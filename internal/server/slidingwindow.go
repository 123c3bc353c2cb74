package server

import (
	"sync"
	"time"
)

// SlidingWindowLimiter caps each client to at most Limit queries per Window,
// using two adjacent fixed buckets (current and previous) to approximate a
// true sliding window without storing a timestamp per query.
//
// This sits inside the query pipeline, after the outer token-bucket
// RateLimiter (rate_limit.go) has already admitted the packet for
// decode — it is a per-client policy (trip once, sideline for the rest of
// the window) rather than a flood-protection layer, so it answers a
// different question: "has this client exceeded its query budget", not
// "is the server under load".
type SlidingWindowLimiter struct {
	Limit  int
	Window time.Duration

	mu      sync.Mutex
	buckets map[string]*windowBucket
}

type windowBucket struct {
	windowStart time.Time
	curCount    int
	prevCount   int
	sidelined   bool
}

// NewSlidingWindowLimiter creates a limiter admitting at most limit queries
// per client within window. A non-positive limit or window disables the
// limiter (Allow always returns true).
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		Limit:   limit,
		Window:  window,
		buckets: map[string]*windowBucket{},
	}
}

// Allow reports whether a query from key should proceed, and advances the
// client's bucket state as a side effect. A nil receiver always allows,
// matching the package's nil-receiver-safe idiom.
func (s *SlidingWindowLimiter) Allow(key string) bool {
	if s == nil || s.Limit <= 0 || s.Window <= 0 {
		return true
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &windowBucket{windowStart: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.windowStart)
	if elapsed >= s.Window {
		shifts := int(elapsed / s.Window)
		if shifts == 1 {
			b.prevCount = b.curCount
		} else {
			b.prevCount = 0
		}
		b.curCount = 0
		b.windowStart = b.windowStart.Add(time.Duration(shifts) * s.Window)
		b.sidelined = false
		elapsed = now.Sub(b.windowStart)
	}

	// Weighted estimate: blend the previous bucket's count, decayed by how
	// far we are into the current one, with the current bucket's count.
	weight := 1.0 - float64(elapsed)/float64(s.Window)
	estimate := float64(b.prevCount)*weight + float64(b.curCount)

	if b.sidelined || estimate >= float64(s.Limit) {
		b.sidelined = true
		return false
	}

	b.curCount++
	return true
}

// Clear removes a client's sideline/count state, allowing it to resume
// immediately rather than waiting out the rest of the window. Intended for
// the admin API to unblock a client cleared by an operator.
func (s *SlidingWindowLimiter) Clear(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}
