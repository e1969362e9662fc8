package validation

import (
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket. Buckets refill continuously
// over the window and idle clients are swept to bound memory.
type RateLimiter struct {
	maxTokens int
	window    time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	sweep *time.Ticker
	done  chan struct{}
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter allows maxTokens requests per client per window.
func NewRateLimiter(maxTokens int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxTokens: maxTokens,
		window:    window,
		buckets:   make(map[string]*bucket),
		sweep:     time.NewTicker(window),
		done:      make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow consumes one token for the client, reporting whether the request
// fits under the limit.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[clientID]
	if !ok {
		b = &bucket{tokens: float64(rl.maxTokens), lastRefill: time.Now()}
		rl.buckets[clientID] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refill := float64(rl.maxTokens) * (float64(now.Sub(b.lastRefill)) / float64(rl.window))
	if refill > 0 {
		b.tokens = min(b.tokens+refill, float64(rl.maxTokens))
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) sweepLoop() {
	for {
		select {
		case <-rl.sweep.C:
			rl.dropIdle()
		case <-rl.done:
			return
		}
	}
}

// dropIdle removes buckets untouched for two full windows.
func (rl *RateLimiter) dropIdle() {
	cutoff := time.Now().Add(-2 * rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, b := range rl.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(rl.buckets, id)
		}
	}
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	close(rl.done)
	rl.sweep.Stop()
}
