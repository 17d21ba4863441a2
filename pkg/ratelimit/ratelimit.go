// Package ratelimit keeps per-key token buckets with lazy refill.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	max      int
	window   time.Duration
	lastSeen time.Time
}

// Registry holds one token bucket per key. Each key keeps the (max, window)
// it was first acquired with.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRegistry creates an empty registry using the wall clock.
func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates a registry reading time from now.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{buckets: make(map[string]*bucket), now: now}
}

func (r *Registry) bucket(key string, max int, window time.Duration, now time.Time) *bucket {
	b, ok := r.buckets[key]
	if !ok {
		if max < 1 {
			max = 1
		}
		if window <= 0 {
			window = time.Second
		}
		// Refills max tokens per window and starts full.
		limit := rate.Limit(float64(max) / window.Seconds())
		b = &bucket{limiter: rate.NewLimiter(limit, max), max: max, window: window}
		r.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// TryAcquire takes one token from key's bucket, creating it full with
// (max, window) on first use. It reports whether a token was available.
func (r *Registry) TryAcquire(key string, max int, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	return r.bucket(key, max, window, now).limiter.AllowN(now, 1)
}

// RetryAfter returns how long until key's bucket holds one token, rounded
// up to whole seconds and clamped to [1s, window]. Unknown keys return 0.
func (r *Registry) RetryAfter(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		return 0
	}

	tokens := b.limiter.TokensAt(r.now())
	if tokens >= 1 {
		return 0
	}
	perSecond := float64(b.limiter.Limit())
	// Epsilon absorbs float noise so an exact 30s does not round to 31s.
	wait := time.Duration(math.Ceil((1-tokens)/perSecond-1e-9)) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > b.window {
		wait = b.window.Round(time.Second)
		if wait < time.Second {
			wait = time.Second
		}
	}
	return wait
}

// Tokens returns the current token count of key, or -1 if unknown.
func (r *Registry) Tokens(key string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		return -1
	}
	return b.limiter.TokensAt(r.now())
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Sweep drops buckets idle for longer than idle. A dropped bucket would
// have refilled completely, so forgetting it changes nothing observable as
// long as idle >= its window.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) >= idle && now.Sub(b.lastSeen) >= b.window {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry used when no registry bean is
// provided.
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}
