// Package ratelimit provides the per-exchange subscribe/reconnect
// token-bucket limiters shared by every connection for that exchange.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Purpose names one of the two independent limiters an exchange owns.
type Purpose string

const (
	Subscribe Purpose = "subscribe"
	Reconnect Purpose = "reconnect"
)

// bucket wraps a single token bucket and exposes wait-duration
// observation for the caller's metrics.
type bucket struct {
	limiter *rate.Limiter
}

func newBucket(rps float64, burst int) *bucket {
	return &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire blocks until a token is available (or ctx is cancelled),
// returning the time spent waiting so the caller can report it.
func (b *bucket) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

func (b *bucket) Allow() bool { return b.limiter.Allow() }

// Registry holds the subscribe and reconnect limiters for every
// configured exchange. Safe for concurrent use; exchanges are
// registered once at startup and looked up frequently thereafter.
type Registry struct {
	mu     sync.RWMutex
	byExch map[string]map[Purpose]*bucket
}

func NewRegistry() *Registry {
	return &Registry{byExch: make(map[string]map[Purpose]*bucket)}
}

// Configure installs (or replaces) the subscribe and reconnect
// limiters for an exchange.
func (r *Registry) Configure(exchange string, subscribeRPS float64, subscribeBurst int, reconnectRPS float64, reconnectBurst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExch[exchange] = map[Purpose]*bucket{
		Subscribe: newBucket(subscribeRPS, subscribeBurst),
		Reconnect: newBucket(reconnectRPS, reconnectBurst),
	}
}

// WaitFunc is invoked with the observed wait duration, typically
// wired to a metrics histogram; may be nil.
type WaitFunc func(exchange string, purpose Purpose, waited time.Duration)

// Acquire suspends the caller until a token is available for
// (exchange, purpose). Reports no error and no wait if the exchange
// has no configured limiters (fail-open, matching the teacher's
// Manager.Allow/Wait no-limiter behavior).
func (r *Registry) Acquire(ctx context.Context, exchange string, purpose Purpose, onWait WaitFunc) error {
	r.mu.RLock()
	buckets, ok := r.byExch[exchange]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	b, ok := buckets[purpose]
	if !ok {
		return nil
	}
	waited, err := b.Acquire(ctx)
	if onWait != nil {
		onWait(exchange, purpose, waited)
	}
	return err
}

// Allow reports whether a token is immediately available without
// blocking; used by tests asserting the cold-start burst invariant.
func (r *Registry) Allow(exchange string, purpose Purpose) bool {
	r.mu.RLock()
	buckets, ok := r.byExch[exchange]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	b, ok := buckets[purpose]
	if !ok {
		return true
	}
	return b.Allow()
}
