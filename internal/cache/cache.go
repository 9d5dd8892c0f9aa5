// Package cache provides a single-slot, concurrency-safe memoizer:
// each [Slot] holds at most one (key, value) pair, and replaces it
// entirely whenever it is asked for a different key.
//
// Staleness is controlled by the choice of key (see [TimeBucket]),
// and optionally by a TTL, like in https://github.com/patrickmn/go-cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/internal/otel"
)

const (
	NoExpiration time.Duration = 0

	// FetchTimeout bounds each fetch, which is detached from its initiator's cancellation.
	FetchTimeout = time.Minute
)

// FetchFunc produces the value for a key which is not in the cache.
type FetchFunc[V any] func(context.Context) (V, error)

// Slot is a memoizer that holds at most one entry. Concurrent callers
// which ask for the same key share a single in-flight call to the fetch function.
type Slot[K comparable, V any] struct {
	mu    sync.Mutex
	entry *entry[K, V]

	name string
	ttl  time.Duration
}

type entry[K comparable, V any] struct {
	key  K
	done chan struct{}

	// Written only before done is closed.
	value      V
	err        error
	expiration time.Time

	stale bool // Guarded by [Slot.mu].
}

// New creates a new [Slot] instance. The name is used only in metrics.
// A TTL of [NoExpiration] means that only a key change invalidates the entry.
func New[K comparable, V any](name string, ttl time.Duration) *Slot[K, V] {
	if ttl < NoExpiration {
		ttl = NoExpiration
	}
	return &Slot[K, V]{name: name, ttl: ttl}
}

// Get returns the value stored for the given key, or calls fetch to produce it.
//
// The new entry is stored before fetch is called, so concurrent callers with
// an equal key wait for the same result instead of calling fetch again.
// A successful fetch discards the previous entry. A failed fetch is not
// cached: the previous (good) entry is restored, and the error is returned.
//
// The fetch runs in the background, with a context that is not canceled
// along with the caller's, so one caller giving up doesn't fail the others.
// Each caller stops waiting when its own context is done.
func (s *Slot[K, V]) Get(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	s.mu.Lock()
	if e := s.entry; e != nil && e.key == key && !e.expired(time.Now()) {
		s.mu.Unlock()
		otel.IncrementCounter(ctx, "cache.hit", 1, map[string]string{"cache": s.name})
		return e.wait(ctx)
	}

	prev := s.entry
	e := &entry[K, V]{key: key, done: make(chan struct{})}
	s.entry = e
	s.mu.Unlock()

	otel.IncrementCounter(ctx, "cache.miss", 1, map[string]string{"cache": s.name})
	go s.fill(ctx, e, prev, fetch)
	return e.wait(ctx)
}

func (s *Slot[K, V]) fill(ctx context.Context, e, prev *entry[K, V], fetch FetchFunc[V]) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("cache fetch panicked", slog.String("cache", s.name), slog.Any("panic", r))
			otel.IncrementCounter(ctx, "cache.panic", 1, map[string]string{"cache": s.name})
			var v V
			e.value, e.err = v, fmt.Errorf("cache %q: fetch panicked: %v", s.name, r)
		}

		if e.err == nil && s.ttl > NoExpiration {
			e.expiration = time.Now().Add(s.ttl)
		}

		// Restore the previous entry before waking up the waiters,
		// so they never observe an empty slot after a failure.
		if e.err != nil {
			s.mu.Lock()
			if s.entry == e {
				s.entry = nil
				if prev != nil && prev.succeeded() && !prev.stale {
					s.entry = prev
				}
			}
			s.mu.Unlock()
		}

		close(e.done)
	}()

	e.value, e.err = fetch(ctx)
}

// Peek returns the current entry without calling any fetch function.
// In-flight, failed and expired entries are not reported.
func (s *Slot[K, V]) Peek() (K, V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry
	if e == nil || !e.succeeded() || e.expired(time.Now()) {
		var k K
		var v V
		return k, v, false
	}
	return e.key, e.value, true
}

// Expire marks the entry of the given key as expired, if it is already
// stored and complete, so the next [Slot.Get] for it calls fetch again.
// Unlike [Slot.Clear], callers with a different key are unaffected.
func (s *Slot[K, V]) Expire(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entry; e != nil && e.key == key && e.succeeded() {
		e.stale = true
	}
}

// Clear removes the entry from the slot. Callers that are already
// waiting for an in-flight fetch still receive its result.
func (s *Slot[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry = nil
}

func (e *entry[K, V]) wait(ctx context.Context) (V, error) {
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		var v V
		return v, ctx.Err()
	}
}

// succeeded reports whether the fetch function has returned without an error.
func (e *entry[K, V]) succeeded() bool {
	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// expired never reports in-flight entries as expired.
// It must be called while holding [Slot.mu].
func (e *entry[K, V]) expired(now time.Time) bool {
	select {
	case <-e.done:
		return e.stale || (!e.expiration.IsZero() && now.After(e.expiration))
	default:
		return false
	}
}
