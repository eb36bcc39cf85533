// Package ratelimit implements fixed-window request limiting.
//
// The persistent Limiter backs per-user action limits and survives restarts
// and multiple server instances when given a database-backed CounterStore.
// The in-process MemoryStore backs the coarse edge IP shield, which trades
// cross-instance accuracy for zero dependencies. Bursts at window boundaries
// can exceed the nominal rate by up to 2x; that is inherent to fixed windows
// and preserved deliberately.
package ratelimit

import (
	"context"
	"time"
)

// Record is the counter state for one key.
type Record struct {
	Hits    int
	ResetAt time.Time
}

// Result reports the outcome of a limit check.
type Result struct {
	Allowed   bool
	Hits      int
	Remaining int
	ResetAt   time.Time
}

// CounterStore persists window counters keyed by a composite string
// (e.g. "userID:chat" or "ip:global").
type CounterStore interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
}

// Allower is the minimal gate used by HTTP middleware.
type Allower interface {
	Allow(key string) bool
}

// Limiter checks fixed-window limits against a CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// New builds a limiter over the given store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// nextRecord computes the counter state after one more hit.
func nextRecord(current Record, exists bool, now time.Time, window time.Duration) Record {
	if !exists || now.After(current.ResetAt) {
		return Record{Hits: 1, ResetAt: now.Add(window)}
	}
	current.Hits++
	return current
}

// evaluate derives the check result from a counter state.
func evaluate(rec Record, limit int) Result {
	remaining := limit - rec.Hits
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   rec.Hits <= limit,
		Hits:      rec.Hits,
		Remaining: remaining,
		ResetAt:   rec.ResetAt,
	}
}

// Check records a hit for key and reports whether it is within the limit.
// A missing or expired record starts a fresh window with hits=1.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()
	current, exists, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	next := nextRecord(current, exists, now, window)
	if err := l.store.Put(ctx, key, next); err != nil {
		return Result{}, err
	}
	return evaluate(next, limit), nil
}

// Windowed adapts the limiter to the Allower middleware gate with a fixed
// policy. Store failures fail open: the in-process shield is a coarse abuse
// filter, not a correctness boundary.
func (l *Limiter) Windowed(limit int, window time.Duration) Allower {
	return windowed{l: l, limit: limit, window: window}
}

type windowed struct {
	l      *Limiter
	limit  int
	window time.Duration
}

func (w windowed) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := w.l.Check(ctx, key, w.limit, w.window)
	if err != nil {
		return true
	}
	return res.Allowed
}
