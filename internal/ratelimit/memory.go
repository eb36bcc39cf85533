package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore. Each server instance keeps its
// own counters, so limits enforced through it are per-instance only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	sweepAt time.Time

	now func() time.Time
}

// NewMemoryStore initializes an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	m.sweepLocked(m.now())
	return nil
}

// sweepLocked drops expired counters at most once a minute so the map does
// not grow with one entry per IP forever.
func (m *MemoryStore) sweepLocked(now time.Time) {
	if now.Before(m.sweepAt) {
		return
	}
	m.sweepAt = now.Add(time.Minute)
	for key, rec := range m.records {
		if now.After(rec.ResetAt) {
			delete(m.records, key)
		}
	}
}
