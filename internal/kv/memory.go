package kv

import (
	"context"
	"sync"
	"time"
)

// entry is a single value and when it was last touched
type entry struct {
	value    string
	lastSeen time.Time
}

// Memory is an in-process Store. With a TTL set, keys that have not been read
// or written within the TTL are evicted by a background goroutine.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry

	// ttl is the idle lifetime of a key, zero keeps keys forever
	ttl time.Duration
}

type MemoryOption func(*Memory)

// WithTTL sets the idle lifetime of keys. Reads and writes both refresh it.
func WithTTL(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = d
	}
}

// NewMemory creates a Memory store. When a TTL is configured the cleanup
// goroutine runs until ctx is cancelled.
func NewMemory(ctx context.Context, opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[string]*entry)}
	for _, o := range opts {
		o(m)
	}
	if m.ttl > 0 {
		go m.cleanup(ctx)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if m.expired(e, time.Now()) {
		delete(m.entries, key)
		return "", false, nil
	}
	e.lastSeen = time.Now()
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.entries[key] = &entry{value: value, lastSeen: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// size returns the number of keys currently held, including expired keys not yet evicted.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) expired(e *entry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.lastSeen) > m.ttl
}

// cleanup periodically evicts keys that have been idle longer than the TTL.
// Runs every TTL/2 so stale keys do not linger much past their lifetime.
func (m *Memory) cleanup(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for k, e := range m.entries {
				if m.expired(e, now) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
