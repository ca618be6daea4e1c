// Package cache holds TTL caches for facility lookups.
package cache

import (
	"context"
	"sync"
	"time"

	"rotaclock/internal/attendance/models"
)

type memoryEntry struct {
	facility *models.Facility
	expires  time.Time
}

// Memory is a process-local TTL cache. Expired entries are dropped on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryWithClock is NewMemory with an injectable clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*models.Facility, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return copyFacility(e.facility), true, nil
}

func (m *Memory) Set(_ context.Context, key string, facility *models.Facility, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{facility: copyFacility(facility), expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func copyFacility(f *models.Facility) *models.Facility {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
