package store

import (
	"context"
	"sync"
	"time"

	"rotaclock/internal/ratelimit"
)

// InMemory implements ratelimit.Store with per-key timestamp windows. It is
// process-local; use the Redis store when several replicas share a limit.
type InMemory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return NewInMemoryWithClock(time.Now)
}

func NewInMemoryWithClock(now func() time.Time) *InMemory {
	return &InMemory{windows: make(map[string][]time.Time), now: now}
}

func (s *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))

	res := ratelimit.Result{Limit: limit, ResetAt: now.Add(window)}
	if len(stamps) < limit {
		stamps = append(stamps, now)
		res.Allowed = true
	}
	if len(stamps) > 0 {
		res.ResetAt = stamps[0].Add(window)
		s.windows[key] = stamps
	} else {
		delete(s.windows, key)
	}
	res.Remaining = max(limit-len(stamps), 0)
	return res, nil
}

// prune drops timestamps at or before cutoff.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
