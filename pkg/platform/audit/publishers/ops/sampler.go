package ops

import (
	"math/rand/v2"
	"sync"
)

// Sampler keeps a configurable fraction of rejection events, keyed by
// rejection reason. Noisy reasons such as OUTSIDE_HOURS can be thinned
// without losing the rarer ones.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByReason map[string]float64
	roll         func() float64
}

// NewSampler creates a sampler; rates are clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByReason: make(map[string]float64),
		roll:         rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
}

// Keep reports whether an event with the given reason should be kept.
func (s *Sampler) Keep(reason string) bool {
	rate := s.rateFor(reason)
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.roll() < rate
}

// SetRate overrides the rate for one reason.
func (s *Sampler) SetRate(reason string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByReason[reason] = clampRate(rate)
}

func (s *Sampler) rateFor(reason string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByReason[reason]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	return max(0, min(1, rate))
}
