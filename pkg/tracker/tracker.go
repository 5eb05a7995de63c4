package tracker

import (
	"sync"
	"sync/atomic"
)

// Well-known provider names.
const (
	ProviderPosition = "position"
	ProviderOverlays = "overlays"
)

// Tracker tracks usage statistics per provider.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	Requests   int64 `json:"requests"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	Superseded int64 `json:"superseded"`
	Added      int64 `json:"added"`
	Removed    int64 `json:"removed"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackRequest increments the request counter.
func (t *Tracker) TrackRequest(provider string) {
	atomic.AddInt64(&t.getStats(provider).Requests, 1)
}

func (t *Tracker) TrackSuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).Successes, 1)
}

func (t *Tracker) TrackFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).Failures, 1)
}

// TrackSuperseded counts a resolution that arrived after a newer request was issued.
func (t *Tracker) TrackSuperseded(provider string) {
	atomic.AddInt64(&t.getStats(provider).Superseded, 1)
}

func (t *Tracker) TrackAdded(provider string, n int) {
	atomic.AddInt64(&t.getStats(provider).Added, int64(n))
}

func (t *Tracker) TrackRemoved(provider string, n int) {
	atomic.AddInt64(&t.getStats(provider).Removed, int64(n))
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats)
	for k, v := range t.stats {
		result[k] = ProviderStats{
			Requests:   atomic.LoadInt64(&v.Requests),
			Successes:  atomic.LoadInt64(&v.Successes),
			Failures:   atomic.LoadInt64(&v.Failures),
			Superseded: atomic.LoadInt64(&v.Superseded),
			Added:      atomic.LoadInt64(&v.Added),
			Removed:    atomic.LoadInt64(&v.Removed),
		}
	}
	return result
}

// Reset zeroes all counters but keeps known providers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.stats {
		t.stats[k] = &ProviderStats{}
	}
}
