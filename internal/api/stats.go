package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"geofollow/pkg/tracker"
)

type componentState struct {
	lastCPUNS int64
	lastTime  time.Time
	maxMem    uint64
	maxCPU    float64
}

// SessionCounter reports the number of connected map pages.
type SessionCounter interface {
	Count() int
}

// MarkerCounter reports the size of the marker catalogue.
type MarkerCounter interface {
	CountMarkers(ctx context.Context) (int, error)
}

type StatsHandler struct {
	tracker  *tracker.Tracker
	sessions SessionCounter
	markers  MarkerCounter
	started  time.Time
	mu       sync.Mutex
	states   map[string]*componentState
}

func NewStatsHandler(t *tracker.Tracker, sc SessionCounter, mc MarkerCounter) *StatsHandler {
	return &StatsHandler{
		tracker:  t,
		sessions: sc,
		markers:  mc,
		started:  time.Now(),
		states:   make(map[string]*componentState),
	}
}

type ProviderStatsDTO struct {
	Requests    int64 `json:"requests"`
	Successes   int64 `json:"successes"`
	Failures    int64 `json:"failures"`
	Superseded  int64 `json:"superseded"`
	Added       int64 `json:"added"`
	Removed     int64 `json:"removed"`
	SuccessRate int64 `json:"success_rate"`
}

type ComponentStats struct {
	Name        string  `json:"name"`
	MemoryMB    uint64  `json:"memory_mb"`
	MemoryMaxMB uint64  `json:"memory_max_mb"`
	Goroutines  int     `json:"goroutines"`
	CPUSec      float64 `json:"cpu_sec"`     // Seconds per second
	CPUMaxSec   float64 `json:"cpu_max_sec"` // Peak
}

type TrackingStats struct {
	Sessions int `json:"sessions"`
	Markers  int `json:"markers"`
}

type StatsResponse struct {
	UptimeSec   int64                       `json:"uptime_sec"`
	Diagnostics []ComponentStats            `json:"diagnostics"`
	Tracking    TrackingStats               `json:"tracking"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	// 1. Diagnostics Aggregation
	h.mu.Lock()
	diagnostics := h.gatherDiagnostics()
	h.mu.Unlock()

	// 2. Build Response
	resp := StatsResponse{
		UptimeSec:   int64(time.Since(h.started).Seconds()),
		Diagnostics: diagnostics,
		Providers:   make(map[string]ProviderStatsDTO),
	}
	if h.sessions != nil {
		resp.Tracking.Sessions = h.sessions.Count()
	}
	if h.markers != nil {
		n, err := h.markers.CountMarkers(r.Context())
		if err != nil {
			slog.Warn("Stats: marker count failed", "error", err)
		}
		resp.Tracking.Markers = n
	}

	for provider, stats := range snapshot {
		rate := int64(0)
		if resolved := stats.Successes + stats.Failures; resolved > 0 {
			rate = (stats.Successes * 100) / resolved
		}
		resp.Providers[provider] = ProviderStatsDTO{
			Requests:    stats.Requests,
			Successes:   stats.Successes,
			Failures:    stats.Failures,
			Superseded:  stats.Superseded,
			Added:       stats.Added,
			Removed:     stats.Removed,
			SuccessRate: rate,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// gatherDiagnostics reports the server process. CPU time is approximated by
// GC CPU time since runtime/metrics does not expose process CPU portably.
func (h *StatsHandler) gatherDiagnostics() []ComponentStats {
	now := time.Now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	totalMem := ms.Sys
	totalCPU := int64(ms.GCCPUFraction * float64(now.Sub(h.started).Nanoseconds()))

	const name = "Server"
	state, ok := h.states[name]
	if !ok {
		state = &componentState{lastTime: now, lastCPUNS: totalCPU}
		h.states[name] = state
	}

	cpuSec := 0.0
	if elapsed := now.Sub(state.lastTime).Seconds(); elapsed > 0 {
		cpuSec = float64(totalCPU-state.lastCPUNS) / 1e9 / elapsed
	}
	if cpuSec < 0 {
		cpuSec = 0
	}
	state.lastCPUNS = totalCPU
	state.lastTime = now
	if totalMem > state.maxMem {
		state.maxMem = totalMem
	}
	if cpuSec > state.maxCPU {
		state.maxCPU = cpuSec
	}

	return []ComponentStats{{
		Name:        name,
		MemoryMB:    totalMem / 1024 / 1024,
		MemoryMaxMB: state.maxMem / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
		CPUSec:      cpuSec,
		CPUMaxSec:   state.maxCPU,
	}}
}
