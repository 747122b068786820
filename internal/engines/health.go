package engines

import (
	"sync"
	"time"
)

// HealthTracker keeps a rolling window of per-engine outcomes. It is an
// advisory signal for smart rotation, not a correctness mechanism; counters
// are process-local and reset on restart.
type HealthTracker struct {
	mu          sync.Mutex
	window      time.Duration
	threshold   float64
	minAttempts int
	events      map[string][]healthEvent
}

type healthEvent struct {
	at      time.Time
	success bool
}

func NewHealthTracker(window time.Duration, threshold float64, minAttempts int) *HealthTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	if minAttempts <= 0 {
		minAttempts = 3
	}
	return &HealthTracker{
		window:      window,
		threshold:   threshold,
		minAttempts: minAttempts,
		events:      map[string][]healthEvent{},
	}
}

func (h *HealthTracker) Record(engine string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	evs := h.prune(engine, now)
	h.events[engine] = append(evs, healthEvent{at: now, success: success})
}

// Unhealthy reports whether the engine's rolling failure rate crossed the
// threshold with enough samples to trust it.
func (h *HealthTracker) Unhealthy(engine string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	evs := h.prune(engine, time.Now())
	h.events[engine] = evs
	if len(evs) < h.minAttempts {
		return false
	}
	failures := 0
	for _, ev := range evs {
		if !ev.success {
			failures++
		}
	}
	return float64(failures)/float64(len(evs)) >= h.threshold
}

func (h *HealthTracker) prune(engine string, now time.Time) []healthEvent {
	evs := h.events[engine]
	cutoff := now.Add(-h.window)
	kept := evs[:0]
	for _, ev := range evs {
		if ev.at.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}
