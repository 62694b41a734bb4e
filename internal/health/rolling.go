// Package health maintains the per-engine rolling health window described
// in spec §4.I: a bounded deque of recent probe samples, the derived
// latency/error-rate the dashboard and detection logic read, and the
// persisted append-only log backing it.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/store"
	"github.com/flm-project/flm-gateway/internal/telemetry"
)

// windowSize bounds how many samples each engine's in-memory deque keeps;
// older samples remain in engine_health_log but stop affecting error_rate.
const windowSize = 50

// Window is one engine's bounded, append-only-in-spirit sample history.
type Window struct {
	mu      sync.Mutex
	samples []domain.EngineHealthSample
}

func newWindow() *Window {
	return &Window{samples: make([]domain.EngineHealthSample, 0, windowSize)}
}

func (w *Window) push(s domain.EngineHealthSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	if len(w.samples) > windowSize {
		w.samples = w.samples[len(w.samples)-windowSize:]
	}
}

// Snapshot returns the derived latency_ms (most recent sample) and
// error_rate (fraction of failed samples in the window), per spec §4.I.
func (w *Window) Snapshot() (latencyMS int64, errorRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, 0
	}
	latencyMS = w.samples[len(w.samples)-1].LatencyMS
	var failed int
	for _, s := range w.samples {
		if s.Failed {
			failed++
		}
	}
	return latencyMS, float64(failed) / float64(len(w.samples))
}

// Tracker fans out engine health samples into in-memory rolling windows and
// the persisted engine_health_log table.
type Tracker struct {
	store *store.ConfigStore

	mu      sync.RWMutex
	windows map[string]*Window
}

func NewTracker(cs *store.ConfigStore) *Tracker {
	return &Tracker{store: cs, windows: make(map[string]*Window)}
}

// Warm loads the persisted tail of each engine's health log into its
// in-memory window, so error_rate survives a restart.
func (t *Tracker) Warm(ctx context.Context, engineIDs []string) error {
	for _, id := range engineIDs {
		recent, err := t.store.RecentHealthLog(ctx, id, windowSize)
		if err != nil {
			return err
		}
		w := newWindow()
		for i := len(recent) - 1; i >= 0; i-- {
			w.samples = append(w.samples, recent[i])
		}
		t.mu.Lock()
		t.windows[id] = w
		t.mu.Unlock()
	}
	return nil
}

// Record appends one sample for engineID, both in-memory and to
// engine_health_log (spec §4.I: "appended on every health check").
func (t *Tracker) Record(ctx context.Context, engineID, engineKind string, status domain.EngineStatus) error {
	sample := domain.EngineHealthSample{
		LatencyMS: status.LatencyMS,
		Failed:    status.Kind == domain.StatusErrorNetwork || status.Kind == domain.StatusErrorAPI,
		At:        time.Now().UTC(),
	}

	t.mu.Lock()
	w, ok := t.windows[engineID]
	if !ok {
		w = newWindow()
		t.windows[engineID] = w
	}
	t.mu.Unlock()
	w.push(sample)

	telemetry.EngineHealthLatency.WithLabelValues(engineID, engineKind).Observe(float64(sample.LatencyMS) / 1000.0)

	return t.store.AppendHealthLog(ctx, engineID, sample)
}

// Snapshot returns the derived latency/error-rate for engineID, or zeros if
// nothing has been recorded yet.
func (t *Tracker) Snapshot(engineID string) (latencyMS int64, errorRate float64) {
	t.mu.RLock()
	w, ok := t.windows[engineID]
	t.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return w.Snapshot()
}
