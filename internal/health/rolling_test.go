package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	dir := t.TempDir()
	stores, err := store.Open(filepath.Join(dir, "config.db"), filepath.Join(dir, "security.db"))
	if err != nil {
		t.Fatalf("opening stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return NewTracker(store.NewConfigStore(stores.Config))
}

func TestSnapshotReflectsLatestLatencyAndErrorRate(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Record(ctx, "ollama-1", "ollama", domain.RunningHealthy(10)); err != nil {
		t.Fatalf("recording sample: %v", err)
	}
	if err := tr.Record(ctx, "ollama-1", "ollama", domain.ErrorAPI("timeout")); err != nil {
		t.Fatalf("recording sample: %v", err)
	}
	if err := tr.Record(ctx, "ollama-1", "ollama", domain.RunningHealthy(20)); err != nil {
		t.Fatalf("recording sample: %v", err)
	}

	latency, errRate := tr.Snapshot("ollama-1")
	if latency != 20 {
		t.Fatalf("expected latest latency 20, got %d", latency)
	}
	want := 1.0 / 3.0
	if errRate != want {
		t.Fatalf("expected error rate %f, got %f", want, errRate)
	}
}

func TestSnapshotUnknownEngineIsZero(t *testing.T) {
	tr := newTestTracker(t)
	latency, errRate := tr.Snapshot("never-seen")
	if latency != 0 || errRate != 0 {
		t.Fatalf("expected zero values for unknown engine, got %d %f", latency, errRate)
	}
}

func TestWarmRehydratesWindowFromPersistedLog(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Record(ctx, "ollama-1", "ollama", domain.ErrorAPI("boom")); err != nil {
		t.Fatalf("recording sample: %v", err)
	}

	tr2 := NewTracker(tr.store)
	if err := tr2.Warm(ctx, []string{"ollama-1"}); err != nil {
		t.Fatalf("warming: %v", err)
	}
	_, errRate := tr2.Snapshot("ollama-1")
	if errRate != 1 {
		t.Fatalf("expected warmed window to reflect the persisted failed sample, got error rate %f", errRate)
	}
}
