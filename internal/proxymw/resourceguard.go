package proxymw

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/flm-project/flm-gateway/internal/telemetry"
)

const (
	sampleInterval    = 5 * time.Second
	pressureLimit     = 90.0
	retryAfterSeconds = "5"
)

// ResourceGuard samples CPU and memory usage on a fixed interval and
// rejects new requests while either is over 90% (spec §4.F stage 3).
// Existing streams are unaffected; this only gates admission of new ones.
type ResourceGuard struct {
	logger    *slog.Logger
	underLoad atomic.Bool
}

func NewResourceGuard(logger *slog.Logger) *ResourceGuard {
	return &ResourceGuard{logger: logger}
}

// Run samples resource usage every 5s until ctx is cancelled.
func (g *ResourceGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	g.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *ResourceGuard) sample() {
	cpuPct, err := cpu.Percent(0, false)
	if err != nil {
		g.logger.Warn("sampling cpu usage", "error", err)
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		g.logger.Warn("sampling memory usage", "error", err)
		return
	}

	under := (len(cpuPct) > 0 && cpuPct[0] > pressureLimit) || vm.UsedPercent > pressureLimit
	g.underLoad.Store(under)
}

// UnderPressure reports the most recent sample's verdict.
func (g *ResourceGuard) UnderPressure() bool { return g.underLoad.Load() }

// Middleware rejects new requests with 503 while under resource pressure.
func (g *ResourceGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.UnderPressure() {
			telemetry.RequestsTotal.WithLabelValues("failed").Inc()
			w.Header().Set("Retry-After", retryAfterSeconds)
			respondError(w, http.StatusServiceUnavailable, "resource_pressure", "server under resource pressure, try again shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}
