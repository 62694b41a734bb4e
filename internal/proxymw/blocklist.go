package proxymw

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flm-project/flm-gateway/internal/store"
	"github.com/flm-project/flm-gateway/internal/telemetry"
)

const failedAuthBanWindow = 5 * time.Minute

// shardCount is the number of lock shards for per-IP state (spec §5:
// "sharded maps with per-shard mutexes").
const shardCount = 16

type blocklistShard struct {
	mu      sync.RWMutex
	entries map[string]time.Time // ip -> expiry
}

// blocklistStore is the persistence surface Blocklist needs, narrowed
// from *store.SecurityStore so tests can supply an in-memory fake.
type blocklistStore interface {
	LoadBlocklist(ctx context.Context, now time.Time) ([]store.BlocklistEntry, error)
	UpsertBlocklistEntry(ctx context.Context, e store.BlocklistEntry) error
}

// Blocklist is the in-memory IP ban list, synced to security.db on every
// change (spec §9 Open Question: sync-on-change, not a fixed timer).
type Blocklist struct {
	shards [shardCount]*blocklistShard
	store  blocklistStore
	logger *slog.Logger
	notify func(ip, reason string, duration time.Duration)

	failMu    sync.Mutex
	failCount map[string]int
	failSeen  map[string]time.Time
}

func NewBlocklist(st *store.SecurityStore, logger *slog.Logger) *Blocklist {
	b := &Blocklist{
		store:     st,
		logger:    logger,
		failCount: make(map[string]int),
		failSeen:  make(map[string]time.Time),
	}
	for i := range b.shards {
		b.shards[i] = &blocklistShard{entries: make(map[string]time.Time)}
	}
	return b
}

// SetNotifier registers an optional callback invoked whenever an IP is
// newly banned (used for Slack notification, spec §9 operator alerting).
func (b *Blocklist) SetNotifier(fn func(ip, reason string, duration time.Duration)) { b.notify = fn }

func (b *Blocklist) shardFor(ip string) *blocklistShard {
	h := fnv32(ip)
	return b.shards[h%shardCount]
}

// Warm rehydrates the blocklist from security.db before the listener
// binds (spec invariant 7).
func (b *Blocklist) Warm(ctx context.Context) error {
	entries, err := b.store.LoadBlocklist(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, e := range entries {
		b.shardFor(e.IP).set(e.IP, e.ExpiresAt)
	}
	return nil
}

// Blocked reports whether ip is currently banned.
func (b *Blocklist) Blocked(ip string) bool {
	shard := b.shardFor(ip)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	expiry, ok := shard.entries[ip]
	if !ok {
		return false
	}
	return time.Now().Before(expiry)
}

// Ban adds or extends a ban for ip, persists it, and fires the notifier.
func (b *Blocklist) Ban(ctx context.Context, ip, reason string, duration time.Duration) {
	expiry := time.Now().Add(duration)
	b.shardFor(ip).set(ip, expiry)

	err := b.store.UpsertBlocklistEntry(ctx, store.BlocklistEntry{
		IP: ip, Reason: reason, ExpiresAt: expiry, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("persisting blocklist entry", "ip", ip, "error", err)
	}
	if b.notify != nil {
		b.notify(ip, reason, duration)
	}
}

func (s *blocklistShard) set(ip string, expiry time.Time) {
	s.mu.Lock()
	s.entries[ip] = expiry
	s.mu.Unlock()
}

// RecordAuthFailure tracks consecutive 401s from ip within a short window;
// the fifth failure triggers a 24h ban (spec §4.F.5).
func (b *Blocklist) RecordAuthFailure(ctx context.Context, ip string) {
	b.failMu.Lock()
	now := time.Now()
	if last, ok := b.failSeen[ip]; !ok || now.Sub(last) > failedAuthBanWindow {
		b.failCount[ip] = 0
	}
	b.failCount[ip]++
	b.failSeen[ip] = now
	count := b.failCount[ip]
	if count >= 5 {
		delete(b.failCount, ip)
		delete(b.failSeen, ip)
	}
	b.failMu.Unlock()

	if count >= 5 {
		b.Ban(ctx, ip, "five consecutive authentication failures", 24*time.Hour)
	}
}

// RecordAuthSuccess clears an IP's consecutive-failure counter.
func (b *Blocklist) RecordAuthSuccess(ip string) {
	b.failMu.Lock()
	delete(b.failCount, ip)
	delete(b.failSeen, ip)
	b.failMu.Unlock()
}

func fnv32(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// Middleware returns 403 for banned IPs (spec §4.F stage 2).
func (b *Blocklist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromContext(r.Context())
		if b.Blocked(ip) {
			telemetry.RequestsTotal.WithLabelValues("blocked").Inc()
			respondError(w, http.StatusForbidden, "blocked", "client ip is blocked")
			return
		}
		next.ServeHTTP(w, r)
	})
}
