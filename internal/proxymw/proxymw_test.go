package proxymw

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/store"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBlocklistStore struct {
	entries []store.BlocklistEntry
}

func (f *fakeBlocklistStore) LoadBlocklist(ctx context.Context, now time.Time) ([]store.BlocklistEntry, error) {
	return f.entries, nil
}

func (f *fakeBlocklistStore) UpsertBlocklistEntry(ctx context.Context, e store.BlocklistEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func newTestBlocklist() *Blocklist {
	b := &Blocklist{
		store:     &fakeBlocklistStore{},
		logger:    newDiscardLogger(),
		failCount: make(map[string]int),
		failSeen:  make(map[string]time.Time),
	}
	for i := range b.shards {
		b.shards[i] = &blocklistShard{entries: make(map[string]time.Time)}
	}
	return b
}

func TestExtractClientIPTrustsOnlyTrustedPeer(t *testing.T) {
	trusted := map[string]struct{}{"10.0.0.1": {}}

	untrusted := httptest.NewRequest(http.MethodGet, "/", nil)
	untrusted.RemoteAddr = "203.0.113.9:1234"
	untrusted.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := extractClientIP(untrusted, trusted); got != "203.0.113.9" {
		t.Fatalf("expected untrusted peer's XFF to be ignored, got %q", got)
	}

	trustedReq := httptest.NewRequest(http.MethodGet, "/", nil)
	trustedReq.RemoteAddr = "10.0.0.1:1234"
	trustedReq.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	if got := extractClientIP(trustedReq, trusted); got != "1.2.3.4" {
		t.Fatalf("expected trusted peer's XFF first entry, got %q", got)
	}
}

func TestRateLimiterMinuteCounterBlocksBeforeBucketExhausts(t *testing.T) {
	rl := NewRateLimiter()
	policy := domain.RateLimitPolicy{RPM: 2, Burst: 100}

	if !rl.Allow("key-1", policy) {
		t.Fatalf("expected first request admitted")
	}
	if !rl.Allow("key-1", policy) {
		t.Fatalf("expected second request admitted")
	}
	if rl.Allow("key-1", policy) {
		t.Fatalf("expected third request within the same minute to be denied by the minute counter")
	}
}

func TestRateLimiterBucketDeniesBurst(t *testing.T) {
	rl := NewRateLimiter()
	policy := domain.RateLimitPolicy{RPM: 10000, Burst: 1}

	if !rl.Allow("key-2", policy) {
		t.Fatalf("expected first request admitted")
	}
	if rl.Allow("key-2", policy) {
		t.Fatalf("expected second immediate request to be denied by the token bucket")
	}
}

func TestIndicatorWeightDetectsSQLAndTraversal(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/models?id=1%27--", nil)
	r.Header.Set("User-Agent", "curl/8.0")
	if w := indicatorWeight(r); w < weightSQLIndicator {
		t.Fatalf("expected sql indicator weight, got %d", w)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/../etc/passwd", nil)
	r2.Header.Set("User-Agent", "curl/8.0")
	if w := indicatorWeight(r2); w < weightTraversal {
		t.Fatalf("expected traversal weight, got %d", w)
	}

	r3 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	if w := indicatorWeight(r3); w < weightEmptyUA {
		t.Fatalf("expected empty user-agent weight, got %d", w)
	}
}

func TestBlocklistBansAfterFiveConsecutiveFailures(t *testing.T) {
	bl := newTestBlocklist()

	var bannedCount int
	bl.notify = func(ip, reason string, d time.Duration) { bannedCount++ }

	ip := "198.51.100.7"
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		bl.RecordAuthFailure(ctx, ip)
	}
	if bannedCount != 0 {
		t.Fatalf("expected no ban before the fifth failure, got %d bans", bannedCount)
	}
	if bl.Blocked(ip) {
		t.Fatalf("expected ip not yet blocked")
	}

	bl.RecordAuthFailure(ctx, ip)
	if bannedCount != 1 {
		t.Fatalf("expected exactly one ban after the fifth failure, got %d", bannedCount)
	}
	if !bl.Blocked(ip) {
		t.Fatalf("expected ip to be blocked after five consecutive failures")
	}
}

func TestBlocklistRecordAuthSuccessResetsCounter(t *testing.T) {
	bl := newTestBlocklist()
	ctx := context.Background()
	ip := "198.51.100.8"

	for i := 0; i < 4; i++ {
		bl.RecordAuthFailure(ctx, ip)
	}
	bl.RecordAuthSuccess(ip)

	var banned bool
	bl.notify = func(ip, reason string, d time.Duration) { banned = true }
	for i := 0; i < 4; i++ {
		bl.RecordAuthFailure(ctx, ip)
	}
	if banned {
		t.Fatalf("expected counter reset by RecordAuthSuccess to prevent a ban after only 4 more failures")
	}
}

type fakeIntrusionStore struct {
	scores map[string]int
}

func (f *fakeIntrusionStore) LoadIntrusionScores(ctx context.Context) (map[string]int, error) {
	return f.scores, nil
}

func (f *fakeIntrusionStore) SetIntrusionScore(ctx context.Context, ip string, score int, at time.Time) error {
	if f.scores == nil {
		f.scores = make(map[string]int)
	}
	f.scores[ip] = score
	return nil
}

func TestIntrusionScorerBansAtThresholds(t *testing.T) {
	bl := newTestBlocklist()
	scorer := &IntrusionScorer{store: &fakeIntrusionStore{}, blocklist: bl, logger: newDiscardLogger()}
	for i := range scorer.shards {
		scorer.shards[i] = &intrusionShard{scores: make(map[string]int)}
	}

	var bannedReasons []string
	bl.notify = func(ip, reason string, d time.Duration) { bannedReasons = append(bannedReasons, reason) }

	ip := "203.0.113.50"
	r := httptest.NewRequest(http.MethodTrace, "/v1/models?x='--", nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		scorer.Record(ctx, ip, r)
	}

	if !bl.Blocked(ip) {
		t.Fatalf("expected ip blocked after accumulating enough weight")
	}
	if len(bannedReasons) == 0 {
		t.Fatalf("expected at least one ban notification")
	}
}
