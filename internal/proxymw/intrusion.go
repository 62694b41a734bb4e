package proxymw

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flm-project/flm-gateway/internal/store"
	"github.com/flm-project/flm-gateway/internal/telemetry"
)

const (
	thresholdOneHour    = 100
	thresholdOneDay     = 200
	weightSQLIndicator  = 20
	weightTraversal     = 20
	weightToolSignature = 20
	weightEmptyUA       = 10
	weightRareMethod    = 10
)

var (
	sqlIndicatorChars = []string{"'", ";", "--", "/*", "*/"}
	toolSignatureRe   = regexp.MustCompile(`(?i)sqlmap|nikto|nmap|masscan`)
	rareMethods       = map[string]struct{}{"TRACE": {}, "OPTIONS": {}}
)

type intrusionShard struct {
	mu     sync.Mutex
	scores map[string]int
}

// intrusionStore is the persistence surface IntrusionScorer needs,
// narrowed from *store.SecurityStore so tests can supply a fake.
type intrusionStore interface {
	LoadIntrusionScores(ctx context.Context) (map[string]int, error)
	SetIntrusionScore(ctx context.Context, ip string, score int, at time.Time) error
}

// IntrusionScorer inspects each admitted request for indicator patterns,
// maintaining a rolling per-IP score that feeds into the Blocklist on
// crossing a threshold (spec §4.F.7).
type IntrusionScorer struct {
	shards    [shardCount]*intrusionShard
	store     intrusionStore
	blocklist *Blocklist
	logger    *slog.Logger
}

func NewIntrusionScorer(st *store.SecurityStore, bl *Blocklist, logger *slog.Logger) *IntrusionScorer {
	s := &IntrusionScorer{store: st, blocklist: bl, logger: logger}
	for i := range s.shards {
		s.shards[i] = &intrusionShard{scores: make(map[string]int)}
	}
	return s
}

func (s *IntrusionScorer) shardFor(ip string) *intrusionShard {
	return s.shards[fnv32(ip)%shardCount]
}

// Warm rehydrates per-IP scores from security.db.
func (s *IntrusionScorer) Warm(ctx context.Context) error {
	scores, err := s.store.LoadIntrusionScores(ctx)
	if err != nil {
		return err
	}
	for ip, score := range scores {
		shard := s.shardFor(ip)
		shard.mu.Lock()
		shard.scores[ip] = score
		shard.mu.Unlock()
	}
	return nil
}

// indicatorWeight sums the fixed weights (10-20) for every indicator
// present in the request (spec §4.F.7).
func indicatorWeight(r *http.Request) int {
	weight := 0

	haystack := r.URL.Path + " " + r.URL.RawQuery
	for _, c := range sqlIndicatorChars {
		if strings.Contains(haystack, c) {
			weight += weightSQLIndicator
			break
		}
	}
	if strings.Contains(r.URL.Path, "../") {
		weight += weightTraversal
	}
	if toolSignatureRe.MatchString(r.Header.Get("User-Agent")) {
		weight += weightToolSignature
	}
	if r.Header.Get("User-Agent") == "" {
		weight += weightEmptyUA
	}
	if _, ok := rareMethods[r.Method]; ok {
		weight += weightRareMethod
	}
	return weight
}

// Record scores the request and, if the IP's rolling score crosses a
// threshold, bans it. Admission always continues regardless of score
// (spec §4.F.7: "the score is evaluated at the blocklist stage of the
// next request").
func (s *IntrusionScorer) Record(ctx context.Context, ip string, r *http.Request) {
	weight := indicatorWeight(r)
	if weight == 0 {
		return
	}

	shard := s.shardFor(ip)
	shard.mu.Lock()
	shard.scores[ip] += weight
	score := shard.scores[ip]
	shard.mu.Unlock()

	if err := s.store.SetIntrusionScore(ctx, ip, score, time.Now().UTC()); err != nil {
		s.logger.Error("persisting intrusion score", "ip", ip, "error", err)
	}
	telemetry.AnomaliesDetectedTotal.WithLabelValues("indicator").Inc()

	switch {
	case score >= thresholdOneDay:
		telemetry.IntrusionsDetectedTotal.Inc()
		s.blocklist.Ban(ctx, ip, "intrusion score threshold (24h)", 24*time.Hour)
	case score >= thresholdOneHour:
		telemetry.IntrusionsDetectedTotal.Inc()
		s.blocklist.Ban(ctx, ip, "intrusion score threshold (1h)", time.Hour)
	}
}

// Middleware scores every request after it completes, non-blockingly.
func (s *IntrusionScorer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		ip := ClientIPFromContext(r.Context())
		if ip != "" {
			s.Record(r.Context(), ip, r)
		}
	})
}
