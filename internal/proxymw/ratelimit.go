package proxymw

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/telemetry"
)

type rateLimitShard struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	minutes map[string]*minuteCounter
}

type minuteCounter struct {
	minute int64
	count  int
}

// RateLimiter enforces a token bucket plus a coarse per-minute counter,
// both keyed by API key ID (spec §4.F.6). The minute counter is checked
// first: an entry is admitted only if the minute count is strictly less
// than rpm *and* the bucket has at least one token (spec §9 resolved
// ambiguity: preserve "minute first then bucket" ordering).
type RateLimiter struct {
	shards [shardCount]*rateLimitShard
}

func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{}
	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{
			buckets: make(map[string]*rate.Limiter),
			minutes: make(map[string]*minuteCounter),
		}
	}
	return rl
}

func (rl *RateLimiter) shardFor(key string) *rateLimitShard {
	return rl.shards[fnv32(key)%shardCount]
}

// Allow checks and, on success, increments both counters for apiKeyID
// under the given policy.
func (rl *RateLimiter) Allow(apiKeyID string, policy domain.RateLimitPolicy) bool {
	shard := rl.shardFor(apiKeyID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	nowMinute := time.Now().Unix() / 60
	mc, ok := shard.minutes[apiKeyID]
	if !ok || mc.minute != nowMinute {
		mc = &minuteCounter{minute: nowMinute}
		shard.minutes[apiKeyID] = mc
	}
	if mc.count >= policy.RPM {
		return false
	}

	limiter, ok := shard.buckets[apiKeyID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(policy.RPM)/60.0), policy.Burst)
		shard.buckets[apiKeyID] = limiter
	} else if limit := rate.Limit(float64(policy.RPM) / 60.0); limiter.Limit() != limit || limiter.Burst() != policy.Burst {
		limiter.SetLimit(limit)
		limiter.SetBurst(policy.Burst)
	}
	if !limiter.Allow() {
		return false
	}

	mc.count++
	return true
}

type apiKeyIDKeyType struct{}

var apiKeyIDKey apiKeyIDKeyType

// APIKeyIDFromContext returns the authenticated API key ID, set by the
// auth middleware.
func APIKeyIDFromContext(r *http.Request) string {
	id, _ := r.Context().Value(apiKeyIDKey).(string)
	return id
}

// Middleware returns 429 when the per-key limits are exceeded (spec §4.F
// stage 6). policyFn is read on every request so policy changes apply
// immediately.
func (rl *RateLimiter) Middleware(policyFn func() domain.RateLimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := APIKeyIDFromContext(r)
			if keyID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(keyID, policyFn()) {
				telemetry.RequestsTotal.WithLabelValues("rate_limited").Inc()
				respondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
