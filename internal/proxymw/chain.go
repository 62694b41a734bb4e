package proxymw

import (
	"github.com/go-chi/chi/v5"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// Chain is every admission-stage dependency, assembled by the daemon at
// startup and mounted once on the proxy route group.
type Chain struct {
	TrustedProxyIPs []string
	Blocklist       *Blocklist
	ResourceGuard   *ResourceGuard
	PolicyDoc       func() domain.SecurityPolicyDoc
	Auth            *Authenticator
	RateLimiter     *RateLimiter
	Intrusion       *IntrusionScorer
}

// Mount applies the admission chain to r in spec order: client IP,
// blocklist, resource protection, IP whitelist, auth, rate limit,
// intrusion scoring (spec §4.F).
func (c *Chain) Mount(r chi.Router) {
	r.Use(ClientIP(c.TrustedProxyIPs))
	r.Use(c.Blocklist.Middleware)
	r.Use(c.ResourceGuard.Middleware)
	r.Use(IPWhitelist(c.PolicyDoc))
	r.Use(c.Auth.Middleware)
	r.Use(c.RateLimiter.Middleware(rateLimitPolicyOf(c.PolicyDoc)))
	r.Use(c.Intrusion.Middleware)
}

func rateLimitPolicyOf(policyFn func() domain.SecurityPolicyDoc) func() domain.RateLimitPolicy {
	return func() domain.RateLimitPolicy { return policyFn().RateLimit }
}
