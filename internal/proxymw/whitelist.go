package proxymw

import (
	"net"
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/security"
)

// IPWhitelist returns 403 when the policy's ip_whitelist is non-empty and
// the client IP matches no entry (spec §4.F stage 4).
func IPWhitelist(policyFn func() domain.SecurityPolicyDoc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			doc := policyFn()
			if len(doc.IPWhitelist) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := net.ParseIP(ClientIPFromContext(r.Context()))
			if ip == nil || !security.IPAllowed(doc, ip) {
				respondError(w, http.StatusForbidden, "ip_not_allowed", "client ip is not in the allowed list")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
