// Package proxymw implements the gateway's admission middleware chain:
// client IP extraction, blocklist, resource pressure, IP whitelist,
// auth, rate limiting and intrusion scoring (spec §4.F).
package proxymw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIPFromContext returns the IP set by ClientIP, or "" if absent.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ClientIP extracts the request's client IP and stores it on the request
// context for downstream middleware. X-Forwarded-For/X-Real-IP are only
// trusted when the immediate peer (RemoteAddr) is in trustedProxies;
// otherwise RemoteAddr itself is used, regardless of what headers claim
// (spec invariant 1, testable property 8).
func ClientIP(trustedProxies []string) func(http.Handler) http.Handler {
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, p := range trustedProxies {
		trusted[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r, trusted)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractClientIP(r *http.Request, trusted map[string]struct{}) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	if _, ok := trusted[peer]; !ok {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return peer
}
