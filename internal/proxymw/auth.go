package proxymw

import (
	"context"
	"net/http"
	"strings"

	"github.com/flm-project/flm-gateway/internal/telemetry"
	"github.com/flm-project/flm-gateway/pkg/apikey"
)

// Authenticator verifies bearer tokens against the API key service and
// feeds consecutive-failure tracking into the Blocklist (spec §4.F
// stage 5).
type Authenticator struct {
	keys      *apikey.Service
	blocklist *Blocklist
}

func NewAuthenticator(keys *apikey.Service, bl *Blocklist) *Authenticator {
	return &Authenticator{keys: keys, blocklist: bl}
}

// Middleware requires a valid, non-revoked Bearer token, storing the
// authenticated key's ID on the request context for downstream stages
// (rate limiting keys on api_key_id, not IP).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromContext(r.Context())
		token, ok := bearerToken(r)
		if !ok {
			a.fail(r.Context(), w, ip)
			return
		}

		rec, ok := a.keys.Verify(token)
		if !ok {
			a.fail(r.Context(), w, ip)
			return
		}

		a.blocklist.RecordAuthSuccess(ip)
		telemetry.AuthAttemptsTotal.WithLabelValues("success").Inc()

		ctx := context.WithValue(r.Context(), apiKeyIDKey, rec.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) fail(ctx context.Context, w http.ResponseWriter, ip string) {
	telemetry.AuthAttemptsTotal.WithLabelValues("failure").Inc()
	telemetry.RequestsTotal.WithLabelValues("failed").Inc()
	if ip != "" {
		a.blocklist.RecordAuthFailure(ctx, ip)
	}
	respondError(w, http.StatusUnauthorized, "unauthorized", "missing, invalid or revoked api key")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
