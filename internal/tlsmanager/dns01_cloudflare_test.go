package tlsmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/flm-project/flm-gateway/internal/config"
	"github.com/flm-project/flm-gateway/internal/keyring"
	"github.com/flm-project/flm-gateway/internal/security"
	"github.com/flm-project/flm-gateway/internal/store"
)

func newTestCloudflareDNS(t *testing.T, handler http.HandlerFunc) (*CloudflareDNS, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	stores, err := store.Open(filepath.Join(dir, "config.db"), filepath.Join(dir, "security.db"))
	if err != nil {
		t.Fatalf("opening stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	ks, err := keyring.New(&config.Config{DisableKeyring: true})
	if err != nil {
		t.Fatalf("opening keyring: %v", err)
	}

	creds := security.NewDnsCredentialService(store.NewSecurityStore(stores.Security), ks)
	profile, err := creds.Create(context.Background(), "cloudflare", "test", "zone-1", "example.com", "super-secret-token")
	if err != nil {
		t.Fatalf("creating dns credential: %v", err)
	}

	dns := NewCloudflareDNS(creds, profile.ID, profile.ZoneID)
	dns.baseURL = srv.URL
	return dns, srv
}

func TestCloudflareDNSPresentDeletesStaleThenCreates(t *testing.T) {
	var deleted, created bool
	dns, _ := newTestCloudflareDNS(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(cfAPIResponse{
				Success: true,
				Result:  mustMarshal(t, []cfDNSRecord{{ID: "rec-1", Type: "TXT", Name: "_acme-challenge.example.com", Content: "stale-value"}}),
			})
		case r.Method == http.MethodDelete:
			deleted = true
			_ = json.NewEncoder(w).Encode(cfAPIResponse{Success: true})
		case r.Method == http.MethodPost:
			created = true
			_ = json.NewEncoder(w).Encode(cfAPIResponse{Success: true})
		}
	})

	if err := dns.Present(context.Background(), "_acme-challenge.example.com.", "stale-value"); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if !deleted {
		t.Fatalf("expected the stale record with the matching value to be deleted")
	}
	if !created {
		t.Fatalf("expected a fresh record to be created")
	}
}

func TestCloudflareDNSCleanUpDeletesAllMatching(t *testing.T) {
	deletedCount := 0
	dns, _ := newTestCloudflareDNS(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(cfAPIResponse{
				Success: true,
				Result: mustMarshal(t, []cfDNSRecord{
					{ID: "rec-1", Type: "TXT", Name: "_acme-challenge.example.com"},
					{ID: "rec-2", Type: "TXT", Name: "_acme-challenge.example.com"},
				}),
			})
		case http.MethodDelete:
			deletedCount++
			_ = json.NewEncoder(w).Encode(cfAPIResponse{Success: true})
		}
	})

	if err := dns.CleanUp(context.Background(), "_acme-challenge.example.com."); err != nil {
		t.Fatalf("CleanUp: %v", err)
	}
	if deletedCount != 2 {
		t.Fatalf("expected both matching TXT records deleted, got %d deletes", deletedCount)
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshalling fixture: %v", err)
	}
	return b
}
