package tlsmanager

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHTTP01StoreSetGetDelete(t *testing.T) {
	s := NewHTTP01Store()

	if _, ok := s.Get("tok"); ok {
		t.Fatalf("expected no entry before Set")
	}

	s.Set("tok", "key-auth-value")
	v, ok := s.Get("tok")
	if !ok || v != "key-auth-value" {
		t.Fatalf("Get after Set = %q, %v, want key-auth-value, true", v, ok)
	}

	s.Delete("tok")
	if _, ok := s.Get("tok"); ok {
		t.Fatalf("expected entry to be gone after Delete")
	}
}

func TestHTTP01StoreHandlerServesKnownToken(t *testing.T) {
	s := NewHTTP01Store()
	s.Set("abc123", "abc123.thumbprint")

	r := chi.NewRouter()
	r.Get("/.well-known/acme-challenge/{token}", s.Handler())

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/abc123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "abc123.thumbprint" {
		t.Fatalf("body = %q, want key authorization", rec.Body.String())
	}
}

func TestHTTP01StoreHandlerReturnsNotFoundForUnknownToken(t *testing.T) {
	s := NewHTTP01Store()

	r := chi.NewRouter()
	r.Get("/.well-known/acme-challenge/{token}", s.Handler())

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
