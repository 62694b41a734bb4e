package apikey

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/flm-project/flm-gateway/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	stores, err := store.Open(filepath.Join(dir, "config.db"), filepath.Join(dir, "security.db"))
	if err != nil {
		t.Fatalf("opening stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	svc := NewService(NewStore(stores.Security), slog.Default())
	if err := svc.Warm(context.Background()); err != nil {
		t.Fatalf("warming service: %v", err)
	}
	return svc
}

func TestCreateThenVerifyRoundTrips(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Label: "ci"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.RawKey == "" {
		t.Fatalf("expected a raw key in the create response")
	}

	rec, ok := svc.Verify(created.RawKey)
	if !ok {
		t.Fatalf("expected the freshly created key to verify")
	}
	if rec.ID != created.ID {
		t.Fatalf("verified record id = %q, want %q", rec.ID, created.ID)
	}

	if _, ok := svc.Verify("flm_not-a-real-key"); ok {
		t.Fatalf("expected an unrelated raw key to fail verification")
	}
}

func TestRevokedKeyNoLongerVerifies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Label: "ci"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, ok := svc.Verify(created.RawKey); ok {
		t.Fatalf("expected a revoked key to no longer verify")
	}

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var found bool
	for _, it := range items {
		if it.ID == created.ID {
			found = true
			if it.RevokedAt == nil {
				t.Fatalf("expected revoked_at to be set in the listing")
			}
		}
	}
	if !found {
		t.Fatalf("expected the revoked key to still appear in List")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Label: "ci"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("second Revoke on an already-revoked key should be a no-op, got: %v", err)
	}
}

func TestRotateIssuesNewKeyAndRevokesOld(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	original, err := svc.Create(ctx, CreateRequest{Label: "ci"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rotated, err := svc.Rotate(ctx, original.ID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID == original.ID {
		t.Fatalf("expected rotation to mint a new id, got the same id back")
	}
	if rotated.RawKey == original.RawKey {
		t.Fatalf("expected a distinct raw key after rotation")
	}

	if _, ok := svc.Verify(original.RawKey); ok {
		t.Fatalf("expected the pre-rotation raw key to stop verifying")
	}
	if _, ok := svc.Verify(rotated.RawKey); !ok {
		t.Fatalf("expected the rotated raw key to verify")
	}

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	activeUnderLabel := 0
	for _, it := range items {
		if it.Label == "ci" && it.RevokedAt == nil {
			activeUnderLabel++
		}
	}
	if activeUnderLabel != 1 {
		t.Fatalf("expected exactly one active key under the rotated label, got %d", activeUnderLabel)
	}
}

func TestRotateRevokedKeyFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{Label: "ci"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := svc.Rotate(ctx, created.ID); err == nil {
		t.Fatalf("expected rotating a revoked key to fail")
	}
}
