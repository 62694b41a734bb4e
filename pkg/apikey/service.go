package apikey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// Service encapsulates API key business logic: creation, listing, rotation
// and revocation, plus an in-memory verification cache refreshed on every
// mutation so the hot auth path never touches security.db.
type Service struct {
	store  *Store
	logger *slog.Logger

	mu     sync.RWMutex
	active []domain.ApiKeyRecord
}

// NewService creates an API key Service backed by the security database.
func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Warm loads the active-key cache at startup. Call once before serving traffic.
func (s *Service) Warm(ctx context.Context) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warming api key cache: %w", err)
	}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	return nil
}

func (s *Service) refresh(ctx context.Context) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.logger.Error("refreshing api key cache", "error", err)
		return
	}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// List returns every API key (active and revoked), without hashes.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Response, 0, len(rows))
	for _, r := range rows {
		out = append(out, toResponse(r))
	}
	return out, nil
}

// Create generates a new API key, stores its Argon2id hash, and returns the
// raw key exactly once.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	raw, prefix, err := generate()
	if err != nil {
		return CreateResponse{}, err
	}
	hash, err := argon2id.CreateHash(raw, argon2id.DefaultParams)
	if err != nil {
		return CreateResponse{}, domain.NewRepoError(domain.RepoIOError, "hashing api key", err)
	}

	rec := domain.ApiKeyRecord{
		ID:        uuid.NewString(),
		Label:     req.Label,
		Prefix:    prefix,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return CreateResponse{}, err
	}
	s.refresh(ctx)

	return CreateResponse{Response: toResponse(rec), RawKey: raw}, nil
}

// Revoke disables an API key immediately; subsequent Verify calls reject it.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.store.Revoke(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// Rotate creates a fresh key under id's label and revokes id in the same
// breath; the old id is immediately unusable and exactly one active key
// remains under that label.
func (s *Service) Rotate(ctx context.Context, id string) (CreateResponse, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return CreateResponse{}, err
	}
	if !existing.Active() {
		return CreateResponse{}, domain.NewRepoError(domain.RepoValidationError, "cannot rotate a revoked api key", nil)
	}

	created, err := s.Create(ctx, CreateRequest{Label: existing.Label})
	if err != nil {
		return CreateResponse{}, err
	}
	if err := s.Revoke(ctx, id); err != nil {
		return CreateResponse{}, err
	}
	return created, nil
}

// Verify checks a raw API key against every active key's hash in constant
// time per comparison and reports the matching record, if any.
func (s *Service) Verify(raw string) (domain.ApiKeyRecord, bool) {
	s.mu.RLock()
	candidates := s.active
	s.mu.RUnlock()

	for _, rec := range candidates {
		match, err := argon2id.ComparePasswordAndHash(raw, rec.Hash)
		if err != nil {
			s.logger.Error("comparing api key hash", "error", err)
			continue
		}
		if match {
			return rec, true
		}
	}
	return domain.ApiKeyRecord{}, false
}

func toResponse(r domain.ApiKeyRecord) Response {
	return Response{
		ID:        r.ID,
		Label:     r.Label,
		Prefix:    r.Prefix,
		CreatedAt: r.CreatedAt,
		RevokedAt: r.RevokedAt,
	}
}
