package apikey

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// Store provides security.db operations for API keys.
type Store struct {
	db *sql.DB
}

// NewStore creates an API key Store backed by the security database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func scanRecord(row interface{ Scan(...any) error }) (domain.ApiKeyRecord, error) {
	var r domain.ApiKeyRecord
	var revokedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.Label, &r.Prefix, &r.Hash, &r.CreatedAt, &revokedAt); err != nil {
		return domain.ApiKeyRecord{}, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		r.RevokedAt = &t
	}
	return r, nil
}

const selectColumns = `id, label, prefix, key_hash, created_at, revoked_at`

// List returns every API key, most recently created first.
func (s *Store) List(ctx context.Context) ([]domain.ApiKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "listing api keys", err)
	}
	defer rows.Close()

	var out []domain.ApiKeyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning api key row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "iterating api key rows", err)
	}
	return out, nil
}

// Get returns one API key by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.ApiKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ApiKeyRecord{}, domain.NewRepoError(domain.RepoNotFound, "api key not found", err)
	}
	if err != nil {
		return domain.ApiKeyRecord{}, domain.NewRepoError(domain.RepoIOError, "reading api key", err)
	}
	return r, nil
}

// ListActive returns every non-revoked API key, used by the auth middleware
// to build its in-memory verification set.
func (s *Store) ListActive(ctx context.Context) ([]domain.ApiKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM api_keys WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "listing active api keys", err)
	}
	defer rows.Close()

	var out []domain.ApiKeyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning api key row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert persists a newly created API key.
func (s *Store) Insert(ctx context.Context, r domain.ApiKeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, label, prefix, key_hash, created_at, revoked_at) VALUES (?, ?, ?, ?, ?, NULL)`,
		r.ID, r.Label, r.Prefix, r.Hash, r.CreatedAt,
	)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "inserting api key", err)
	}
	return nil
}

// Revoke marks an API key as revoked at the given time. Revoking an
// already-revoked key is a no-op (spec §4.E.1); only a wholly unknown id
// is an error.
func (s *Store) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, at, id)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "revoking api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "checking revoke result", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}
