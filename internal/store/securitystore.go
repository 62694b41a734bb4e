package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// SecurityStore persists the security policy document, DNS credential
// metadata, the IP blocklist and intrusion scores in security.db.
type SecurityStore struct {
	db *sql.DB
}

func NewSecurityStore(db *sql.DB) *SecurityStore { return &SecurityStore{db: db} }

// GetPolicy reads the security policy document by ID ("default" in phase 1).
func (s *SecurityStore) GetPolicy(ctx context.Context, id string) (domain.SecurityPolicy, error) {
	var p domain.SecurityPolicy
	var doc string
	row := s.db.QueryRowContext(ctx, `SELECT id, policy_json, updated_at FROM security_policies WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &doc, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SecurityPolicy{}, domain.NewRepoError(domain.RepoNotFound, "security policy not found", err)
		}
		return domain.SecurityPolicy{}, domain.NewRepoError(domain.RepoIOError, "reading security policy", err)
	}
	if err := json.Unmarshal([]byte(doc), &p.Doc); err != nil {
		return domain.SecurityPolicy{}, domain.NewRepoError(domain.RepoIOError, "decoding policy document", err)
	}
	return p, nil
}

// UpsertPolicy writes the security policy document.
func (s *SecurityStore) UpsertPolicy(ctx context.Context, p domain.SecurityPolicy) error {
	doc, err := json.Marshal(p.Doc)
	if err != nil {
		return domain.NewRepoError(domain.RepoValidationError, "encoding policy document", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO security_policies (id, policy_json, updated_at) VALUES (?, ?, ?)`,
		p.ID, string(doc), p.UpdatedAt)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting security policy", err)
	}
	return nil
}

// UpsertDnsCredential writes DNS credential metadata (never the secret itself).
func (s *SecurityStore) UpsertDnsCredential(ctx context.Context, c domain.DnsCredentialProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dns_credential_profiles (id, provider, label, zone_id, zone_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM dns_credential_profiles WHERE id = ?), ?), ?)`,
		c.ID, c.Provider, c.Label, c.ZoneID, c.ZoneName, c.ID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting dns credential profile", err)
	}
	return nil
}

// GetDnsCredential reads DNS credential metadata by ID.
func (s *SecurityStore) GetDnsCredential(ctx context.Context, id string) (domain.DnsCredentialProfile, error) {
	var c domain.DnsCredentialProfile
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, label, zone_id, zone_name, created_at, updated_at FROM dns_credential_profiles WHERE id = ?`, id)
	if err := row.Scan(&c.ID, &c.Provider, &c.Label, &c.ZoneID, &c.ZoneName, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DnsCredentialProfile{}, domain.NewRepoError(domain.RepoNotFound, "dns credential not found", err)
		}
		return domain.DnsCredentialProfile{}, domain.NewRepoError(domain.RepoIOError, "reading dns credential", err)
	}
	return c, nil
}

// BlocklistEntry is one persisted IP ban.
type BlocklistEntry struct {
	IP        string
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UpsertBlocklistEntry persists (or extends) a ban.
func (s *SecurityStore) UpsertBlocklistEntry(ctx context.Context, e BlocklistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blocklist_entries (ip, reason, expires_at, created_at)
		VALUES (?, ?, ?, COALESCE((SELECT created_at FROM blocklist_entries WHERE ip = ?), ?))`,
		e.IP, e.Reason, e.ExpiresAt, e.IP, e.CreatedAt)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting blocklist entry", err)
	}
	return nil
}

// DeleteExpiredBlocklistEntries removes bans whose expiry has passed.
func (s *SecurityStore) DeleteExpiredBlocklistEntries(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocklist_entries WHERE expires_at <= ?`, now)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "pruning blocklist", err)
	}
	return nil
}

// LoadBlocklist returns every currently active ban, for startup cache warming.
func (s *SecurityStore) LoadBlocklist(ctx context.Context, now time.Time) ([]BlocklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ip, reason, expires_at, created_at FROM blocklist_entries WHERE expires_at > ?`, now)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "loading blocklist", err)
	}
	defer rows.Close()

	var out []BlocklistEntry
	for rows.Next() {
		var e BlocklistEntry
		if err := rows.Scan(&e.IP, &e.Reason, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning blocklist row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetIntrusionScore persists the current intrusion score for an IP.
func (s *SecurityStore) SetIntrusionScore(ctx context.Context, ip string, score int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO intrusion_scores (ip, score, updated_at) VALUES (?, ?, ?)`, ip, score, at)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "persisting intrusion score", err)
	}
	return nil
}

// LoadIntrusionScores returns every persisted intrusion score, for startup cache warming.
func (s *SecurityStore) LoadIntrusionScores(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ip, score FROM intrusion_scores`)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "loading intrusion scores", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ip string
		var score int
		if err := rows.Scan(&ip, &score); err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning intrusion score row", err)
		}
		out[ip] = score
	}
	return out, rows.Err()
}
