package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// ConfigStore persists proxy profiles, active proxy handles, the engine
// cache and model profiles in config.db.
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(db *sql.DB) *ConfigStore { return &ConfigStore{db: db} }

// UpsertProxyProfile inserts or replaces a named proxy configuration profile.
func (s *ConfigStore) UpsertProxyProfile(ctx context.Context, p domain.ProxyProfile) error {
	trusted, err := json.Marshal(p.Config.TrustedProxyIPs)
	if err != nil {
		return domain.NewRepoError(domain.RepoValidationError, "encoding trusted_proxy_ips", err)
	}
	egress, err := json.Marshal(p.Config.EgressAllowHosts)
	if err != nil {
		return domain.NewRepoError(domain.RepoValidationError, "encoding egress_allow_hosts", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO proxy_profiles
			(id, port, mode, challenge, acme_email, acme_domain, dns_credential_id, listen_address, trusted_proxy_ips, egress_allow_hosts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM proxy_profiles WHERE id = ?), ?))`,
		p.ID, p.Config.Port, string(p.Config.Mode), string(p.Config.Challenge), p.Config.AcmeEmail, p.Config.AcmeDomain,
		p.Config.DnsCredentialID, p.Config.ListenAddress, string(trusted), string(egress), p.ID, p.CreatedAt,
	)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting proxy profile", err)
	}
	return nil
}

// GetProxyProfile reads a proxy profile by ID.
func (s *ConfigStore) GetProxyProfile(ctx context.Context, id string) (domain.ProxyProfile, error) {
	var p domain.ProxyProfile
	var trusted, egress string
	row := s.db.QueryRowContext(ctx, `
		SELECT id, port, mode, challenge, acme_email, acme_domain, dns_credential_id, listen_address, trusted_proxy_ips, egress_allow_hosts, created_at
		FROM proxy_profiles WHERE id = ?`, id)
	err := row.Scan(&p.ID, &p.Config.Port, &p.Config.Mode, &p.Config.Challenge, &p.Config.AcmeEmail, &p.Config.AcmeDomain,
		&p.Config.DnsCredentialID, &p.Config.ListenAddress, &trusted, &egress, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProxyProfile{}, domain.NewRepoError(domain.RepoNotFound, "proxy profile not found", err)
	}
	if err != nil {
		return domain.ProxyProfile{}, domain.NewRepoError(domain.RepoIOError, "reading proxy profile", err)
	}
	_ = json.Unmarshal([]byte(trusted), &p.Config.TrustedProxyIPs)
	_ = json.Unmarshal([]byte(egress), &p.Config.EgressAllowHosts)
	return p, nil
}

// UpsertActiveHandle records the currently-running listener for a profile.
func (s *ConfigStore) UpsertActiveHandle(ctx context.Context, h domain.ActiveProxyHandle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO active_proxy_handles (id, pid, http_port, https_port, mode, listen_addr, last_error, running)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.PID, h.HTTPPort, h.HTTPSPort, string(h.Mode), h.ListenAddr, h.LastError, h.Running)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting active proxy handle", err)
	}
	return nil
}

// UpsertEngineCache writes the latest observed state of one engine.
func (s *ConfigStore) UpsertEngineCache(ctx context.Context, e domain.EngineState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO engine_cache (id, kind, name, version, status_kind, latency_ms, reason, consecutive_failures, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Name, e.Version, int(e.Status.Kind), e.Status.LatencyMS, e.Status.Reason, e.Status.ConsecutiveFailures, e.CachedAt)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting engine cache", err)
	}
	return nil
}

// ListEngineCache returns every cached engine state.
func (s *ConfigStore) ListEngineCache(ctx context.Context) ([]domain.EngineState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, version, status_kind, latency_ms, reason, consecutive_failures, cached_at FROM engine_cache`)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "listing engine cache", err)
	}
	defer rows.Close()

	var out []domain.EngineState
	for rows.Next() {
		var e domain.EngineState
		var statusKind int
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name, &e.Version, &statusKind, &e.Status.LatencyMS, &e.Status.Reason, &e.Status.ConsecutiveFailures, &e.CachedAt); err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning engine cache row", err)
		}
		e.Status.Kind = domain.EngineStatusKind(statusKind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendHealthLog records one health-check sample for an engine.
func (s *ConfigStore) AppendHealthLog(ctx context.Context, engineID string, sample domain.EngineHealthSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_health_log (engine_id, latency_ms, failed, at) VALUES (?, ?, ?, ?)`,
		engineID, sample.LatencyMS, sample.Failed, sample.At)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "appending engine health log", err)
	}
	return nil
}

// RecentHealthLog returns the most recent samples for an engine, newest first.
func (s *ConfigStore) RecentHealthLog(ctx context.Context, engineID string, limit int) ([]domain.EngineHealthSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT latency_ms, failed, at FROM engine_health_log WHERE engine_id = ? ORDER BY at DESC LIMIT ?`, engineID, limit)
	if err != nil {
		return nil, domain.NewRepoError(domain.RepoIOError, "reading engine health log", err)
	}
	defer rows.Close()

	var out []domain.EngineHealthSample
	for rows.Next() {
		var s domain.EngineHealthSample
		if err := rows.Scan(&s.LatencyMS, &s.Failed, &s.At); err != nil {
			return nil, domain.NewRepoError(domain.RepoIOError, "scanning engine health log row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertModelProfile records a known model for an engine.
func (s *ConfigStore) UpsertModelProfile(ctx context.Context, m domain.ModelInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO model_profiles (id, engine_id, name) VALUES (?, ?, ?)`,
		m.ID, m.EngineID, m.Name)
	if err != nil {
		return domain.NewRepoError(domain.RepoIOError, "upserting model profile", err)
	}
	return nil
}
