// Package security implements the gateway's security policy and DNS
// credential services (spec §4.E).
package security

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/store"
)

const DefaultPolicyID = "default"

// PolicyService holds the single active security policy in memory,
// backed by security.db, so reads on the admission hot path take only a
// shared read lock and never touch the database.
type PolicyService struct {
	store *store.SecurityStore

	mu     sync.RWMutex
	policy domain.SecurityPolicy
}

func NewPolicyService(st *store.SecurityStore) *PolicyService {
	return &PolicyService{store: st}
}

// Warm loads the policy at startup, seeding a permissive default if none
// has been persisted yet.
func (s *PolicyService) Warm(ctx context.Context) error {
	p, err := s.store.GetPolicy(ctx, DefaultPolicyID)
	if err != nil {
		if !domain.IsRepoNotFound(err) {
			return err
		}
		p = domain.SecurityPolicy{
			ID: DefaultPolicyID,
			Doc: domain.SecurityPolicyDoc{
				IPWhitelist: nil,
				CORS:        domain.CORSPolicy{AllowedOrigins: []string{"*"}},
				RateLimit:   domain.RateLimitPolicy{RPM: 60, Burst: 10},
			},
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.store.UpsertPolicy(ctx, p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return nil
}

// Current returns a snapshot of the active policy.
func (s *PolicyService) Current() domain.SecurityPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Update validates and persists a new policy document, replacing the
// in-memory snapshot on success.
func (s *PolicyService) Update(ctx context.Context, doc domain.SecurityPolicyDoc) (domain.SecurityPolicy, error) {
	if err := ValidatePolicyDoc(doc); err != nil {
		return domain.SecurityPolicy{}, err
	}
	p := domain.SecurityPolicy{ID: DefaultPolicyID, Doc: doc, UpdatedAt: time.Now().UTC()}
	if err := s.store.UpsertPolicy(ctx, p); err != nil {
		return domain.SecurityPolicy{}, err
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return p, nil
}

// ValidatePolicyDoc checks the CIDR/IP whitelist entries and rate limit
// bounds (spec §4.E.2).
func ValidatePolicyDoc(doc domain.SecurityPolicyDoc) error {
	for _, entry := range doc.IPWhitelist {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if ip := net.ParseIP(entry); ip == nil {
			return domain.NewRepoError(domain.RepoValidationError, fmt.Sprintf("ip_whitelist entry %q is not a valid IP or CIDR", entry), nil)
		}
	}
	if doc.RateLimit.RPM <= 0 {
		return domain.NewRepoError(domain.RepoValidationError, "rate_limit.rpm must be > 0", nil)
	}
	if doc.RateLimit.Burst <= 0 {
		return domain.NewRepoError(domain.RepoValidationError, "rate_limit.burst must be > 0", nil)
	}
	return nil
}

// IPAllowed reports whether ip matches the whitelist, or true if the
// whitelist is empty (spec §4.F.4: an empty list means "allow all").
func IPAllowed(doc domain.SecurityPolicyDoc, ip net.IP) bool {
	if len(doc.IPWhitelist) == 0 {
		return true
	}
	for _, entry := range doc.IPWhitelist {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if parsed := net.ParseIP(entry); parsed != nil && parsed.Equal(ip) {
			return true
		}
	}
	return false
}
