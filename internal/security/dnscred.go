package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/keyring"
	"github.com/flm-project/flm-gateway/internal/store"
)

// DnsCredentialService manages DNS-01 credential profiles: metadata lives
// in security.db, the secret token lives in the OS keyring (spec §3,
// §4.H.1 Dns01 challenge).
type DnsCredentialService struct {
	store   *store.SecurityStore
	secrets keyring.Store
}

func NewDnsCredentialService(st *store.SecurityStore, secrets keyring.Store) *DnsCredentialService {
	return &DnsCredentialService{store: st, secrets: secrets}
}

// Create persists a new DNS credential profile and stores its secret
// token in the keyring, keyed by the generated profile ID.
func (s *DnsCredentialService) Create(ctx context.Context, provider, label, zoneID, zoneName, token string) (domain.DnsCredentialProfile, error) {
	now := time.Now().UTC()
	profile := domain.DnsCredentialProfile{
		ID:        uuid.NewString(),
		Provider:  provider,
		Label:     label,
		ZoneID:    zoneID,
		ZoneName:  zoneName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.secrets.Set(profile.ID, token); err != nil {
		return domain.DnsCredentialProfile{}, domain.NewRepoError(domain.RepoIOError, "storing dns credential secret", err)
	}
	if err := s.store.UpsertDnsCredential(ctx, profile); err != nil {
		return domain.DnsCredentialProfile{}, err
	}
	return profile, nil
}

// Get returns a credential profile's metadata.
func (s *DnsCredentialService) Get(ctx context.Context, id string) (domain.DnsCredentialProfile, error) {
	return s.store.GetDnsCredential(ctx, id)
}

// Token retrieves the secret token for a credential profile from the
// keyring. Called only by the DNS-01 solver, never exposed over HTTP.
func (s *DnsCredentialService) Token(id string) (string, error) {
	token, err := s.secrets.Get(id)
	if err != nil {
		return "", domain.NewRepoError(domain.RepoNotFound, "dns credential secret not found", err)
	}
	return token, nil
}

// Rotate replaces a credential profile's secret token, keeping the same ID.
func (s *DnsCredentialService) Rotate(ctx context.Context, id, newToken string) error {
	if _, err := s.store.GetDnsCredential(ctx, id); err != nil {
		return err
	}
	if err := s.secrets.Set(id, newToken); err != nil {
		return domain.NewRepoError(domain.RepoIOError, "rotating dns credential secret", err)
	}
	return nil
}

// Delete removes a credential profile's secret from the keyring. Metadata
// rows are not deleted here; the caller decides whether to keep history.
func (s *DnsCredentialService) Delete(id string) error {
	if err := s.secrets.Delete(id); err != nil {
		return domain.NewRepoError(domain.RepoIOError, "deleting dns credential secret", err)
	}
	return nil
}
