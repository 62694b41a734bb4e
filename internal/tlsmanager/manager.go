package tlsmanager

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/security"
)

// Manager issues and reuses certificates for a proxy listener according to
// its configured mode (spec §4.H.1).
type Manager struct {
	DataDir      string
	CertsDir     string
	PackagedCA   *CA // non-nil only when a build-time bundled CA was embedded
	HTTP01       *HTTP01Store
	DnsCreds     *security.DnsCredentialService
	directoryURL string
}

// SetDirectoryURL overrides the ACME directory used by HttpsAcme mode
// (defaults to Let's Encrypt's production directory).
func (m *Manager) SetDirectoryURL(url string) {
	if url != "" {
		m.directoryURL = url
	}
}

func NewManager(dataDir, certsDir string, packagedCA *CA, http01 *HTTP01Store, dnsCreds *security.DnsCredentialService) *Manager {
	return &Manager{
		DataDir:    dataDir,
		CertsDir:   certsDir,
		PackagedCA: packagedCA,
		HTTP01:     http01,
		DnsCreds:   dnsCreds,
	}
}

// Issue produces (or reuses) a certificate for listenerID under cfg's mode.
// LocalHttp has no certificate and is rejected by the caller before this is
// reached.
func (m *Manager) Issue(ctx context.Context, listenerID string, cfg domain.ProxyConfig) (tls.Certificate, error) {
	switch cfg.Mode {
	case domain.ModeDevSelfSigned:
		ca, err := LoadOrCreateCA(m.CertsDir)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading dev CA: %w", err)
		}
		return LoadOrIssueLeaf(ca, m.CertsDir, sanitizeListenerID(listenerID), cfg.ListenAddress)

	case domain.ModePackagedCa:
		if m.PackagedCA == nil {
			return tls.Certificate{}, fmt.Errorf("packaged_ca mode requires a build-time bundled root CA")
		}
		return LoadOrIssueLeaf(m.PackagedCA, m.CertsDir, sanitizeListenerID(listenerID), cfg.ListenAddress)

	case domain.ModeHttpsAcme:
		return m.issueAcme(ctx, cfg)

	default:
		return tls.Certificate{}, fmt.Errorf("mode %q does not use TLS", cfg.Mode)
	}
}

func (m *Manager) issueAcme(ctx context.Context, cfg domain.ProxyConfig) (tls.Certificate, error) {
	var dns DNSProvider
	if cfg.Challenge == domain.ChallengeDNS01 {
		profile, err := m.DnsCreds.Get(ctx, cfg.DnsCredentialID)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("resolving dns credential profile: %w", err)
		}
		dns = NewCloudflareDNS(m.DnsCreds, profile.ID, profile.ZoneID)
	}

	acmeMgr := NewAcmeManager(m.DataDir, m.HTTP01, dns)
	if m.directoryURL != "" {
		acmeMgr.DirectoryURL = m.directoryURL
	}
	return acmeMgr.Obtain(ctx, cfg.AcmeEmail, cfg.AcmeDomain, cfg.Challenge)
}
