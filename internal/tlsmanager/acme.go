package tlsmanager

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/acme"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// acmeChallengeTimeout bounds a single challenge's validation window (spec
// §5 "ACME interactions: 5 min per challenge").
const acmeChallengeTimeout = 5 * time.Minute

// letsEncryptDirectory is the default ACME directory; tests override it via
// AcmeManager.DirectoryURL.
const letsEncryptDirectory = "https://acme-v02.api.letsencrypt.org/directory"

// DNSProvider creates and tears down the TXT record an ACME DNS-01
// challenge requires.
type DNSProvider interface {
	Present(ctx context.Context, fqdn, value string) error
	CleanUp(ctx context.Context, fqdn string) error
}

// HTTP01Store publishes challenge responses for the gateway's own HTTP
// listener to serve at /.well-known/acme-challenge/{token}.
type HTTP01Store struct {
	mu      sync.RWMutex
	content map[string]string
}

func NewHTTP01Store() *HTTP01Store { return &HTTP01Store{content: make(map[string]string)} }

func (s *HTTP01Store) Set(token, keyAuth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[token] = keyAuth
}

func (s *HTTP01Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.content, token)
}

// Get returns the key authorization for token, served by the gateway's
// /.well-known/acme-challenge/{token} route.
func (s *HTTP01Store) Get(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.content[token]
	return v, ok
}

// Handler serves /.well-known/acme-challenge/{token} for chi's {token} URL
// param convention.
func (s *HTTP01Store) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		keyAuth, ok := s.Get(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	}
}

// AcmeManager drives the RFC 8555 account/order/authorize/finalize flow for
// HttpsAcme mode (spec §4.H.1).
type AcmeManager struct {
	DirectoryURL string
	AccountDir   string
	HTTP01       *HTTP01Store
	DNS          DNSProvider
}

func NewAcmeManager(dataDir string, http01 *HTTP01Store, dns DNSProvider) *AcmeManager {
	return &AcmeManager{
		DirectoryURL: letsEncryptDirectory,
		AccountDir:   filepath.Join(dataDir, "acme"),
		HTTP01:       http01,
		DNS:          dns,
	}
}

// Obtain runs the full ACME flow and returns a certificate chain for
// domain, registered under email, completed via the requested challenge
// kind.
func (m *AcmeManager) Obtain(ctx context.Context, email, domainName string, challenge domain.AcmeChallengeKind) (tls.Certificate, error) {
	accountKey, err := m.loadOrCreateAccountKey()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("acme account key: %w", err)
	}

	client := &acme.Client{Key: accountKey, DirectoryURL: m.DirectoryURL}

	if _, err := client.Register(ctx, &acme.Account{Contact: []string{"mailto:" + email}}, acme.AcceptTOS); err != nil && err != acme.ErrAccountAlreadyExists {
		return tls.Certificate{}, fmt.Errorf("registering acme account: %w", err)
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domainName))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("authorizing order: %w", err)
	}

	for _, authzURL := range order.AuthzURLs {
		if err := m.completeAuthorization(ctx, client, authzURL, domainName, challenge); err != nil {
			return tls.Certificate{}, err
		}
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating leaf key: %w", err)
	}
	csr, err := buildCSR(leafKey, domainName)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("building csr: %w", err)
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("finalizing order: %w", err)
	}

	return tls.Certificate{Certificate: der, PrivateKey: leafKey}, nil
}

func (m *AcmeManager) completeAuthorization(ctx context.Context, client *acme.Client, authzURL, domainName string, challenge domain.AcmeChallengeKind) error {
	ctx, cancel := context.WithTimeout(ctx, acmeChallengeTimeout)
	defer cancel()

	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("fetching authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	wantType := "http-01"
	if challenge == domain.ChallengeDNS01 {
		wantType = "dns-01"
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == wantType {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("no %s challenge offered for %s", wantType, domainName)
	}

	switch challenge {
	case domain.ChallengeHTTP01:
		keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
		if err != nil {
			return fmt.Errorf("building http-01 response: %w", err)
		}
		m.HTTP01.Set(chal.Token, keyAuth)
		defer m.HTTP01.Delete(chal.Token)
	case domain.ChallengeDNS01:
		if m.DNS == nil {
			return fmt.Errorf("dns-01 challenge requested but no DNS provider configured")
		}
		value, err := client.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return fmt.Errorf("building dns-01 record: %w", err)
		}
		fqdn := "_acme-challenge." + domainName + "."
		if err := m.DNS.Present(ctx, fqdn, value); err != nil {
			return fmt.Errorf("presenting dns-01 record: %w", err)
		}
		defer m.DNS.CleanUp(ctx, fqdn)
	}

	if _, err := client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("accepting challenge: %w", err)
	}
	if _, err := client.WaitAuthorization(ctx, authzURL); err != nil {
		return fmt.Errorf("waiting for authorization: %w", err)
	}
	return nil
}

func (m *AcmeManager) loadOrCreateAccountKey() (*ecdsa.PrivateKey, error) {
	path := filepath.Join(m.AccountDir, "account.key")
	if data, err := os.ReadFile(path); err == nil {
		key, err := x509.ParseECPrivateKey(data)
		if err == nil {
			return key, nil
		}
	}

	if err := os.MkdirAll(m.AccountDir, 0o700); err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, der, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
