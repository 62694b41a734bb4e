package tlsmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"os"
	"testing"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
)

func selfSignedCert(t *testing.T, notAfter time.Time) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "listener"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

type fakeListener struct {
	id      string
	cfg     domain.ProxyConfig
	current tls.Certificate
	rotated tls.Certificate
	rotateN int
}

func (l *fakeListener) ID() string                          { return l.id }
func (l *fakeListener) Config() domain.ProxyConfig           { return l.cfg }
func (l *fakeListener) CurrentCertificate() tls.Certificate { return l.current }
func (l *fakeListener) Rotate(cert tls.Certificate) error {
	l.rotated = cert
	l.rotateN++
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	certsDir := dir + "/certs"
	if err := os.MkdirAll(certsDir, 0o700); err != nil {
		t.Fatalf("creating certs dir: %v", err)
	}
	return NewManager(dir, certsDir, nil, NewHTTP01Store(), nil)
}

func TestSweepOnceRenewsCertificateNearExpiry(t *testing.T) {
	mgr := newTestManager(t)
	expiring := &fakeListener{
		id:      "default",
		cfg:     domain.ProxyConfig{Mode: domain.ModeDevSelfSigned, ListenAddress: "127.0.0.1:8443"},
		current: selfSignedCert(t, time.Now().Add(5*24*time.Hour)),
	}
	fresh := &fakeListener{
		id:      "other",
		cfg:     domain.ProxyConfig{Mode: domain.ModeDevSelfSigned, ListenAddress: "127.0.0.1:8444"},
		current: selfSignedCert(t, time.Now().Add(80*24*time.Hour)),
	}

	r := NewRenewer(mgr, func() []Listener { return []Listener{expiring, fresh} }, slog.Default())
	r.sweepOnce()

	if expiring.rotateN != 1 {
		t.Fatalf("expected the near-expiry listener to be rotated once, got %d", expiring.rotateN)
	}
	newExpiry, err := Expiry(expiring.rotated)
	if err != nil {
		t.Fatalf("reading rotated cert expiry: %v", err)
	}
	if time.Until(newExpiry) <= renewalWindow {
		t.Fatalf("expected the rotated cert to be freshly issued, expiry too close: %v", newExpiry)
	}

	if fresh.rotateN != 0 {
		t.Fatalf("expected the far-from-expiry listener to be left alone, got %d rotations", fresh.rotateN)
	}
}

func TestSweepOnceSkipsListenerWithUnreadableCertificate(t *testing.T) {
	mgr := newTestManager(t)
	broken := &fakeListener{
		id:      "broken",
		cfg:     domain.ProxyConfig{Mode: domain.ModeDevSelfSigned},
		current: tls.Certificate{Certificate: [][]byte{[]byte("not a certificate")}},
	}

	r := NewRenewer(mgr, func() []Listener { return []Listener{broken} }, slog.Default())
	r.sweepOnce()

	if broken.rotateN != 0 {
		t.Fatalf("expected no rotation attempt for an unreadable certificate, got %d", broken.rotateN)
	}
}
