package tlsmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	leafValidFor  = 90 * 24 * time.Hour
	leafRenewSlop = 30 * 24 * time.Hour
)

// LeafPaths returns the certificate/key paths for a named listener's leaf.
func LeafPaths(certsDir, listenerID string) (certPath, keyPath string) {
	return filepath.Join(certsDir, listenerID+".crt"), filepath.Join(certsDir, listenerID+".key")
}

// LoadOrIssueLeaf returns a tls.Certificate signed by ca for san, reusing
// the persisted leaf if it still has more than leafRenewSlop of validity
// left (spec §4.H.1 DevSelfSigned reuse rule).
func LoadOrIssueLeaf(ca *CA, certsDir, listenerID, san string) (tls.Certificate, error) {
	certPath, keyPath := LeafPaths(certsDir, listenerID)

	if cert, expiry, err := loadLeaf(certPath, keyPath); err == nil {
		if time.Until(expiry) > leafRenewSlop {
			return cert, nil
		}
	}

	return issueLeaf(ca, certPath, keyPath, san)
}

func loadLeaf(certPath, keyPath string) (tls.Certificate, time.Time, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, time.Time{}, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, time.Time{}, err
	}
	return cert, leaf.NotAfter, nil
}

func issueLeaf(ca *CA, certPath, keyPath, san string) (tls.Certificate, error) {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certs dir: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating leaf serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: san},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	host, _, err := net.SplitHostPort(san)
	if err != nil {
		host = san
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("signing leaf certificate: %w", err)
	}

	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshalling leaf key: %w", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEMBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(certPEM, keyPEMBytes)
}

// Expiry returns the NotAfter time of a loaded certificate's leaf.
func Expiry(cert tls.Certificate) (time.Time, error) {
	if len(cert.Certificate) == 0 {
		return time.Time{}, fmt.Errorf("certificate has no leaf bytes")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return time.Time{}, err
	}
	return leaf.NotAfter, nil
}

// sanitizeListenerID turns a listen address into a filesystem-safe file stem.
func sanitizeListenerID(listenAddr string) string {
	return strings.NewReplacer(":", "_", ".", "-").Replace(listenAddr)
}
