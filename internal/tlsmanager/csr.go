package tlsmanager

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
)

// buildCSR builds a DER-encoded certificate request for domainName, signed
// by key, for the ACME finalize step.
func buildCSR(key *ecdsa.PrivateKey, domainName string) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domainName},
		DNSNames: []string{domainName},
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, key)
}
