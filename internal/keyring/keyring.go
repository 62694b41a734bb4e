// Package keyring stores DNS-01 credential secrets in the OS secret
// service, keeping the token itself out of security.db entirely.
package keyring

import (
	"fmt"

	"github.com/99designs/keyring"

	"github.com/flm-project/flm-gateway/internal/config"
)

const serviceName = "flm.dns"

// Store persists and retrieves DNS credential secrets by profile ID.
type Store interface {
	Set(id, secret string) error
	Get(id string) (string, error)
	Delete(id string) error
}

// osStore wraps the 99designs/keyring backend for the local OS secret
// service (macOS Keychain, Secret Service, Windows Credential Manager).
type osStore struct {
	ring keyring.Keyring
}

// noopStore is used when FLM_DISABLE_KEYRING is set, for environments
// with no OS secret service (CI, headless containers).
type noopStore struct {
	values map[string]string
}

// New returns an osStore backed by the platform secret service, or a
// noopStore when cfg.DisableKeyring is set.
func New(cfg *config.Config) (Store, error) {
	if cfg.DisableKeyring {
		return &noopStore{values: make(map[string]string)}, nil
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:             serviceName,
		FileDir:                 cfg.CertsDir(),
		FilePasswordFunc:        keyring.FixedStringPrompt(""),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &osStore{ring: ring}, nil
}

func (s *osStore) Set(id, secret string) error {
	return s.ring.Set(keyring.Item{Key: id, Data: []byte(secret)})
}

func (s *osStore) Get(id string) (string, error) {
	item, err := s.ring.Get(id)
	if err != nil {
		return "", fmt.Errorf("reading dns credential %s: %w", id, err)
	}
	return string(item.Data), nil
}

func (s *osStore) Delete(id string) error {
	return s.ring.Remove(id)
}

func (s *noopStore) Set(id, secret string) error {
	s.values[id] = secret
	return nil
}

func (s *noopStore) Get(id string) (string, error) {
	v, ok := s.values[id]
	if !ok {
		return "", fmt.Errorf("no dns credential stored for %s", id)
	}
	return v, nil
}

func (s *noopStore) Delete(id string) error {
	delete(s.values, id)
	return nil
}
