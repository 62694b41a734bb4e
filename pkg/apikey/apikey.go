// Package apikey implements creation, verification, rotation and revocation
// of gateway API keys (spec §4.E.1). Keys are stored as Argon2id PHC hashes;
// the plain-text value is returned to the caller exactly once, at creation
// or rotation time, and never persisted or logged.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// CreateRequest is the JSON body for POST /admin/keys.
type CreateRequest struct {
	Label string `json:"label" validate:"required"`
}

// Response is the JSON response for a single API key, never containing the
// raw key material.
type Response struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// CreateResponse additionally carries the raw key, shown once.
type CreateResponse struct {
	Response
	RawKey string `json:"raw_key"`
}

// generate creates a random API key with prefix "flm_" and a short display prefix.
func generate() (raw, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	raw = "flm_" + hex.EncodeToString(b)
	prefix = raw[:10]
	return raw, prefix, nil
}
