// Package modelid implements the canonical "flm://{engine}/{model}" model
// identifier used uniformly across the gateway's API (spec §4.G.2).
package modelid

import (
	"fmt"
	"strings"
)

const scheme = "flm://"

// ModelID is a parsed, canonical model identifier.
type ModelID struct {
	EngineID string
	Name     string
}

// ErrInvalid is returned (wrapped) when a model identifier doesn't match
// "flm://{engine_id}/{model_name}".
var ErrInvalid = fmt.Errorf("model id must be of the form %s{engine}/{model}", scheme)

// Parse strictly parses a model identifier string. engine_id must be
// non-empty and contain no '/'; model_name must be non-empty and may
// contain '/'.
func Parse(s string) (ModelID, error) {
	if !strings.HasPrefix(s, scheme) {
		return ModelID{}, ErrInvalid
	}
	rest := s[len(scheme):]
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 || idx == len(rest)-1 {
		return ModelID{}, ErrInvalid
	}
	engineID := rest[:idx]
	name := rest[idx+1:]
	if engineID == "" || name == "" {
		return ModelID{}, ErrInvalid
	}
	return ModelID{EngineID: engineID, Name: name}, nil
}

// String reconstructs the canonical "flm://{engine}/{model}" form.
func (m ModelID) String() string {
	return scheme + m.EngineID + "/" + m.Name
}

// New builds a ModelID from parts without validation round-tripping through
// Parse; callers that already know engineID/name are well-formed (e.g.
// detection results) use this directly.
func New(engineID, name string) ModelID {
	return ModelID{EngineID: engineID, Name: name}
}
