package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/flm-project/flm-gateway/internal/config"
	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/store"
)

// EngineCacheTTL is how long a cached EngineState is trusted before a caller
// must pass fresh=true to force re-probing (spec §4.C.2).
const EngineCacheTTL = 300 * time.Second

// EngineProbe pairs a kind with the binary name used for PATH lookup.
type EngineProbe struct {
	Kind   domain.EngineKind
	Binary string
	EnvVar string // environment variable naming a custom install root, empty if none
}

var knownEngines = []EngineProbe{
	{Kind: domain.EngineOllama, Binary: "ollama", EnvVar: "OLLAMA_HOME"},
	{Kind: domain.EngineVLLM, Binary: "vllm"},
	{Kind: domain.EngineLMStudio, Binary: "lms"},
	{Kind: domain.EngineLlamaCpp, Binary: "llama-server"},
}

// wellKnownPaths lists extra install locations checked when PATH lookup
// fails, keyed by binary name and OS.
var wellKnownPaths = map[string]map[string][]string{
	"ollama": {
		"darwin": {"/Applications/Ollama.app/Contents/Resources/ollama"},
		"linux":  {"/usr/local/bin/ollama", "/usr/bin/ollama"},
	},
	"lms": {
		"darwin": {"/Applications/LM Studio.app/Contents/Resources/lms"},
	},
}

// ProbeBinary resolves an engine's executable on PATH, then well-known
// per-OS install paths, then an env-provided install root. Presence implies
// InstalledOnly only — it says nothing about whether the engine is running.
func ProbeBinary(p EngineProbe) bool {
	if _, err := exec.LookPath(p.Binary); err == nil {
		return true
	}
	for _, path := range wellKnownPaths[p.Binary][runtime.GOOS] {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	if p.EnvVar != "" {
		if root := os.Getenv(p.EnvVar); root != "" {
			if _, err := os.Stat(root); err == nil {
				return true
			}
		}
	}
	return false
}

// DefaultEndpoint returns the well-known host:port for an engine kind,
// applying the gateway's environment-variable overrides (spec §4.C.1, §6.3).
func DefaultEndpoint(cfg *config.Config, kind domain.EngineKind) (host string, port int) {
	switch kind {
	case domain.EngineOllama:
		return "localhost", 11434
	case domain.EngineVLLM:
		host, port = "localhost", 8000
		if cfg.VLLMHost != "" {
			host = cfg.VLLMHost
		}
		if cfg.VLLMPort != 0 {
			port = cfg.VLLMPort
		}
		return host, port
	case domain.EngineLMStudio:
		return "localhost", 1234
	case domain.EngineLlamaCpp:
		port = 8080
		if cfg.LlamaCppPort != 0 {
			port = cfg.LlamaCppPort
		}
		return "localhost", port
	default:
		return "localhost", 0
	}
}

// BaseURL returns the full base URL for an engine kind, honouring full-URL
// overrides (FLM_OLLAMA_BASE_URL, FLM_LMSTUDIO_API_HOST) ahead of host/port ones.
func BaseURL(cfg *config.Config, kind domain.EngineKind) string {
	switch kind {
	case domain.EngineOllama:
		if cfg.OllamaBaseURL != "" {
			return cfg.OllamaBaseURL
		}
	case domain.EngineLMStudio:
		if cfg.LMStudioAPIHost != "" {
			return cfg.LMStudioAPIHost
		}
	}
	host, port := DefaultEndpoint(cfg, kind)
	return fmt.Sprintf("http://%s:%d", host, port)
}

// probeTCP attempts a 500ms TCP connect to host:port (spec §4.C.1).
func probeTCP(ctx context.Context, host string, port int) error {
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	return conn.Close()
}

// DetectOne runs the binary and runtime probes for a single engine kind and
// returns its ephemeral EngineState, without consulting or updating the
// cache.
func DetectOne(ctx context.Context, cfg *config.Config, a Adapter, probe EngineProbe) domain.EngineState {
	now := time.Now().UTC()
	state := domain.EngineState{
		ID:           a.ID(),
		Kind:         a.Kind(),
		Capabilities: a.Capabilities(),
		CachedAt:     now,
	}

	host, port := DefaultEndpoint(cfg, probe.Kind)
	if err := probeTCP(ctx, host, port); err != nil {
		if ProbeBinary(probe) {
			state.Status = domain.InstalledOnly()
		} else {
			state.Status = domain.ErrorNetwork(err.Error(), 1)
		}
		return state
	}

	start := time.Now()
	status, err := a.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		state.Status = domain.ErrorAPI(err.Error())
		return state
	}
	if status.Kind == domain.StatusRunningHealthy {
		state.Status = domain.RunningHealthy(latency)
	} else {
		state.Status = status
	}
	return state
}

// DetectEngines consults the EngineCache for each registered adapter; fresh
// entries are returned verbatim unless fresh=true, which forces a reprobe
// and rewrites the cache (spec §4.C.2).
func DetectEngines(ctx context.Context, cfg *config.Config, cs *store.ConfigStore, reg *Registry, fresh bool) ([]domain.EngineState, error) {
	cached, err := cs.ListEngineCache(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.EngineState, len(cached))
	for _, c := range cached {
		byID[c.ID] = c
	}

	var out []domain.EngineState
	for _, a := range reg.List() {
		if !fresh {
			if c, ok := byID[a.ID()]; ok && time.Since(c.CachedAt) <= EngineCacheTTL {
				out = append(out, c)
				continue
			}
		}

		probe := EngineProbe{Kind: a.Kind()}
		for _, k := range knownEngines {
			if k.Kind == a.Kind() {
				probe = k
				break
			}
		}
		state := DetectOne(ctx, cfg, a, probe)
		if err := cs.UpsertEngineCache(ctx, state); err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}
