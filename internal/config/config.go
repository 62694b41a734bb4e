// Package config loads the gateway's environment-variable configuration
// into a single struct, the way core/pkg/config.BaseConfig does for the
// services it backs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"FLM_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"FLM_PORT" envDefault:"8787"`

	// Logging
	LogLevel  string `env:"FLM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FLM_LOG_FORMAT" envDefault:"json"`

	// DataDir roots config.db, security.db, certs/ and state.json. Empty
	// means "resolve via os.UserConfigDir() at Load time".
	DataDir string `env:"FLM_DATA_DIR"`

	// DisableKeyring replaces the OS keyring for DNS credentials with an
	// in-memory store that lasts only for the life of the process, for CI
	// and other environments with no OS secret service.
	DisableKeyring bool `env:"FLM_DISABLE_KEYRING" envDefault:"false"`

	// Engine endpoint overrides (spec §6.3). Empty means "use the engine's
	// documented default".
	OllamaBaseURL   string `env:"FLM_OLLAMA_BASE_URL"`
	VLLMHost        string `env:"FLM_VLLM_HOST"`
	VLLMPort        int    `env:"FLM_VLLM_PORT"`
	LMStudioAPIHost string `env:"FLM_LMSTUDIO_API_HOST"`
	LlamaCppPort    int    `env:"FLM_LLAMACPP_PORT"`

	// CORS
	CORSAllowedOrigins []string `env:"FLM_CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Slack (optional — if unset, blocklist/intrusion notification is disabled).
	SlackWebhookURL string `env:"FLM_SLACK_WEBHOOK_URL"`
	SlackChannel    string `env:"FLM_SLACK_CHANNEL"`

	// ACME / DNS-01
	AcmeDirectoryURL  string `env:"FLM_ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	CloudflareAPIBase string `env:"FLM_CLOUDFLARE_API_BASE" envDefault:"https://api.cloudflare.com/client/v4"`
}

// Load reads configuration from environment variables and resolves DataDir.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if cfg.DataDir == "" {
		dir, err := cfg.defaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default data dir: %w", err)
		}
		cfg.DataDir = dir
	}
	return cfg, nil
}

func (c *Config) defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "flm-gateway"), nil
}

// ListenAddr returns the address the HTTP admin/proxy server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConfigDBPath returns the path to the non-sensitive config.db (mode 0644).
func (c *Config) ConfigDBPath() string {
	return filepath.Join(c.DataDir, "config.db")
}

// SecurityDBPath returns the path to the sensitive security.db (mode 0600).
func (c *Config) SecurityDBPath() string {
	return filepath.Join(c.DataDir, "security.db")
}

// CertsDir returns the directory holding the root CA, leaf certs and keys.
func (c *Config) CertsDir() string {
	return filepath.Join(c.DataDir, "certs")
}

// StateFilePath returns the path to the daemon's last-known-state file.
func (c *Config) StateFilePath() string {
	return filepath.Join(c.DataDir, "state.json")
}
