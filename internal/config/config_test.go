package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLM_DATA_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8787", func(c *Config) bool { return c.Port == 8787 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8787" }},
		{"keyring enabled by default", func(c *Config) bool { return !c.DisableKeyring }},
		{"data dir resolved when unset", func(c *Config) bool { return c.DataDir != "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected config value for %q: %+v", tt.name, cfg)
			}
		})
	}
}

func TestLoadOverridesAndPaths(t *testing.T) {
	t.Setenv("FLM_DATA_DIR", "/tmp/flm-test-data")
	t.Setenv("FLM_PORT", "9999")
	t.Setenv("FLM_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("FLM_DISABLE_KEYRING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.DisableKeyring {
		t.Errorf("DisableKeyring = false, want true")
	}

	wantConfigDB := filepath.Join("/tmp/flm-test-data", "config.db")
	if cfg.ConfigDBPath() != wantConfigDB {
		t.Errorf("ConfigDBPath() = %q, want %q", cfg.ConfigDBPath(), wantConfigDB)
	}
	wantSecurityDB := filepath.Join("/tmp/flm-test-data", "security.db")
	if cfg.SecurityDBPath() != wantSecurityDB {
		t.Errorf("SecurityDBPath() = %q, want %q", cfg.SecurityDBPath(), wantSecurityDB)
	}
	wantCerts := filepath.Join("/tmp/flm-test-data", "certs")
	if cfg.CertsDir() != wantCerts {
		t.Errorf("CertsDir() = %q, want %q", cfg.CertsDir(), wantCerts)
	}
}
