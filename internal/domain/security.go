package domain

import "time"

// ApiKeyRecord is the persisted (hash-only) API key metadata (spec §3).
// The plain-text key is never stored and never appears here.
type ApiKeyRecord struct {
	ID        string
	Label     string
	Prefix    string // first chars of the raw key, for display only
	Hash      string // Argon2id PHC string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the key is usable for authentication.
func (k *ApiKeyRecord) Active() bool { return k.RevokedAt == nil }

// CORSPolicy mirrors the "cors" object of SecurityPolicy.policy_json.
type CORSPolicy struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// RateLimitPolicy mirrors the "rate_limit" object of SecurityPolicy.policy_json.
type RateLimitPolicy struct {
	RPM   int `json:"rpm"`
	Burst int `json:"burst"`
}

// SecurityPolicyDoc is the parsed shape of SecurityPolicy.policy_json (spec §4.E.2).
type SecurityPolicyDoc struct {
	IPWhitelist []string        `json:"ip_whitelist"`
	CORS        CORSPolicy      `json:"cors"`
	RateLimit   RateLimitPolicy `json:"rate_limit"`
}

// SecurityPolicy is the persisted policy row. Phase 1 only ever has id "default".
type SecurityPolicy struct {
	ID        string
	Doc       SecurityPolicyDoc
	UpdatedAt time.Time
}

// DnsCredentialProfile is the persisted metadata for a DNS-01 credential.
// The secret token itself lives in the OS keyring, not here.
type DnsCredentialProfile struct {
	ID        string
	Provider  string
	Label     string
	ZoneID    string
	ZoneName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProxyMode selects the TLS/HTTPS configuration class (spec §4.H.1).
type ProxyMode string

const (
	ModeLocalHttp     ProxyMode = "local_http"
	ModeDevSelfSigned ProxyMode = "dev_self_signed"
	ModeHttpsAcme     ProxyMode = "https_acme"
	ModePackagedCa    ProxyMode = "packaged_ca"
)

// AcmeChallengeKind selects the ACME challenge type for HttpsAcme mode.
type AcmeChallengeKind string

const (
	ChallengeHTTP01 AcmeChallengeKind = "http01"
	ChallengeDNS01  AcmeChallengeKind = "dns01"
)

// ProxyConfig is the persisted per-listener configuration (spec §3).
type ProxyConfig struct {
	Port             int
	Mode             ProxyMode
	Challenge        AcmeChallengeKind
	AcmeEmail        string
	AcmeDomain       string
	DnsCredentialID  string
	ListenAddress    string
	TrustedProxyIPs  []string
	EgressAllowHosts []string
}

// Validate checks spec §3 invariant 4/5.
func (c *ProxyConfig) Validate() error {
	if c.Port <= 0 {
		return NewProxyError(ProxyInvalidConfig, "port must be > 0", nil)
	}
	if c.Mode == ModeHttpsAcme {
		if c.AcmeEmail == "" || c.AcmeDomain == "" {
			return NewProxyError(ProxyInvalidConfig, "https_acme mode requires acme_email and acme_domain", nil)
		}
		if c.Challenge == ChallengeDNS01 && c.DnsCredentialID == "" {
			return NewProxyError(ProxyInvalidConfig, "dns01 challenge requires a dns credential profile id", nil)
		}
	}
	return nil
}

// HTTPSPort returns the HTTPS port for TLS-enabled modes (always Port+1).
func (c *ProxyConfig) HTTPSPort() int { return c.Port + 1 }

// ProxyProfile is the persisted named ProxyConfig (spec §3).
type ProxyProfile struct {
	ID        string
	Config    ProxyConfig
	CreatedAt time.Time
}

// ActiveProxyHandle is the persisted per-running-listener record (spec §3).
type ActiveProxyHandle struct {
	ID         string
	PID        int
	HTTPPort   int
	HTTPSPort  int
	Mode       ProxyMode
	ListenAddr string
	LastError  string
	Running    bool
}
