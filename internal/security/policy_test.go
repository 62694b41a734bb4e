package security

import (
	"net"
	"testing"

	"github.com/flm-project/flm-gateway/internal/domain"
)

func TestValidatePolicyDocRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		doc     domain.SecurityPolicyDoc
		wantErr bool
	}{
		{
			name: "valid cidr and ip",
			doc: domain.SecurityPolicyDoc{
				IPWhitelist: []string{"10.0.0.0/8", "192.168.1.1"},
				RateLimit:   domain.RateLimitPolicy{RPM: 60, Burst: 10},
			},
		},
		{
			name: "bad entry",
			doc: domain.SecurityPolicyDoc{
				IPWhitelist: []string{"not-an-ip"},
				RateLimit:   domain.RateLimitPolicy{RPM: 60, Burst: 10},
			},
			wantErr: true,
		},
		{
			name: "zero rpm",
			doc: domain.SecurityPolicyDoc{
				RateLimit: domain.RateLimitPolicy{RPM: 0, Burst: 10},
			},
			wantErr: true,
		},
		{
			name: "zero burst",
			doc: domain.SecurityPolicyDoc{
				RateLimit: domain.RateLimitPolicy{RPM: 60, Burst: 0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicyDoc(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePolicyDoc() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIPAllowed(t *testing.T) {
	doc := domain.SecurityPolicyDoc{IPWhitelist: []string{"10.0.0.0/8", "203.0.113.5"}}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"203.0.113.5", true},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		if got := IPAllowed(doc, net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IPAllowed(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestIPAllowedEmptyWhitelistAllowsAll(t *testing.T) {
	doc := domain.SecurityPolicyDoc{}
	if !IPAllowed(doc, net.ParseIP("1.2.3.4")) {
		t.Fatalf("expected empty whitelist to allow all IPs")
	}
}
