package tlsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flm-project/flm-gateway/internal/security"
)

const cloudflareTXTTTL = 120

// CloudflareDNS manages TXT records for ACME DNS-01 challenges via the
// Cloudflare API, resolving the account token from the gateway's DNS
// credential service (metadata in the DB, secret in the keyring).
type CloudflareDNS struct {
	creds      *security.DnsCredentialService
	profileID  string
	zoneID     string
	httpClient *http.Client
	baseURL    string
}

func NewCloudflareDNS(creds *security.DnsCredentialService, profileID, zoneID string) *CloudflareDNS {
	return &CloudflareDNS{
		creds:      creds,
		profileID:  profileID,
		zoneID:     zoneID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.cloudflare.com/client/v4",
	}
}

type cfAPIResponse struct {
	Success bool            `json:"success"`
	Errors  []cfAPIError    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type cfAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfDNSRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// Present lists existing TXT records for fqdn, removes any stale one with
// the same value, then creates a fresh record with a 120s TTL (spec
// §4.H.1 Dns01).
func (d *CloudflareDNS) Present(ctx context.Context, fqdn, value string) error {
	fqdn = strings.TrimSuffix(fqdn, ".")

	existing, err := d.listRecords(ctx, fqdn)
	if err != nil {
		return fmt.Errorf("listing existing TXT records: %w", err)
	}
	for _, rec := range existing {
		if rec.Content == value {
			if err := d.deleteRecord(ctx, rec.ID); err != nil {
				return fmt.Errorf("removing stale TXT record: %w", err)
			}
		}
	}

	return d.createRecord(ctx, fqdn, value)
}

// CleanUp deletes every TXT record for fqdn (spec §4.H.1: "on cleanup
// deletes all matching TXT records for that FQDN").
func (d *CloudflareDNS) CleanUp(ctx context.Context, fqdn string) error {
	fqdn = strings.TrimSuffix(fqdn, ".")
	existing, err := d.listRecords(ctx, fqdn)
	if err != nil {
		return fmt.Errorf("listing TXT records for cleanup: %w", err)
	}
	for _, rec := range existing {
		if err := d.deleteRecord(ctx, rec.ID); err != nil {
			return fmt.Errorf("cleaning up TXT record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (d *CloudflareDNS) listRecords(ctx context.Context, fqdn string) ([]cfDNSRecord, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?type=TXT&name=%s", d.baseURL, d.zoneID, fqdn)
	var records []cfDNSRecord
	if err := d.do(ctx, http.MethodGet, url, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (d *CloudflareDNS) createRecord(ctx context.Context, fqdn, value string) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records", d.baseURL, d.zoneID)
	body := cfDNSRecord{Type: "TXT", Name: fqdn, Content: value, TTL: cloudflareTXTTTL}
	return d.do(ctx, http.MethodPost, url, body, nil)
}

func (d *CloudflareDNS) deleteRecord(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", d.baseURL, d.zoneID, id)
	return d.do(ctx, http.MethodDelete, url, nil, nil)
}

func (d *CloudflareDNS) do(ctx context.Context, method, url string, body, out any) error {
	token, err := d.creds.Token(d.profileID)
	if err != nil {
		return fmt.Errorf("resolving dns credential token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp cfAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !apiResp.Success {
		return fmt.Errorf("cloudflare API error: %v", apiResp.Errors)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("unmarshalling result: %w", err)
		}
	}
	return nil
}
