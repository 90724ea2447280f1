package mijnhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/net/idna"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

const (
	DefaultBaseURL   = "https://mijn.host/api/v2"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "yk-ddns/dev"
)

func init() {
	dns.Register("mijnhost", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// APIError is returned when mijn.host answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string
	// Details is the compacted JSON error body, or the raw text when the body is not JSON.
	Details string
}

func (e *APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("mijnhost: API returned %s", e.Status)
	}
	return fmt.Sprintf("mijnhost: API returned %s: %s", e.Status, e.Details)
}

// Provider implements dns.Provider for the mijn.host v2 REST API.
type Provider struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
	log       logr.Logger
}

// New creates a mijn.host DNS provider from the given settings map.
// Required settings: api_key.
// Optional settings: base_url (default https://mijn.host/api/v2), timeout (Go duration, default 30s),
// user_agent (default yk-ddns/dev).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	apiKey := strings.TrimSpace(settings["api_key"])
	if apiKey == "" {
		return nil, fmt.Errorf("mijnhost: missing required setting 'api_key'")
	}

	baseURL := DefaultBaseURL
	if v := settings["base_url"]; v != "" {
		if _, err := url.ParseRequestURI(v); err != nil {
			return nil, fmt.Errorf("mijnhost: invalid base_url %q: %w", v, err)
		}
		baseURL = v
	}

	timeout := DefaultTimeout
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("mijnhost: invalid timeout %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("mijnhost: timeout must be positive, got %s", parsed)
		}
		timeout = parsed
	}

	userAgent := DefaultUserAgent
	if v := settings["user_agent"]; v != "" {
		userAgent = v
	}

	return &Provider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}, nil
}

// doRequest builds and executes an HTTP request against the mijn.host API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("mijnhost: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	endpoint := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("mijnhost: build request: %w", err)
	}

	req.Header.Set("API-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mijnhost: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// recordPayload is the body of the per-domain DNS PATCH call.
type recordPayload struct {
	Record recordBody `json:"record"`
}

type recordBody struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// Upsert creates or replaces a record with a single PATCH to domains/{domain}/dns.
// Internationalized names are sent in their ASCII (punycode) form.
func (p *Provider) Upsert(ctx context.Context, record dns.Record) error {
	record, err := toASCII(record)
	if err != nil {
		return err
	}
	path := "domains/" + url.PathEscape(strings.TrimSuffix(record.Domain, ".")) + "/dns"
	payload := recordPayload{Record: recordBody{
		Type:  record.Type,
		Name:  record.FQDN(),
		Value: record.Value,
		TTL:   record.TTL,
	}}

	resp, err := p.doRequest(ctx, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mijnhost: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Details: details(data)}
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err == nil {
		p.log.V(1).Info("record upserted", "fqdn", payload.Record.Name, "type", record.Type, "response", decoded)
	} else {
		p.log.V(1).Info("record upserted", "fqdn", payload.Record.Name, "type", record.Type, "status", resp.Status)
	}
	return nil
}

func toASCII(record dns.Record) (dns.Record, error) {
	domain, err := idna.ToASCII(record.Domain)
	if err != nil {
		return record, fmt.Errorf("mijnhost: invalid domain %q: %w", record.Domain, err)
	}
	record.Domain = domain
	if !dns.IsApex(record.Name) {
		name, err := idna.ToASCII(record.Name)
		if err != nil {
			return record, fmt.Errorf("mijnhost: invalid record name %q: %w", record.Name, err)
		}
		record.Name = name
	}
	return record, nil
}

// details renders an error body for logging: compact JSON when possible, trimmed text otherwise.
func details(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		return buf.String()
	}
	return strings.TrimSpace(string(data))
}
