// Package ipresolve looks up the caller's public IP address from an HTTP
// echo service that answers with a JSON body such as {"ip": "203.0.113.9"}.
package ipresolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read; echo services answer with a few bytes.
const maxBody = 64 << 10

// ErrNoIP is returned when the response carries no usable ip field.
var ErrNoIP = errors.New("'ip' key not found or empty in response")

// Resolver queries an IP echo service. It never retries; the caller decides
// when to ask again.
type Resolver struct {
	Client  *http.Client
	Timeout time.Duration
	Log     logr.Logger
}

// New returns a Resolver using the default HTTP client and timeout.
func New(log logr.Logger) *Resolver {
	return &Resolver{Client: http.DefaultClient, Timeout: DefaultTimeout, Log: log}
}

type response struct {
	IP string `json:"ip"`
}

// Resolve returns the public IP reported by serviceURL in canonical form.
func (r *Resolver) Resolve(ctx context.Context, serviceURL string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", serviceURL, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching public IP from %s: %w", serviceURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", serviceURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s returned %s: %s", serviceURL, resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("response from %s was not valid JSON: %w (body: %q)", serviceURL, err, body)
	}
	ipText := strings.TrimSpace(parsed.IP)
	if ipText == "" {
		return "", fmt.Errorf("%w from %s (body: %q)", ErrNoIP, serviceURL, body)
	}
	addr, err := netip.ParseAddr(ipText)
	if err != nil {
		return "", fmt.Errorf("parsing IP %q from %s: %w", ipText, serviceURL, err)
	}

	r.Log.V(1).Info("resolved public IP", "ip", addr.String(), "url", serviceURL)
	return addr.String(), nil
}
