package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logrtesting "github.com/go-logr/logr/testing"
	"go.yaml.in/yaml/v3"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-ddns/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/ipresolve"
)

// fakeMijnHost is a minimal mijn.host DNS API that records every PATCH.
type fakeMijnHost struct {
	mu      sync.Mutex
	status  int
	apiKey  string
	calls   []string // "PATCH /api/v2/domains/{domain}/dns"
	records []record
}

type record struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

func newFakeMijnHost() *fakeMijnHost {
	return &fakeMijnHost{status: http.StatusOK}
}

func (f *fakeMijnHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("API-Key") != f.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]interface{}{"status": 401, "status_description": "Invalid API key"})
		return
	}
	if r.Method != http.MethodPatch || !strings.HasPrefix(r.URL.Path, "/api/v2/domains/") {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Record record `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.records = append(f.records, body.Record)

	w.WriteHeader(f.status)
	if f.status >= 300 {
		writeJSON(w, map[string]interface{}{"status": f.status, "status_description": "Record rejected"})
		return
	}
	writeJSON(w, map[string]interface{}{"status": 200, "status_description": "Request successful"})
}

func (f *fakeMijnHost) snapshot() ([]string, []record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]record(nil), f.records...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// publicIP is the address the fake echo service reports.
type publicIP struct {
	mu sync.Mutex
	ip string
}

func (p *publicIP) set(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ip = ip
}

func (p *publicIP) get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ip
}

func echoServer(t *testing.T, ip *publicIP) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"ip": ip.get()})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	reconciler *controller.DDNSReconciler
	provider   *fakeMijnHost
	path       string
}

func newHarness(t *testing.T, document, templatePath string, ip *publicIP) *harness {
	t.Helper()
	const apiKey = "integration-key"

	provider := newFakeMijnHost()
	provider.apiKey = apiKey
	providerSrv := httptest.NewServer(provider)
	t.Cleanup(providerSrv.Close)
	t.Setenv(config.ProviderURLEnv, providerSrv.URL+"/api/v2")

	echo := echoServer(t, ip)
	path := filepath.Join(t.TempDir(), "config", "dns_config.yml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if document != "" {
		document = strings.ReplaceAll(document, "ECHO_URL", echo.URL)
		if err := os.WriteFile(path, []byte(document), 0644); err != nil {
			t.Fatal(err)
		}
	}

	log := logrtesting.NewTestLogger(t)
	return &harness{
		provider: provider,
		path:     path,
		reconciler: &controller.DDNSReconciler{
			Store:    config.NewStore(path, templatePath, log.WithName("config")),
			Changes:  config.NewPollDetector(path, log.WithName("config")),
			Resolver: ipresolve.New(log.WithName("ipresolve")),
			NewUpdater: func(key string) (controller.RecordUpdater, error) {
				p, err := dns.NewProvider("mijnhost", log.WithName("dns-mijnhost"), config.ProviderSettings(key, "yk-ddns/test"))
				if err != nil {
					return nil, err
				}
				return dns.NewUpdater(p, log.WithName("dns-updater")), nil
			},
			APIKey: func() (string, error) { return apiKey, nil },
			Clock:  testingclock.NewFakeClock(time.Unix(1700000000, 0)),
			Log:    log.WithName("ddns-controller"),
		},
	}
}

func (h *harness) persistedIP(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		GlobalSettings struct {
			LastKnownIP string `yaml:"last_known_ip"`
		} `yaml:"global_settings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("persisted document is not valid YAML: %v", err)
	}
	return doc.GlobalSettings.LastKnownIP
}

const exampleDocument = `# managed by yk-ddns
global_settings:
  last_known_ip: 203.0.113.1
  check_interval_seconds: 120
  public_ip_service_url: ECHO_URL/?format=json
domains:
  - domain_name: example.com
    records:
      - name: "@"
        type: A
        ttl: 300
`

func TestIPChangeUpdatesRecordAndPersists(t *testing.T) {
	ip := &publicIP{ip: "203.0.113.9"}
	h := newHarness(t, exampleDocument, "", ip)

	if wait := h.reconciler.Reconcile(context.Background()); wait != 120*time.Second {
		t.Errorf("expected configured interval 120s, got %s", wait)
	}

	calls, records := h.provider.snapshot()
	if len(calls) != 1 || calls[0] != "PATCH /api/v2/domains/example.com/dns" {
		t.Fatalf("expected one PATCH to the example.com zone, got %v", calls)
	}
	want := record{Type: "A", Name: "example.com.", Value: "203.0.113.9", TTL: 300}
	if records[0] != want {
		t.Errorf("expected record %+v, got %+v", want, records[0])
	}
	if got := h.persistedIP(t); got != "203.0.113.9" {
		t.Errorf("expected persisted last_known_ip 203.0.113.9, got %q", got)
	}

	data, _ := os.ReadFile(h.path)
	if !strings.HasPrefix(string(data), "# managed by yk-ddns") {
		t.Errorf("expected document comments to survive the rewrite, got:\n%s", data)
	}

	// Same IP on the next cycle: nothing is sent.
	h.reconciler.Reconcile(context.Background())
	if calls, _ := h.provider.snapshot(); len(calls) != 1 {
		t.Errorf("expected no further provider calls, got %v", calls)
	}
}

func TestRejectedUpdateKeepsCachedIP(t *testing.T) {
	ip := &publicIP{ip: "203.0.113.9"}
	h := newHarness(t, exampleDocument, "", ip)
	h.provider.status = http.StatusUnprocessableEntity

	h.reconciler.Reconcile(context.Background())
	if got := h.persistedIP(t); got != "203.0.113.1" {
		t.Errorf("expected persisted last_known_ip to stay 203.0.113.1, got %q", got)
	}

	// The whole batch is retried on the next cycle and cached once accepted.
	h.reconciler.Reconcile(context.Background())
	if calls, _ := h.provider.snapshot(); len(calls) != 2 {
		t.Fatalf("expected the update to be retried, got %v", calls)
	}

	h.provider.mu.Lock()
	h.provider.status = http.StatusOK
	h.provider.mu.Unlock()
	h.reconciler.Reconcile(context.Background())
	if got := h.persistedIP(t); got != "203.0.113.9" {
		t.Errorf("expected persisted last_known_ip 203.0.113.9 after success, got %q", got)
	}
}

func TestExternalEditIsPickedUp(t *testing.T) {
	ip := &publicIP{ip: "203.0.113.9"}
	h := newHarness(t, exampleDocument, "", ip)
	h.reconciler.Reconcile(context.Background())

	data, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	edited := string(data) + "  - domain_name: example.org\n    records:\n      - name: vpn\n        type: aaaa\n        ttl: 60\n"
	edited = strings.Replace(edited, "last_known_ip: 203.0.113.9", "last_known_ip: \"\"", 1)
	if err := os.WriteFile(h.path, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	// make sure the modification time moves even on coarse filesystems
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(h.path, future, future); err != nil {
		t.Fatal(err)
	}

	ip.set("2001:db8::1")
	h.reconciler.Reconcile(context.Background())

	_, records := h.provider.snapshot()
	if len(records) != 3 {
		t.Fatalf("expected both domains to be updated after the edit, got %+v", records)
	}
	if records[2].Name != "vpn.example.org." || records[2].Type != "AAAA" {
		t.Errorf("expected AAAA update for vpn.example.org., got %+v", records[2])
	}
	if got := h.persistedIP(t); got != "2001:db8::1" {
		t.Errorf("expected persisted last_known_ip 2001:db8::1, got %q", got)
	}
}

type staticResolver string

func (s staticResolver) Resolve(context.Context, string) (string, error) { return string(s), nil }

func TestMissingDocumentAndTemplateRunsEmpty(t *testing.T) {
	ip := &publicIP{ip: "203.0.113.9"}
	h := newHarness(t, "", filepath.Join(t.TempDir(), "absent.yml"), ip)
	// with no document the default lookup service would be used
	h.reconciler.Resolver = staticResolver("203.0.113.9")

	if wait := h.reconciler.Reconcile(context.Background()); wait != config.DefaultCheckInterval {
		t.Errorf("expected default interval, got %s", wait)
	}
	if err := h.reconciler.ReadyCheck(nil); err != nil {
		t.Errorf("expected reconciler to be ready with an empty configuration, got %v", err)
	}
	if calls, _ := h.provider.snapshot(); len(calls) != 0 {
		t.Errorf("expected no provider calls without domains, got %v", calls)
	}
	if got := h.persistedIP(t); got != "203.0.113.9" {
		t.Errorf("expected the new IP to be cached, got %q", got)
	}
}

func TestSeedsDocumentFromTemplate(t *testing.T) {
	ip := &publicIP{ip: "203.0.113.9"}
	echo := echoServer(t, ip)
	template := filepath.Join(t.TempDir(), "dns_config.default.yml")
	content := strings.ReplaceAll(exampleDocument, "ECHO_URL", echo.URL)
	if err := os.WriteFile(template, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, "", template, ip)
	h.reconciler.Reconcile(context.Background())

	if calls, _ := h.provider.snapshot(); len(calls) != 1 {
		t.Fatalf("expected the seeded domain to be updated, got %v", calls)
	}
	if got := h.persistedIP(t); got != "203.0.113.9" {
		t.Errorf("expected persisted last_known_ip 203.0.113.9, got %q", got)
	}
}
