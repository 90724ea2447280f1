package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.yaml.in/yaml/v3"
	"k8s.io/client-go/util/retry"
)

const (
	DefaultPath          = "/app/config/dns_config.yml"
	DefaultTemplatePath  = "/app/dns_config.default.yml"
	DefaultCheckInterval = 300 * time.Second
	DefaultIPServiceURL  = "https://api.ipify.org?format=json"

	TypeA    = "A"
	TypeAAAA = "AAAA"
)

// ErrParse marks a configuration document that exists but is not valid YAML.
var ErrParse = errors.New("configuration document could not be parsed")

// Settings are the effective global settings after defaults were applied.
type Settings struct {
	LastKnownIP   string
	CheckInterval time.Duration
	IPServiceURL  string
}

// Record is a validated DNS record. An empty Name or "@" addresses the apex.
type Record struct {
	Name string
	Type string
	TTL  int
}

// Domain is a validated domain with at least one record.
type Domain struct {
	Name    string
	Records []Record
}

// Config is the result of a successful Load. It keeps the full document so
// Save can rewrite it without losing unknown keys, comments or invalid entries
// the user still has to fix.
type Config struct {
	Settings Settings
	Domains  []Domain

	doc *yaml.Node
}

// Store reads and writes the persisted configuration document. It keeps no
// state between calls; the caller owns the returned Config.
type Store struct {
	Path         string
	TemplatePath string
	Log          logr.Logger
}

// NewStore returns a Store for the document at path, seeded from templatePath
// when the document does not exist yet.
func NewStore(path, templatePath string, log logr.Logger) *Store {
	return &Store{Path: path, TemplatePath: templatePath, Log: log}
}

// Load reads, normalizes and validates the configuration document.
//
// A missing document is seeded from the template; if that fails too, Load
// continues with an empty configuration. Only a document that exists but
// cannot be read or parsed is reported as an error.
func (s *Store) Load() (*Config, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if root := resolve(doc.Content[0]); root.Kind != yaml.MappingNode {
		s.Log.Info("configuration document is not a mapping, initializing with default structure",
			"reason", "unexpected structure", "path", s.Path, "kind", root.Tag)
		doc = emptyDocument()
	}

	settings, domains := validate(s.Log, doc)
	return &Config{Settings: settings, Domains: domains, doc: doc}, nil
}

func (s *Store) read() (*yaml.Node, error) {
	data, err := os.ReadFile(s.Path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		s.Log.Info("configuration file not found", "path", s.Path)
		return s.seed(), nil
	default:
		return nil, fmt.Errorf("reading configuration file %s: %w", s.Path, err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, s.Path, err)
	}
	if doc == nil {
		s.Log.Info("configuration file is empty, initializing with default structure", "path", s.Path)
		return emptyDocument(), nil
	}
	return doc, nil
}

// seed copies the default template into place. Every failure here degrades to
// an empty in-memory document.
func (s *Store) seed() *yaml.Node {
	s.Log.Info("creating configuration from default template", "template", s.TemplatePath, "path", s.Path)

	data, err := os.ReadFile(s.TemplatePath)
	if err != nil {
		s.Log.Error(err, "default configuration template unavailable, initializing with empty structure",
			"critical", true, "template", s.TemplatePath)
		return emptyDocument()
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		s.Log.Error(err, "could not create configuration directory, initializing with empty structure",
			"critical", true, "path", s.Path)
		return emptyDocument()
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		s.Log.Error(err, "could not write configuration from default template, initializing with empty structure",
			"critical", true, "path", s.Path)
		return emptyDocument()
	}
	s.Log.Info("default configuration copied", "path", s.Path)

	doc, err := parseDocument(data)
	if err != nil {
		s.Log.Error(err, "default configuration template is not valid YAML, initializing with empty structure",
			"critical", true, "template", s.TemplatePath)
		return emptyDocument()
	}
	if doc == nil {
		s.Log.Info("default configuration template is empty, initializing with empty structure",
			"reason", "empty template", "template", s.TemplatePath)
		return emptyDocument()
	}
	return doc
}

// Save writes cfg.Settings into global_settings and rewrites the whole
// document. The domains list is kept as the user wrote it; it is only
// recreated from cfg.Domains when the document lacks one.
func (s *Store) Save(cfg *Config) error {
	if cfg.doc == nil || len(cfg.doc.Content) == 0 || !isMapping(cfg.doc.Content[0]) {
		cfg.doc = newDocument(cfg.Domains)
	}
	root := resolve(cfg.doc.Content[0])

	gs, ok := lookup(root, keyGlobalSettings)
	if !ok || !isMapping(gs) {
		gs = mappingNode()
		setValue(root, keyGlobalSettings, gs)
	}
	gs = resolve(gs)
	setScalar(gs, keyLastKnownIP, "!!str", cfg.Settings.LastKnownIP)
	setScalar(gs, keyCheckInterval, "!!int", strconv.Itoa(int(cfg.Settings.CheckInterval/time.Second)))
	setScalar(gs, keyIPServiceURL, "!!str", cfg.Settings.IPServiceURL)

	if d, ok := lookup(root, keyDomains); !ok || !isSequence(d) {
		setValue(root, keyDomains, domainsNode(cfg.Domains))
	}

	data, err := encodeDocument(cfg.doc)
	if err != nil {
		return err
	}
	err = retry.OnError(retry.DefaultBackoff, isTransientWriteError, func() error {
		return os.WriteFile(s.Path, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("writing configuration file %s: %w", s.Path, err)
	}
	s.Log.Info("IP address and current settings cached", "ip", cfg.Settings.LastKnownIP, "path", s.Path)
	return nil
}

func isTransientWriteError(err error) bool {
	return !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist)
}

func domainsNode(domains []Domain) *yaml.Node {
	seq := sequenceNode()
	for _, d := range domains {
		records := sequenceNode()
		for _, r := range d.Records {
			rec := mappingNode()
			setScalar(rec, keyName, "!!str", r.Name)
			setScalar(rec, keyType, "!!str", r.Type)
			setScalar(rec, keyTTL, "!!int", strconv.Itoa(r.TTL))
			records.Content = append(records.Content, rec)
		}
		entry := mappingNode()
		setScalar(entry, keyDomainName, "!!str", d.Name)
		setValue(entry, keyRecords, records)
		seq.Content = append(seq.Content, entry)
	}
	return seq
}
