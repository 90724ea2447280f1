package config

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	mdns "github.com/miekg/dns"
	"go.yaml.in/yaml/v3"
	"golang.org/x/net/publicsuffix"
)

// maxCheckIntervalSeconds is the largest interval a time.Duration can hold.
const maxCheckIntervalSeconds = math.MaxInt64 / int64(time.Second)

// parseInt accepts YAML integers and integer strings. Floats, booleans and
// collections are rejected.
func parseInt(n *yaml.Node) (int, bool) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, false
	}
	switch n.Tag {
	case "!!int":
		var v int
		if err := n.Decode(&v); err != nil {
			return 0, false
		}
		return v, true
	case "!!str":
		v, err := strconv.Atoi(strings.TrimSpace(n.Value))
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// validate normalizes the top-level containers of doc in place and returns the
// effective settings and the domains that survived validation. It never fails:
// bad entries are logged and skipped, bad settings fall back to defaults.
func validate(log logr.Logger, doc *yaml.Node) (Settings, []Domain) {
	root := resolve(doc.Content[0])

	gs, ok := lookup(root, keyGlobalSettings)
	if !ok || !isMapping(gs) {
		log.Info("'global_settings' section missing or invalid, initializing")
		gs = mappingNode()
		setValue(root, keyGlobalSettings, gs)
	}
	settings := validateSettings(log, gs)

	domainsNode, ok := lookup(root, keyDomains)
	if !ok || !isSequence(domainsNode) {
		log.Info("'domains' list missing or invalid, initializing")
		domainsNode = sequenceNode()
		setValue(root, keyDomains, domainsNode)
	}

	var domains []Domain
	for i, entry := range resolve(domainsNode).Content {
		if d, ok := validateDomain(log, i, entry); ok {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		log.Info("no valid domains or records configured to manage after validation", "reason", "empty")
	}
	return settings, domains
}

func validateSettings(log logr.Logger, gs *yaml.Node) Settings {
	s := Settings{
		CheckInterval: DefaultCheckInterval,
		IPServiceURL:  DefaultIPServiceURL,
	}

	if n, ok := lookup(gs, keyLastKnownIP); ok {
		if v, ok := scalarString(n); ok {
			s.LastKnownIP = strings.TrimSpace(v)
		}
	}

	if n, ok := lookup(gs, keyCheckInterval); ok && !isNull(n) {
		seconds, ok := parseInt(n)
		switch {
		case !ok:
			log.Info("invalid check_interval_seconds, using default",
				"reason", "not an integer", "value", display(n), "default", DefaultCheckInterval)
		case seconds <= 0:
			log.Info("check_interval_seconds must be positive, using default",
				"reason", "not positive", "value", seconds, "default", DefaultCheckInterval)
		case int64(seconds) > maxCheckIntervalSeconds:
			log.Info("check_interval_seconds is too large, using default",
				"reason", "out of range", "value", seconds, "max", maxCheckIntervalSeconds, "default", DefaultCheckInterval)
		default:
			s.CheckInterval = time.Duration(seconds) * time.Second
		}
	}

	if n, ok := lookup(gs, keyIPServiceURL); ok && !isNull(n) {
		v, _ := scalarString(n)
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			s.IPServiceURL = v
		} else {
			log.Info("invalid public_ip_service_url, using default",
				"reason", "scheme must be http or https", "value", display(n), "default", DefaultIPServiceURL)
		}
	}
	return s
}

func validateDomain(log logr.Logger, i int, entry *yaml.Node) (Domain, bool) {
	nameNode, hasName := lookup(entry, keyDomainName)
	recordsNode, hasRecords := lookup(entry, keyRecords)
	if !isMapping(entry) || !hasName || !hasRecords {
		log.Info("domain entry is invalid or missing 'domain_name'/'records', skipping",
			"reason", "malformed", "index", i)
		return Domain{}, false
	}
	if !isSequence(recordsNode) || len(resolve(recordsNode).Content) == 0 {
		log.Info("'records' must be a non-empty list, skipping domain",
			"reason", "no records", "index", i, "domain", display(nameNode))
		return Domain{}, false
	}
	name, _ := scalarString(nameNode)
	name = strings.TrimSpace(name)
	if name == "" {
		log.Info("domain entry has empty 'domain_name', skipping",
			"reason", "empty name", "index", i)
		return Domain{}, false
	}
	checkDomainName(log, name)

	d := Domain{Name: name}
	for j, item := range resolve(recordsNode).Content {
		if r, ok := validateRecord(log, name, j, item); ok {
			d.Records = append(d.Records, r)
		}
	}
	if len(d.Records) == 0 {
		log.Info("no valid records found for domain, skipping", "reason", "no valid records", "domain", name)
		return Domain{}, false
	}
	return d, true
}

func validateRecord(log logr.Logger, domain string, j int, item *yaml.Node) (Record, bool) {
	nameNode, hasName := lookup(item, keyName)
	typeNode, hasType := lookup(item, keyType)
	ttlNode, hasTTL := lookup(item, keyTTL)
	if !isMapping(item) || !hasName || !hasType || !hasTTL {
		log.Info("record is invalid or missing keys (name, type, ttl), skipping record",
			"reason", "malformed", "domain", domain, "index", j)
		return Record{}, false
	}

	name, ok := scalarString(nameNode)
	if !ok {
		log.Info("record name must be a string, skipping record",
			"reason", "invalid name", "domain", domain, "index", j, "value", display(nameNode))
		return Record{}, false
	}
	name = strings.TrimSpace(name)

	recordType, _ := scalarString(typeNode)
	recordType = strings.ToUpper(strings.TrimSpace(recordType))
	if recordType != TypeA && recordType != TypeAAAA {
		log.Info("record has invalid type, skipping record",
			"reason", "invalid type", "domain", domain, "record", name, "index", j, "value", display(typeNode))
		return Record{}, false
	}

	ttl, ok := parseInt(ttlNode)
	if !ok {
		log.Info("record TTL is not a valid integer, skipping record",
			"reason", "invalid ttl", "domain", domain, "record", name, "index", j, "value", display(ttlNode))
		return Record{}, false
	}
	if ttl <= 0 {
		log.Info("record TTL must be positive, skipping record",
			"reason", "invalid ttl", "domain", domain, "record", name, "index", j, "value", ttl)
		return Record{}, false
	}

	return Record{Name: name, Type: recordType, TTL: ttl}, true
}

// checkDomainName only warns; the provider is the authority on what it accepts.
func checkDomainName(log logr.Logger, name string) {
	if _, ok := mdns.IsDomainName(name); !ok {
		log.Info("domain_name does not look like a valid domain name", "reason", "syntax", "domain", name)
		return
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(name, "."))
	if err != nil {
		log.V(1).Info("could not determine registrable domain", "domain", name, "error", err.Error())
		return
	}
	if !strings.EqualFold(apex, strings.TrimSuffix(name, ".")) {
		log.Info("domain_name is not a registrable domain, records are usually managed on the apex",
			"reason", "not apex", "domain", name, "apex", apex)
	}
}
