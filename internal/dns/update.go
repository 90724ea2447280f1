package dns

import (
	"context"

	"github.com/go-logr/logr"
)

// Updater turns provider errors into a success flag plus a log line.
type Updater struct {
	Provider Provider
	Log      logr.Logger
}

// NewUpdater wraps p so failures are logged instead of returned.
func NewUpdater(p Provider, log logr.Logger) *Updater {
	return &Updater{Provider: p, Log: log}
}

// UpdateRecord pushes ip to a single record. It reports whether the provider
// accepted the change and never retries.
func (u *Updater) UpdateRecord(ctx context.Context, ip, domain, name, recordType string, ttl int) bool {
	record := Record{Domain: domain, Name: name, Type: recordType, Value: ip, TTL: ttl}
	log := u.Log.WithValues("domain", domain, "record", record.DisplayName(), "type", recordType)

	log.Info("updating DNS record", "fqdn", record.FQDN(), "ip", ip, "ttl", ttl)
	if err := u.Provider.Upsert(ctx, record); err != nil {
		log.Error(err, "failed to update DNS record", "ip", ip)
		return false
	}
	log.Info("DNS record updated", "ip", ip)
	return true
}
