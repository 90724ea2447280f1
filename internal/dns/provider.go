package dns

import "context"

// Record is a single DNS record to push to a provider.
type Record struct {
	Domain string // zone the provider manages, e.g. "example.com"
	Name   string // relative name; "" or "@" for the apex
	Type   string // "A" or "AAAA"
	Value  string // IP address
	TTL    int
}

// FQDN returns the trailing-dot form of the record's name.
func (r Record) FQDN() string {
	return FQDN(r.Name, r.Domain)
}

// DisplayName returns the record's name as written in zone files and logs.
func (r Record) DisplayName() string {
	if IsApex(r.Name) {
		return "@"
	}
	return r.Name
}

// Provider is the interface that DNS providers must implement.
type Provider interface {
	// Upsert creates the record or updates it in place. It must be idempotent.
	Upsert(ctx context.Context, record Record) error
}
