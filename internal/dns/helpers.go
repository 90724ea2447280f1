package dns

import (
	mdns "github.com/miekg/dns"
)

// IsApex reports whether a relative record name refers to the domain itself.
func IsApex(name string) bool {
	return name == "" || name == "@"
}

// FQDN joins a relative record name and its domain into trailing-dot form.
// e.g. ("", "example.com") → "example.com."
// e.g. ("www", "example.com") → "www.example.com."
func FQDN(name, domain string) string {
	if IsApex(name) {
		return mdns.Fqdn(domain)
	}
	return mdns.Fqdn(name + "." + mdns.Fqdn(domain))
}
