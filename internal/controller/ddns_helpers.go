package controller

import (
	"fmt"
	"strings"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

// FormatDomains returns a human-readable summary of the active domain set.
func FormatDomains(domains []config.Domain) string {
	if len(domains) == 0 {
		return "no domains configured"
	}

	var b strings.Builder
	for i, d := range domains {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: ", d.Name)
		for j, r := range d.Records {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (Type: %s, TTL: %d)", displayName(r.Name), r.Type, r.TTL)
		}
	}
	return b.String()
}

// recordCount returns the number of records across all domains.
func recordCount(domains []config.Domain) int {
	n := 0
	for _, d := range domains {
		n += len(d.Records)
	}
	return n
}

func displayName(name string) string {
	if dns.IsApex(name) {
		return "@"
	}
	return name
}
