package controller

import (
	"testing"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
)

func TestFormatDomains(t *testing.T) {
	domains := []config.Domain{
		{Name: "example.com", Records: []config.Record{
			{Name: "", Type: "A", TTL: 300},
			{Name: "vpn", Type: "AAAA", TTL: 60},
		}},
		{Name: "example.org", Records: []config.Record{
			{Name: "@", Type: "A", TTL: 3600},
		}},
	}

	want := "example.com: @ (Type: A, TTL: 300), vpn (Type: AAAA, TTL: 60); example.org: @ (Type: A, TTL: 3600)"
	if got := FormatDomains(domains); got != want {
		t.Errorf("unexpected summary\n got: %s\nwant: %s", got, want)
	}
	if got := recordCount(domains); got != 3 {
		t.Errorf("expected 3 records, got %d", got)
	}
}

func TestFormatDomains_Empty(t *testing.T) {
	if got := FormatDomains(nil); got != "no domains configured" {
		t.Errorf("unexpected summary for empty set: %q", got)
	}
}
