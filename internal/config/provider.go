package config

import (
	"os"
	"strings"
)

// Optional provider overrides. Unset variables keep the provider's defaults.
const (
	ProviderURLEnv     = "MIJNHOST_API_URL"
	ProviderTimeoutEnv = "MIJNHOST_TIMEOUT"
)

// ProviderSettings builds the settings map handed to dns.NewProvider from the
// API key and the optional environment overrides. Values may reference other
// variables as ${VAR}.
func ProviderSettings(apiKey, userAgent string) map[string]string {
	settings := map[string]string{
		"api_key":    apiKey,
		"user_agent": userAgent,
	}
	if v := strings.TrimSpace(os.ExpandEnv(os.Getenv(ProviderURLEnv))); v != "" {
		settings["base_url"] = v
	}
	if v := strings.TrimSpace(os.Getenv(ProviderTimeoutEnv)); v != "" {
		settings["timeout"] = v
	}
	return settings
}
