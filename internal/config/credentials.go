package config

import (
	"errors"
	"os"
	"strings"
)

// APIKeyEnv names the environment variable holding the DNS provider API key.
const APIKeyEnv = "MIJNHOST_API_KEY"

// ErrMissingAPIKey is returned when the API key variable is unset or blank.
var ErrMissingAPIKey = errors.New(APIKeyEnv + " environment variable is required")

// LoadAPIKey reads the provider API key from the environment. A blank value
// counts as missing.
func LoadAPIKey() (string, error) {
	key := os.Getenv(APIKeyEnv)
	if strings.TrimSpace(key) == "" {
		return "", ErrMissingAPIKey
	}
	return key, nil
}
