package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name, e.g. GATEKEEPER_LDAP_URL.
const EnvPrefix = "GATEKEEPER_"

// parseEnv overlays GATEKEEPER_* variables from the process environment.
func parseEnv(cfg *Config) error {
	return parseEnvFrom(cfg, nil)
}

// parseEnvFrom reads from environ instead of the process environment when
// environ is non-nil. Unset variables leave fields untouched.
func parseEnvFrom(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
