package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides are secrets that should not live in the config file.
// They are read with the OUTREACHD_ prefix, e.g. OUTREACHD_NOTIFY_TOKEN.
type envOverrides struct {
	NotifyToken        string `envconfig:"NOTIFY_TOKEN"`
	ObservabilityToken string `envconfig:"OBSERVABILITY_TOKEN"`
	TelemetryEndpoint  string `envconfig:"TELEMETRY_ENDPOINT"`
}

// ApplyEnvOverrides layers environment secrets over the parsed file.
// Per-account credentials come from OUTREACHD_ACCOUNT_<NAME>_CREDENTIALS,
// where <NAME> is the account key uppercased with '-' mapped to '_'.
func ApplyEnvOverrides(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process("outreachd", &ov); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if ov.NotifyToken != "" && cfg.Notify != nil {
		cfg.Notify.Token = ov.NotifyToken
	}
	if ov.ObservabilityToken != "" {
		cfg.Observability.Token = ov.ObservabilityToken
	}
	if ov.TelemetryEndpoint != "" && cfg.Telemetry != nil {
		cfg.Telemetry.Endpoint = ov.TelemetryEndpoint
	}

	for name, acct := range cfg.Accounts {
		key := "OUTREACHD_ACCOUNT_" + envKey(name) + "_CREDENTIALS"
		if v := os.Getenv(key); v != "" {
			acct.Credentials = v
			cfg.Accounts[name] = acct
		}
	}
	return nil
}

func envKey(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
