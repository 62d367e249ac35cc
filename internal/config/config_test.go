package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

const minimalJSON = `{
  "mode": "chat",
  "vendor": {"base_url": "https://api.example.test"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "accounts": {
    "alpha": {
      "enabled": true,
      "pool": "online",
      "templates": ["hello there"],
      "retry": {"max_attempts": 3, "cooldown": "60s"}
    }
  }
}`

func TestParseJSON(t *testing.T) {
	m := writeConfig(t, "config.json", minimalJSON)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mode != "chat" {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	a := cfg.Accounts["alpha"]
	if a.Pool != "online" || len(a.Templates) != 1 {
		t.Fatalf("account parsed wrong: %+v", a)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestParseYAML(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
mode: mail
vendor:
  base_url: https://api.example.test
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
accounts:
  alpha:
    enabled: true
    pool: payers
    templates:
      - "hi"
    delay:
      smart: true
      smart_min: 15s
      smart_max: 2m
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Accounts["alpha"].Delay.Smart {
		t.Fatal("yaml nested fields lost")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, "config.json", `{"mode": "chat", "surprise": 1}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		return &Config{
			Mode:   "chat",
			Vendor: VendorConfig{BaseURL: "https://api.example.test"},
			Accounts: map[string]AccountConfig{
				"alpha": {Enabled: true, Pool: "online", Templates: []string{"hi"}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "fax" }},
		{"missing vendor url", func(c *Config) { c.Vendor.BaseURL = "" }},
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"bad pool", func(c *Config) {
			a := c.Accounts["alpha"]
			a.Pool = "everyone"
			c.Accounts["alpha"] = a
		}},
		{"custom pool without ids", func(c *Config) {
			a := c.Accounts["alpha"]
			a.Pool = "custom-ids"
			c.Accounts["alpha"] = a
		}},
		{"enabled without templates", func(c *Config) {
			a := c.Accounts["alpha"]
			a.Templates = nil
			c.Accounts["alpha"] = a
		}},
		{"smart min above max", func(c *Config) {
			a := c.Accounts["alpha"]
			a.Delay = DelayConfig{Smart: true, SmartMin: "3m", SmartMax: "1m"}
			c.Accounts["alpha"] = a
		}},
		{"smart min without max above default ceiling", func(c *Config) {
			a := c.Accounts["alpha"]
			a.Delay = DelayConfig{Smart: true, SmartMin: "3m"}
			c.Accounts["alpha"] = a
		}},
		{"bad cron spec", func(c *Config) {
			a := c.Accounts["alpha"]
			a.ActiveHours = &ActiveHoursConfig{Start: "not cron", Stop: "0 22 * * *"}
			c.Accounts["alpha"] = a
		}},
		{"auto reply without steps", func(c *Config) {
			a := c.Accounts["alpha"]
			a.AutoReply = &AutoReplyConfig{Enabled: true}
			c.Accounts["alpha"] = a
		}},
		{"negative-ish duration", func(c *Config) { c.HotQueue.TTL = "-5m" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}
}

func TestValidateAcceptsActiveHours(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Mode:   "mail",
		Vendor: VendorConfig{BaseURL: "https://api.example.test"},
		Accounts: map[string]AccountConfig{
			"alpha": {
				Enabled:     true,
				Pool:        "online",
				Templates:   []string{"hi"},
				ActiveHours: &ActiveHoursConfig{Start: "0 9 * * *", Stop: "0 22 * * *"},
			},
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OUTREACHD_NOTIFY_TOKEN", "secret-token")
	t.Setenv("OUTREACHD_ACCOUNT_ALPHA_CREDENTIALS", "blob")

	cfg := &Config{
		Notify:   &NotifyConfig{Enabled: true},
		Accounts: map[string]AccountConfig{"alpha": {}},
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if cfg.Notify.Token != "secret-token" {
		t.Fatalf("notify token = %q", cfg.Notify.Token)
	}
	if cfg.Accounts["alpha"].Credentials != "blob" {
		t.Fatalf("credentials = %q", cfg.Accounts["alpha"].Credentials)
	}
}

func TestParseDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 45s "); err != nil || d != 45*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative durations must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Mode: "chat",
		Accounts: map[string]AccountConfig{
			"alpha": {Pool: "online"},
			"beta":  {Pool: "online"},
		},
	}
	newCfg := &Config{
		Mode: "mail",
		Accounts: map[string]AccountConfig{
			"alpha": {Pool: "payers"},
			"beta":  {Pool: "online"},
		},
	}

	sections, _, changed := SummarizeConfigChange(oldCfg, newCfg)
	wantSections := map[string]bool{"mode": true, "accounts": true}
	for _, s := range sections {
		if !wantSections[s] {
			t.Fatalf("unexpected changed section %q", s)
		}
		delete(wantSections, s)
	}
	if len(wantSections) != 0 {
		t.Fatalf("missing sections: %v", wantSections)
	}
	if len(changed) != 1 || changed[0] != "alpha" {
		t.Fatalf("changed accounts = %v, want [alpha]", changed)
	}

	if sections, _, _ := SummarizeConfigChange(newCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs reported changes: %v", sections)
	}
}
