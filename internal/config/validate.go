package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"outreachd/internal/platform"
)

// defaultSmartMax mirrors the dispatch loop's smart-delay ceiling; a
// smart_min at or above it with no explicit smart_max leaves no range to
// draw from.
const defaultSmartMax = 2 * time.Minute

// Validate checks the whole config tree. It is installed as the Watch()
// validator so a bad edit never replaces a running good config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, ok := platform.ParseMode(cfg.Mode); !ok {
		return fmt.Errorf("mode: unknown value %q (want mail or chat)", cfg.Mode)
	}
	if strings.TrimSpace(cfg.Vendor.BaseURL) == "" {
		return fmt.Errorf("vendor.base_url: required")
	}
	if _, err := ParseDurationField("vendor.timeout", cfg.Vendor.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("inbound_poll", cfg.InboundPoll); err != nil {
		return err
	}
	if _, err := ParseDurationField("hot_queue.ttl", cfg.HotQueue.TTL); err != nil {
		return err
	}
	if cfg.HotQueue.GlobalRatePerMin < 0 {
		return fmt.Errorf("hot_queue.global_rate_per_min: must be >= 0")
	}
	if s := cfg.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
		{"observability.idle_timeout", cfg.Observability.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if t := cfg.Telemetry; t != nil {
		if _, err := ParseDurationField("telemetry.report_timeout", t.ReportTimeout); err != nil {
			return err
		}
	}

	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("accounts: at least one account is required")
	}
	for name, acct := range cfg.Accounts {
		if err := validateAccount(name, acct); err != nil {
			return err
		}
	}
	return nil
}

func validateAccount(name string, a AccountConfig) error {
	p := "accounts." + name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("accounts: empty account name")
	}
	if !platform.ValidPool(platform.Pool(a.Pool)) {
		return fmt.Errorf("%s.pool: unknown pool %q", p, a.Pool)
	}
	if platform.Pool(a.Pool) == platform.PoolCustomIDs && len(a.CustomIDs) == 0 {
		return fmt.Errorf("%s: pool custom-ids requires custom_ids", p)
	}
	if a.Enabled && len(a.Templates) == 0 {
		return fmt.Errorf("%s.templates: at least one template is required", p)
	}

	if _, err := ParseDurationField(p+".rotation.window", a.Rotation.Window); err != nil {
		return err
	}
	min, err := ParseDurationField(p+".delay.smart_min", a.Delay.SmartMin)
	if err != nil {
		return err
	}
	max, err := ParseDurationField(p+".delay.smart_max", a.Delay.SmartMax)
	if err != nil {
		return err
	}
	if min > 0 && max > 0 && min > max {
		return fmt.Errorf("%s.delay: smart_min must be <= smart_max", p)
	}
	if a.Delay.Smart && max == 0 && min >= defaultSmartMax {
		return fmt.Errorf("%s.delay: smart_min %s needs an explicit smart_max above it", p, a.Delay.SmartMin)
	}
	if _, err := ParseDurationField(p+".delay.fixed", a.Delay.Fixed); err != nil {
		return err
	}
	if a.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%s.retry.max_attempts: must be >= 0", p)
	}
	if _, err := ParseDurationField(p+".retry.cooldown", a.Retry.Cooldown); err != nil {
		return err
	}

	if ar := a.AutoReply; ar != nil && ar.Enabled {
		if len(ar.Steps) == 0 {
			return fmt.Errorf("%s.auto_reply.steps: at least one step is required", p)
		}
		for i, st := range ar.Steps {
			if _, err := ParseDurationField(fmt.Sprintf("%s.auto_reply.steps[%d].delay", p, i), st.Delay); err != nil {
				return err
			}
			if strings.TrimSpace(st.Body) == "" {
				return fmt.Errorf("%s.auto_reply.steps[%d].body: empty", p, i)
			}
		}
		if _, err := ParseDurationField(p+".auto_reply.send_timeout", ar.SendTimeout); err != nil {
			return err
		}
	}

	if ah := a.ActiveHours; ah != nil {
		for _, spec := range []struct{ field, expr string }{
			{"start", ah.Start},
			{"stop", ah.Stop},
		} {
			if strings.TrimSpace(spec.expr) == "" {
				return fmt.Errorf("%s.active_hours.%s: empty cron spec", p, spec.field)
			}
			if _, err := cron.ParseStandard(spec.expr); err != nil {
				return fmt.Errorf("%s.active_hours.%s: %w", p, spec.field, err)
			}
		}
	}
	return nil
}
