package config

import (
	"reflect"
	"sort"
	"strings"

	logx "outreachd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens
// or credentials), and (3) the names of accounts whose settings changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if strings.TrimSpace(oldCfg.Mode) != strings.TrimSpace(newCfg.Mode) {
		changed = append(changed, "mode")
		attrs = append(attrs, logx.String("mode", strings.TrimSpace(newCfg.Mode)))
	}

	if oldCfg.Vendor != newCfg.Vendor ||
		strings.TrimSpace(oldCfg.InboundPoll) != strings.TrimSpace(newCfg.InboundPoll) {
		changed = append(changed, "vendor")
		attrs = append(attrs,
			logx.String("vendor.base_url", strings.TrimSpace(newCfg.Vendor.BaseURL)),
			logx.String("vendor.timeout", strings.TrimSpace(newCfg.Vendor.Timeout)),
			logx.String("inbound_poll", strings.TrimSpace(newCfg.InboundPoll)),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Observability (never log token)
	o, n := oldCfg.Observability, newCfg.Observability
	if o.Enabled != n.Enabled ||
		strings.TrimSpace(o.Addr) != strings.TrimSpace(n.Addr) ||
		o.AllowInsecure != n.AllowInsecure ||
		strings.TrimSpace(o.ReadTimeout) != strings.TrimSpace(n.ReadTimeout) ||
		strings.TrimSpace(o.WriteTimeout) != strings.TrimSpace(n.WriteTimeout) ||
		strings.TrimSpace(o.IdleTimeout) != strings.TrimSpace(n.IdleTimeout) ||
		(strings.TrimSpace(o.Token) != "") != (strings.TrimSpace(n.Token) != "") {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", n.Enabled),
			logx.String("observability.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("observability.token_set", strings.TrimSpace(n.Token) != ""),
			logx.Bool("observability.allow_insecure", n.AllowInsecure),
		)
	}

	// Notify (never log token)
	oN, nN := oldCfg.Notify, newCfg.Notify
	if oN == nil {
		oN = &NotifyConfig{}
	}
	if nN == nil {
		nN = &NotifyConfig{}
	}
	if oN.Enabled != nN.Enabled || oN.ChatID != nN.ChatID ||
		oN.RatePerSec != nN.RatePerSec ||
		(strings.TrimSpace(oN.Token) != "") != (strings.TrimSpace(nN.Token) != "") {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int("notify.rate_per_sec", nN.RatePerSec),
		)
	}

	// Telemetry
	oT, nT := oldCfg.Telemetry, newCfg.Telemetry
	if oT == nil {
		oT = &TelemetryConfig{}
	}
	if nT == nil {
		nT = &TelemetryConfig{}
	}
	if *oT != *nT {
		changed = append(changed, "telemetry")
		attrs = append(attrs,
			logx.Bool("telemetry.endpoint_set", strings.TrimSpace(nT.Endpoint) != ""),
			logx.Int("telemetry.queue_size", nT.QueueSize),
			logx.String("telemetry.report_timeout", strings.TrimSpace(nT.ReportTimeout)),
		)
	}

	// Hot queue
	if oldCfg.HotQueue != newCfg.HotQueue {
		changed = append(changed, "hot_queue")
		attrs = append(attrs,
			logx.String("hot_queue.ttl", strings.TrimSpace(newCfg.HotQueue.TTL)),
			logx.Int("hot_queue.global_rate_per_min", newCfg.HotQueue.GlobalRatePerMin),
		)
	}

	// Accounts (summarize only; details at debug)
	acctChanged := diffAccounts(oldCfg.Accounts, newCfg.Accounts)
	if len(acctChanged) > 0 {
		changed = append(changed, "accounts")
		attrs = append(attrs,
			logx.Int("accounts.changed_count", len(acctChanged)),
			logx.Int("accounts.enabled_count", countEnabled(newCfg.Accounts)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, acctChanged
}

func countEnabled(m map[string]AccountConfig) int {
	n := 0
	for _, a := range m {
		if a.Enabled {
			n++
		}
	}
	return n
}

func diffAccounts(oldM, newM map[string]AccountConfig) []string {
	if oldM == nil {
		oldM = map[string]AccountConfig{}
	}
	if newM == nil {
		newM = map[string]AccountConfig{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
