package app

import (
	"time"

	"outreachd/internal/config"
	"outreachd/internal/hotqueue"
	"outreachd/internal/notify"
	"outreachd/internal/observability/httpserv"
	"outreachd/internal/storage"
	"outreachd/internal/telemetry"
	"outreachd/internal/vendorapi"
	logx "outreachd/pkg/logx"
)

// Mapping from the file config onto component configs. The tree was
// validated before it got here, so duration errors are impossible and the
// OrDefault helpers only fill in omissions.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapVendor(cfg *config.Config) (vendorapi.Config, error) {
	timeout, err := config.ParseDurationOrDefault("vendor.timeout", cfg.Vendor.Timeout, 20*time.Second)
	if err != nil {
		return vendorapi.Config{}, err
	}
	return vendorapi.Config{BaseURL: cfg.Vendor.BaseURL, Timeout: timeout}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	sc := storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
	enabled := sc.Driver != "" && sc.Driver != "none"
	return sc, enabled, nil
}

func mapHotQueue(cfg *config.Config) (hotqueue.Config, error) {
	ttl, err := config.ParseDurationField("hot_queue.ttl", cfg.HotQueue.TTL)
	if err != nil {
		return hotqueue.Config{}, err
	}
	return hotqueue.Config{
		TTL:              ttl,
		GlobalRatePerMin: cfg.HotQueue.GlobalRatePerMin,
	}, nil
}

func mapNotify(cfg *config.Config) notify.Config {
	n := cfg.Notify
	if n == nil {
		return notify.Config{}
	}
	return notify.Config{
		Enabled:    n.Enabled,
		Token:      n.Token,
		ChatID:     n.ChatID,
		RatePerSec: n.RatePerSec,
	}
}

func mapTelemetry(cfg *config.Config) (telemetry.Config, string, error) {
	t := cfg.Telemetry
	if t == nil {
		return telemetry.Config{}, "", nil
	}
	timeout, err := config.ParseDurationField("telemetry.report_timeout", t.ReportTimeout)
	if err != nil {
		return telemetry.Config{}, "", err
	}
	return telemetry.Config{QueueSize: t.QueueSize, ReportTimeout: timeout}, t.Endpoint, nil
}

func mapObservability(cfg *config.Config) (httpserv.Config, error) {
	o := cfg.Observability
	read, err := config.ParseDurationField("observability.read_timeout", o.ReadTimeout)
	if err != nil {
		return httpserv.Config{}, err
	}
	write, err := config.ParseDurationField("observability.write_timeout", o.WriteTimeout)
	if err != nil {
		return httpserv.Config{}, err
	}
	idle, err := config.ParseDurationField("observability.idle_timeout", o.IdleTimeout)
	if err != nil {
		return httpserv.Config{}, err
	}
	return httpserv.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapInboundPoll(cfg *config.Config) time.Duration {
	d, _ := config.ParseDurationOrDefault("inbound_poll", cfg.InboundPoll, time.Minute)
	return d
}
