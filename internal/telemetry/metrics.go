package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_send_attempts_total",
		Help: "Send attempts by account, mode and outcome.",
	}, []string{"account", "mode", "outcome"})

	inboundSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_inbound_total",
		Help: "Inbound messages observed by account.",
	}, []string{"account"})

	rotationWraps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_rotation_wraps_total",
		Help: "Completed cyclic template passes by account.",
	}, []string{"account"})

	globalLimits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_global_limit_reports_total",
		Help: "Recipient-specific rate-limit reports fanned out to all accounts.",
	})

	chainsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_autoreply_chains_total",
		Help: "Auto-reply chains ended, by account and whether they finished.",
	}, []string{"account", "finished"})

	sinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_telemetry_sink_dropped_total",
		Help: "Events dropped because the sink queue was full.",
	})
)
