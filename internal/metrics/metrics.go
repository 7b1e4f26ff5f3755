package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "fleet_alert_"

// Metrics holds the engine's counters. One instance is created at startup
// and threaded through the pipeline; tests pass a throwaway registry.
type Metrics struct {
	EventsIngested      *prometheus.CounterVec
	AuthFailures        *prometheus.CounterVec
	ParseFailures       *prometheus.CounterVec
	RulesRejected       prometheus.Counter
	FiresAdmitted       prometheus.Counter
	FiresSuppressed     prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	DispatchDropped     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "events_ingested_total",
			Help: "Canonical events accepted into the pipeline",
		}, []string{"protocol"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "auth_failures_total",
			Help: "Messages rejected because the credential resolved to no device",
		}, []string{"protocol"}),
		ParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "parse_failures_total",
			Help: "Payloads dropped as malformed",
		}, []string{"protocol"}),
		RulesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "rules_rejected_total",
			Help: "Stored rules skipped during evaluation due to integrity violations",
		}),
		FiresAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "fires_admitted_total",
			Help: "Rule fires admitted past the cooldown suppressor",
		}),
		FiresSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "fires_suppressed_total",
			Help: "Rule fires suppressed inside a cooldown window",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "notifications_sent_total",
			Help: "Successful channel sends",
		}, []string{"channel"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "notifications_failed_total",
			Help: "Failed channel sends",
		}, []string{"channel"}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "dispatch_dropped_total",
			Help: "Dispatch tasks dropped because the queue was full",
		}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.AuthFailures,
		m.ParseFailures,
		m.RulesRejected,
		m.FiresAdmitted,
		m.FiresSuppressed,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.DispatchDropped,
	)

	return m
}

// NewNop returns metrics bound to a private registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
