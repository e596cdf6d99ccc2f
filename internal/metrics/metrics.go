package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_tracking_events_total",
			Help: "Tracking events by event kind and outcome.",
		},
		[]string{"event", "outcome"},
	)
	ProbeFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishguard_probe_flagged_total",
			Help: "Unknown-token requests from clients over the probe limit.",
		},
	)
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_dispatch_total",
			Help: "Message dispatch attempts by result.",
		},
		[]string{"result"},
	)
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phishguard_dispatch_duration_seconds",
			Help:    "Duration of delivery channel calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)
	RemediationSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_remediation_steps_total",
			Help: "Remediation steps by step name and result.",
		},
		[]string{"step", "result"},
	)
)
