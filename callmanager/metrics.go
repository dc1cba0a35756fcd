package callmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_calls_active",
		Help: "Currently non-terminal call records",
	})

	callsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_calls_initiated_total",
		Help: "Total calls accepted by initiateCall",
	})

	callsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_calls_rejected_total",
		Help: "initiateCall rejections by reason",
	}, []string{"reason"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_state_transitions_total",
		Help: "Call state machine transitions",
	}, []string{"from", "to"})

	callsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_calls_ended_total",
		Help: "Terminal dispatches by end reason",
	}, []string{"reason"})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_call_duration_seconds",
		Help:    "Call duration from startedAt to endedAt",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
)
