package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_sessions_started_total",
		Help: "Overlay sessions started",
	})

	metricClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_sessions_closed_total",
		Help: "Overlay sessions closed, by reason",
	}, []string{"reason"})

	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_sessions_rejected_total",
		Help: "Ringing signals that did not start or update a session",
	}, []string{"reason"})

	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pronto_sessions_active",
		Help: "1 while a session is pending or active",
	})

	metricPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_session_panics_total",
		Help: "Recovered panics in the session controller",
	})

	metricDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pronto_session_duration_seconds",
		Help:    "Time from session start to close",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
	})
)
