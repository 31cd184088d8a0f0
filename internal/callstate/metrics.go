package callstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRawEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_callstate_raw_events_total",
		Help: "Raw call-state events accepted by the normalizer",
	}, []string{"state"})

	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_callstate_signals_total",
		Help: "Normalized call signals emitted",
	}, []string{"kind"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_callstate_dropped_total",
		Help: "Raw call-state events dropped by the normalizer",
	}, []string{"reason"})

	metricSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_callstate_unknown_superseded_total",
		Help: "Deferred unknown-caller signals cancelled by a resolved number",
	})
)
