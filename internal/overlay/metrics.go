package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_overlay_presented_total",
		Help: "Cards put on screen",
	})

	metricPresentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_overlay_present_failures_total",
		Help: "Cards that could not be put on screen",
	}, []string{"reason"})

	metricTeardowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_overlay_teardowns_total",
		Help: "Completed card teardowns",
	})

	metricProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_overlay_liveness_probes_total",
		Help: "Liveness probe results",
	}, []string{"result"})

	metricKeepAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pronto_overlay_keepalive_held",
		Help: "Outstanding keep-alive holds",
	})

	metricBridgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_bridge_calls_total",
		Help: "Calls from the card surface into the bridge",
	}, []string{"method"})
)
