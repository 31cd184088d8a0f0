package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSurfaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pronto_bridge_surfaces",
		Help: "Card surfaces connected over WebSocket.",
	})
	metricSurfaceDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_bridge_dropped_messages_total",
		Help: "Messages dropped because a surface was not reading.",
	})
	metricWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_webhook_requests_total",
		Help: "Twilio webhook requests, by endpoint and result.",
	}, []string{"endpoint", "result"})
	metricIntake = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_device_events_total",
		Help: "Device agent events received, by result.",
	}, []string{"result"})
)
