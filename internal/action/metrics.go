package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_actions_total",
		Help: "Card actions executed",
	}, []string{"action"})

	metricControlFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pronto_call_control_failures_total",
		Help: "Answer/reject operations that could not be performed",
	}, []string{"op", "reason"})

	metricLaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_chat_launch_failures_total",
		Help: "Chat launches where both the app and the web fallback failed",
	})
)
