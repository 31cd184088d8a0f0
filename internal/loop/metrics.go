package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_loop_tasks_total",
		Help: "Tasks executed on the event loop",
	})

	metricPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pronto_loop_panics_total",
		Help: "Event loop tasks that panicked and were recovered",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pronto_loop_queue_depth",
		Help: "Tasks waiting on the event loop",
	})
)
