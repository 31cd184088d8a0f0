package sip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pronto_sip_requests_total",
	Help: "SIP requests handled, by method.",
}, []string{"method"})
