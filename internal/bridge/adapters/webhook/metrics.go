package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "webhook_request_duration_seconds",
		Help:      "Duration of HTTP requests to the Nightline server.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint"},
)
