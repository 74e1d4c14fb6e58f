package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giving_emails_total",
		Help: "Email send attempts, by kind and result (sent, failed, duplicate).",
	}, []string{"kind", "result"})

	RelayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "giving_email_relay_latency_seconds",
		Help:    "Latency of email relay calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
