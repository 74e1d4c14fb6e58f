package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	DonationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giving_donations_recorded_total",
		Help: "Total number of donations recorded, by kind.",
	}, []string{"kind"})

	DonationAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giving_donation_amount_total",
		Help: "Sum of recorded donation amounts, by kind.",
	}, []string{"kind"})

	DonationsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "giving_donations_total_amount",
		Help: "Current aggregate donation total.",
	})

	PendingClicks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "giving_pending_clicks",
		Help: "Current number of external clicks awaiting confirmation.",
	})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "giving_persistence_failures_total",
		Help: "Total number of failed snapshot loads or saves.",
	})
)

// PrometheusMetrics satisfies ledger.Metrics.
type PrometheusMetrics struct{}

func (m *PrometheusMetrics) RecordDonation(kind string, amount decimal.Decimal) {
	DonationsRecorded.WithLabelValues(kind).Inc()
	DonationAmount.WithLabelValues(kind).Add(amount.InexactFloat64())
}

func (m *PrometheusMetrics) RecordPersistenceFailure() {
	PersistenceFailures.Inc()
}

func (m *PrometheusMetrics) SetTotal(total decimal.Decimal) {
	DonationsTotal.Set(total.InexactFloat64())
}

func (m *PrometheusMetrics) SetPending(n int) {
	PendingClicks.Set(float64(n))
}
