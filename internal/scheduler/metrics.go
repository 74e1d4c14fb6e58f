package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemindersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "giving_reminders_armed",
		Help: "Current number of armed reminder timers.",
	})

	RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giving_reminders_fired_total",
		Help: "Reminder firings, by result (sent, failed).",
	}, []string{"result"})

	ConfirmationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "giving_confirmations_failed_total",
		Help: "Pledge confirmation emails that failed to send.",
	})
)
