package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmailsSent counts per-recipient send outcomes: sent, retried, failed or released
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_emails_total",
			Help: "Per-recipient send outcomes",
		},
		[]string{"outcome"},
	)

	// Ticks counts dispatch ticks by result
	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_dispatch_ticks_total",
			Help: "Dispatch ticks by result",
		},
		[]string{"result"}, // ok, completed, conflict, error
	)

	// TickDuration tracks the latency of a whole dispatch tick
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "campaign_dispatch_tick_duration_seconds",
			Help: "Duration of dispatch ticks in seconds",
			Buckets: []float64{
				0.01,
				0.05,
				0.1,
				0.5,
				1.0,
				5.0,
				15.0,
				30.0,
				60.0,
			},
		},
		[]string{"result"},
	)
)

func RecordEmail(outcome string) {
	EmailsSent.WithLabelValues(outcome).Inc()
}

// RecordTick records the result and duration of a dispatch tick
func RecordTick(result string, duration float64) {
	Ticks.WithLabelValues(result).Inc()
	TickDuration.WithLabelValues(result).Observe(duration)
}
