package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AccrualMetrics records outcomes of the accrual polling worker.
type AccrualMetrics struct {
	cycleDuration prometheus.Histogram
	processed     *prometheus.CounterVec
	bonusIssued   prometheus.Counter
	bonusRedeemed prometheus.Counter
}

// Outcome labels for processed purchases.
const (
	OutcomeAccrued   = "accrued"
	OutcomeDuplicate = "duplicate"
	OutcomeZeroBonus = "zero_bonus"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// NewAccrualMetrics registers the worker metrics on the provided registerer.
func NewAccrualMetrics(reg prometheus.Registerer) *AccrualMetrics {
	if reg == nil {
		return &AccrualMetrics{}
	}
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accrual_cycle_duration_seconds",
		Help:    "Duration of one accrual polling cycle in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accrual_purchases_total",
		Help: "Purchases handled by the accrual worker, by outcome.",
	}, []string{"outcome"})
	bonusIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bonus_issued_minor_units_total",
		Help: "Total bonus credited by accrual, in minor units.",
	})
	bonusRedeemed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bonus_redeemed_minor_units_total",
		Help: "Total bonus debited by redemption, in minor units.",
	})
	reg.MustRegister(cycleDuration, processed, bonusIssued, bonusRedeemed)
	return &AccrualMetrics{
		cycleDuration: cycleDuration,
		processed:     processed,
		bonusIssued:   bonusIssued,
		bonusRedeemed: bonusRedeemed,
	}
}

// ObserveCycle records the duration of a polling cycle.
func (m *AccrualMetrics) ObserveCycle(duration time.Duration) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
}

// IncProcessed increments the purchase counter for the given outcome.
func (m *AccrualMetrics) IncProcessed(outcome string) {
	if m == nil || m.processed == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.processed.WithLabelValues(outcome).Inc()
}

// AddBonusIssued accumulates credited bonus amounts.
func (m *AccrualMetrics) AddBonusIssued(amount int64) {
	if m == nil || m.bonusIssued == nil || amount <= 0 {
		return
	}
	m.bonusIssued.Add(float64(amount))
}

// AddBonusRedeemed accumulates debited bonus amounts.
func (m *AccrualMetrics) AddBonusRedeemed(amount int64) {
	if m == nil || m.bonusRedeemed == nil || amount <= 0 {
		return
	}
	m.bonusRedeemed.Add(float64(amount))
}
