package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks the money-movement counters the settlement core
// exposes: payments by outcome, refunds, points mutations, and reconciliation
// backlog depth.
type SettlementMetrics struct {
	payments        *prometheus.CounterVec
	refundedCents   prometheus.Counter
	pointsMutations *prometheus.CounterVec
	reconciliations prometheus.Gauge
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_total",
		Help: "Payments processed, labeled by terminal status.",
	}, []string{"status"})
	refundedCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_refunded_cents_total",
		Help: "Total cents refunded to customers.",
	})
	pointsMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_points_mutations_total",
		Help: "Points ledger mutations, labeled by transaction type.",
	}, []string{"type"})
	reconciliations := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_reconciliation_pending",
		Help: "Reconciliation tasks currently pending replay.",
	})
	reg.MustRegister(payments, refundedCents, pointsMutations, reconciliations)
	return &SettlementMetrics{
		payments:        payments,
		refundedCents:   refundedCents,
		pointsMutations: pointsMutations,
		reconciliations: reconciliations,
	}
}

// IncPayment counts a payment reaching the given status.
func (s *SettlementMetrics) IncPayment(status string) {
	if s == nil || s.payments == nil {
		return
	}
	s.payments.WithLabelValues(labelOrUnknown(status)).Inc()
}

// AddRefundedCents accumulates refunded amounts.
func (s *SettlementMetrics) AddRefundedCents(cents int64) {
	if s == nil || s.refundedCents == nil || cents <= 0 {
		return
	}
	s.refundedCents.Add(float64(cents))
}

// IncPointsMutation counts a points ledger mutation by type.
func (s *SettlementMetrics) IncPointsMutation(txType string) {
	if s == nil || s.pointsMutations == nil {
		return
	}
	s.pointsMutations.WithLabelValues(labelOrUnknown(txType)).Inc()
}

// SetReconciliationBacklog records the pending reconciliation task count.
func (s *SettlementMetrics) SetReconciliationBacklog(n int) {
	if s == nil || s.reconciliations == nil {
		return
	}
	s.reconciliations.Set(float64(n))
}
