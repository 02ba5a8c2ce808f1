package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsComposedTotal counts composed bills by discount basis and result.
	BillsComposedTotal *prometheus.CounterVec
	// SettlementsTotal counts reconciliation outcomes per tender method.
	SettlementsTotal *prometheus.CounterVec
	// VoucherRedemptionsTotal counts redemption attempts by result.
	VoucherRedemptionsTotal *prometheus.CounterVec

	// ReceiptDeliveriesTotal tracks receipt hand-off outcomes.
	ReceiptDeliveriesTotal *prometheus.CounterVec
	// ReceiptAttemptLatency records receipt delivery latency in milliseconds.
	ReceiptAttemptLatency *prometheus.HistogramVec
	// ReceiptBreakerState is 0 closed, 1 open, 2 half-open per receipt endpoint.
	ReceiptBreakerState *prometheus.GaugeVec
	// ReceiptBreakerTransitions counts breaker state changes per receipt endpoint.
	ReceiptBreakerTransitions *prometheus.CounterVec

	// QueueTasksTotal counts tasks by kind and status (enqueued, ok, failed, dead).
	QueueTasksTotal *prometheus.CounterVec
	QueueReady      *prometheus.GaugeVec
	QueueDeadLetter *prometheus.GaugeVec
)

// MustRegisterDomainMetrics initialises and registers the billing and receipt
// pipeline collectors. The helpers below are no-ops until it has run.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels))
		}
		gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
			return register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels))
		}

		BillsComposedTotal = counter("bills_composed_total", "Bill compositions by discount basis and result.", "basis", "result")
		SettlementsTotal = counter("settlements_total", "Settlement reconciliations by method and outcome.", "method", "outcome")
		VoucherRedemptionsTotal = counter("voucher_redemptions_total", "Voucher redemption attempts by result.", "result")

		ReceiptDeliveriesTotal = counter("receipt_deliveries_total", "Receipt delivery outcomes.", "result")
		ReceiptAttemptLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_attempt_duration_ms",
			Help:      "Receipt delivery latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"}))
		ReceiptBreakerState = gauge("receipt_breaker_state", "Receipt endpoint breaker state: 0 closed, 1 open, 2 half-open.", "endpoint")
		ReceiptBreakerTransitions = counter("receipt_breaker_transitions_total", "Receipt endpoint breaker transitions.", "endpoint", "from", "to")

		QueueTasksTotal = counter("queue_tasks_total", "Queue tasks by kind and status.", "kind", "status")
		QueueReady = gauge("queue_ready_tasks", "Ready tasks per kind as of the last stats call.", "kind")
		QueueDeadLetter = gauge("queue_dead_letters", "Dead-lettered tasks per kind.", "kind")
	})
}

// CountBill records a composed bill.
func CountBill(basis, result string) {
	if BillsComposedTotal != nil {
		BillsComposedTotal.WithLabelValues(basis, result).Inc()
	}
}

// CountSettlement records a reconciliation outcome.
func CountSettlement(method, outcome string) {
	if SettlementsTotal != nil {
		SettlementsTotal.WithLabelValues(method, outcome).Inc()
	}
}

// CountRedemption records a voucher redemption attempt.
func CountRedemption(result string) {
	if VoucherRedemptionsTotal != nil {
		VoucherRedemptionsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveReceipt records one receipt delivery attempt.
func ObserveReceipt(result string, elapsed time.Duration) {
	if ReceiptDeliveriesTotal != nil {
		ReceiptDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if ReceiptAttemptLatency != nil {
		ReceiptAttemptLatency.WithLabelValues(result).Observe(elapsed.Seconds() * 1000)
	}
}

// ObserveReceiptBreaker records the breaker guarding endpoint moving from one state
// to another. from is empty when only the current state is being published.
func ObserveReceiptBreaker(endpoint, from, to string, gaugeValue float64) {
	if ReceiptBreakerState != nil {
		ReceiptBreakerState.WithLabelValues(endpoint).Set(gaugeValue)
	}
	if from != "" && ReceiptBreakerTransitions != nil {
		ReceiptBreakerTransitions.WithLabelValues(endpoint, from, to).Inc()
	}
}

// CountTask records a queue task changing status.
func CountTask(kind, status string) {
	if QueueTasksTotal != nil {
		QueueTasksTotal.WithLabelValues(kind, status).Inc()
	}
}

// SetQueueDepth publishes the ready and dead-lettered counts for kind.
func SetQueueDepth(kind string, ready, dead int64) {
	if QueueReady != nil {
		QueueReady.WithLabelValues(kind).Set(float64(ready))
	}
	if QueueDeadLetter != nil {
		QueueDeadLetter.WithLabelValues(kind).Set(float64(dead))
	}
}

// AddDeadLetters moves the dead-letter gauge for kind by delta.
func AddDeadLetters(kind string, delta float64) {
	if QueueDeadLetter != nil {
		QueueDeadLetter.WithLabelValues(kind).Add(delta)
	}
}
