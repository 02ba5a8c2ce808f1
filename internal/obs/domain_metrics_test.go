package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDomainMetricsRecord(t *testing.T) {
	MustRegisterDomainMetrics("billing", prometheus.NewRegistry())

	before := testutil.ToFloat64(SettlementsTotal.WithLabelValues("cash", "change"))
	CountSettlement("cash", "change")
	require.Equal(t, before+1, testutil.ToFloat64(SettlementsTotal.WithLabelValues("cash", "change")))

	CountBill("pre_tax", "ok")
	CountRedemption("redeemed")
	ObserveReceipt("delivered", 40*time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(BillsComposedTotal.WithLabelValues("pre_tax", "ok")), float64(1))
	require.GreaterOrEqual(t, testutil.ToFloat64(ReceiptDeliveriesTotal.WithLabelValues("delivered")), float64(1))
}

func TestQueueAndBreakerMetrics(t *testing.T) {
	MustRegisterDomainMetrics("billing", prometheus.NewRegistry())

	CountTask("receipt-dispatch", "dead")
	require.GreaterOrEqual(t, testutil.ToFloat64(QueueTasksTotal.WithLabelValues("receipt-dispatch", "dead")), float64(1))

	SetQueueDepth("receipt-dispatch", 4, 2)
	AddDeadLetters("receipt-dispatch", -1)
	require.Equal(t, 4.0, testutil.ToFloat64(QueueReady.WithLabelValues("receipt-dispatch")))
	require.Equal(t, 1.0, testutil.ToFloat64(QueueDeadLetter.WithLabelValues("receipt-dispatch")))

	ObserveReceiptBreaker("printer.local", "", "closed", 0)
	ObserveReceiptBreaker("printer.local", "closed", "open", 1)
	require.Equal(t, 1.0, testutil.ToFloat64(ReceiptBreakerState.WithLabelValues("printer.local")))
	require.Equal(t, 1.0, testutil.ToFloat64(ReceiptBreakerTransitions.WithLabelValues("printer.local", "closed", "open")))
}
