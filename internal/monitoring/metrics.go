package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kirinyoku/tixledger/internal/domain"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total ledger operations by outcome",
		},
		[]string{"operation", "status"},
	)

	paymentAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_payment_amount_total",
			Help: "Sum of settled payment amounts by transfer kind",
		},
		[]string{"kind"},
	)

	purchaseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_purchase_duration_seconds",
			Help:    "Duration of purchase units of work",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// TrackOperation counts one ledger operation; err decides the status label.
func TrackOperation(operation string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	ledgerOperations.WithLabelValues(operation, status).Inc()
}

// TrackTransfers adds settled transfer amounts.
func TrackTransfers(transfers []domain.Transfer) {
	for _, t := range transfers {
		if t.Amount > 0 {
			paymentAmount.WithLabelValues(string(t.Kind)).Add(float64(t.Amount))
		}
	}
}

func TrackPurchaseDuration(d time.Duration) {
	purchaseDuration.Observe(d.Seconds())
}
