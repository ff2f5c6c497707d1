package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess      = "success"
	ResultInsufficient = "insufficient_inventory"
	ResultRejected     = "rejected"
	ResultError        = "error"
)

var (
	productionTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "production_transactions_total",
			Help: "Manufacturing order production attempts by result",
		},
		[]string{"result"},
	)

	productionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "production_transaction_duration_seconds",
			Help:    "Time spent in the production transaction, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	inventoryMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_movements_total",
			Help: "Inventory ledger movements by direction",
		},
		[]string{"direction"},
	)

	outboxPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publishes_total",
			Help: "Outbox publish attempts by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(productionTransactions, productionDuration, inventoryMovements, outboxPublishes)
}

func RecordProduction(result string, started time.Time) {
	productionTransactions.WithLabelValues(result).Inc()
	productionDuration.Observe(time.Since(started).Seconds())
}

// RecordInventoryMovement counts one ledger row; direction is "in" or "out".
func RecordInventoryMovement(direction string) {
	inventoryMovements.WithLabelValues(direction).Inc()
}

func RecordOutboxPublish(status string) {
	outboxPublishes.WithLabelValues(status).Inc()
}
