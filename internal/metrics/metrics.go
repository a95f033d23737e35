// Package metrics exposes Prometheus collectors for the anchoring cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BatchCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "notary", Name: "batch_cycles_total", Help: "Number of batch cycles by outcome."},
		[]string{"outcome"},
	)
	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "notary", Name: "reconcile_cycles_total", Help: "Number of reconcile cycles by outcome."},
		[]string{"outcome"},
	)
	DocumentsAnchored = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "notary", Name: "documents_anchored_total", Help: "Number of documents linked to a submitted transaction."},
	)
	DocumentsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "notary", Name: "documents_confirmed_total", Help: "Number of documents with recorded block placement."},
	)
	ReceiptsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "notary", Name: "receipts_fetched_total", Help: "Number of transaction receipts fetched from the chain."},
	)
	SettlementCostUSD = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "notary", Name: "settlement_cost_usd_total", Help: "Cumulative settlement cost of confirmed transactions in USD."},
	)
)

// RegisterCollectors registers every anchoring collector on the given registerer.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		BatchCycles,
		ReconcileCycles,
		DocumentsAnchored,
		DocumentsConfirmed,
		ReceiptsFetched,
		SettlementCostUSD,
	)
}
