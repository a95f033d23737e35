package anchor

import (
	"context"

	"github.com/indubia/notary/backend/internal/documents"
	"github.com/indubia/notary/backend/internal/metrics"
	"go.uber.org/zap"
)

// RunReconcileCycle settles pending documents against confirmation receipts.
// Documents are grouped by transaction hash and each distinct hash costs
// exactly one receipt fetch; the fiat rate is fetched once per cycle. Failures
// are isolated per hash-group. Only a failing pending-query aborts the cycle.
func (e *Engine) RunReconcileCycle(ctx context.Context) error {
	pending, err := e.store.FindPendingDocuments(ctx)
	if err != nil {
		e.logger.Error("reconcile cycle aborted, pending query failed", zap.Error(err))
		metrics.ReconcileCycles.WithLabelValues("error").Inc()
		return newCycleError(opReconcile, "pending_query_failed", err)
	}

	if len(pending) == 0 {
		e.logger.Info("no documents waiting for confirmation")
		metrics.ReconcileCycles.WithLabelValues("empty").Inc()
		return nil
	}

	groups := groupByTransaction(pending)
	e.logger.Info("documents waiting for confirmation",
		zap.Int("documents", len(pending)),
		zap.Int("transactions", len(groups)))

	rate, rateErr := e.oracle.FiatRate(ctx)
	if rateErr != nil {
		// Cost accounting is informational; confirmation persistence must not
		// wait on the oracle.
		e.logger.Warn("fiat rate fetch failed, settlement cost will not be computed", zap.Error(rateErr))
		rate = 0
	}

	var (
		totalCost     float64
		confirmedDocs int
		confirmedTxs  int
		failedGroups  int
	)

	for _, group := range groups {
		receipt, err := e.ledger.Receipt(ctx, group.txHash)
		if err != nil {
			e.logger.Error("receipt fetch failed, skipping transaction group",
				zap.String("tx_hash", group.txHash),
				zap.Int("documents", len(group.ids)),
				zap.Error(err))
			failedGroups++
			continue
		}
		metrics.ReceiptsFetched.Inc()

		status := "succeeded"
		if !receipt.Succeeded {
			status = "failed"
		}
		cost := settlementCost(receipt.GasUsed, receipt.EffectiveGasPrice, rate)
		totalCost += cost
		e.logger.Info("transaction "+status,
			zap.String("tx_hash", group.txHash),
			zap.Int64("block_number", receipt.BlockNumber),
			zap.Float64("cost_usd", cost))

		confirmedAt := receipt.Timestamp
		if confirmedAt.IsZero() {
			confirmedAt = e.clock().UTC()
		}

		if err := e.store.RecordConfirmation(ctx, group.ids, receipt.BlockNumber, receipt.BlockHash, confirmedAt); err != nil {
			e.logger.Error("failed to record confirmation, skipping transaction group",
				zap.String("tx_hash", group.txHash),
				zap.Int("documents", len(group.ids)),
				zap.Error(err))
			failedGroups++
			continue
		}

		confirmedDocs += len(group.ids)
		confirmedTxs++
		metrics.DocumentsConfirmed.Add(float64(len(group.ids)))
		metrics.SettlementCostUSD.Add(cost)
	}

	e.logger.Info("reconcile cycle complete",
		zap.Int("documents_confirmed", confirmedDocs),
		zap.Int("transactions_confirmed", confirmedTxs),
		zap.Int("groups_failed", failedGroups),
		zap.Float64("total_cost_usd", totalCost))
	metrics.ReconcileCycles.WithLabelValues("success").Inc()
	return nil
}

type transactionGroup struct {
	txHash string
	ids    []documents.DocumentID
}

// groupByTransaction buckets pending documents by their transaction hash,
// preserving first-seen order so log output follows the pending query order.
func groupByTransaction(pending []documents.Document) []transactionGroup {
	indexByHash := make(map[string]int, len(pending))
	groups := make([]transactionGroup, 0, len(pending))

	for _, doc := range pending {
		if doc.TransactionHash == nil {
			continue
		}
		hash := *doc.TransactionHash
		index, seen := indexByHash[hash]
		if !seen {
			indexByHash[hash] = len(groups)
			groups = append(groups, transactionGroup{txHash: hash})
			index = len(groups) - 1
		}
		groups[index].ids = append(groups[index].ids, documents.DocumentID(doc.ID))
	}
	return groups
}
