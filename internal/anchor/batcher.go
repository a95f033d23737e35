package anchor

import (
	"context"
	"math/big"

	"github.com/indubia/notary/backend/internal/documents"
	"github.com/indubia/notary/backend/internal/metrics"
	"go.uber.org/zap"
)

// RunBatchCycle selects every ready document, packs the content hashes into a
// single zero-value transaction and records the assigned transaction hash on
// all of them. One cycle, one attempt, one transaction: any failure leaves
// every candidate untouched and eligible for the next cycle.
func (e *Engine) RunBatchCycle(ctx context.Context) error {
	ready, err := e.store.FindReadyDocuments(ctx)
	if err != nil {
		e.logger.Error("batch cycle aborted, ready query failed", zap.Error(err))
		metrics.BatchCycles.WithLabelValues("error").Inc()
		return newCycleError(opBatchCycle, "ready_query_failed", err)
	}

	if len(ready) == 0 {
		e.logger.Info("no documents waiting to be anchored")
		metrics.BatchCycles.WithLabelValues("empty").Inc()
		return nil
	}

	e.logger.Info("documents waiting to be anchored", zap.Int("count", len(ready)))
	if e.batchThreshold > 0 && len(ready) > e.batchThreshold {
		// Policy hook only: an out-of-band early send above this threshold is
		// not implemented, the backlog is just surfaced.
		e.logger.Warn("ready set exceeds batch threshold",
			zap.Int("count", len(ready)),
			zap.Int("threshold", e.batchThreshold))
	}

	hashes := make([]documents.ContentHash, 0, len(ready))
	ids := make([]documents.DocumentID, 0, len(ready))
	for _, doc := range ready {
		hashes = append(hashes, documents.ContentHash(doc.ContentHash))
		ids = append(ids, documents.DocumentID(doc.ID))
	}

	payload, err := EncodePayload(hashes, e.hashByteWidth)
	if err != nil {
		e.logger.Error("batch cycle aborted, payload encoding failed", zap.Error(err))
		metrics.BatchCycles.WithLabelValues("error").Inc()
		return newCycleError(opBatchCycle, "payload_encode_failed", err)
	}

	tx := TransactionRequest{
		To:    e.notaryAccount,
		Value: big.NewInt(0),
		Data:  payload,
	}

	e.checkFunding(ctx, tx, len(ready))

	submission, err := e.ledger.SendTransaction(ctx, tx)
	if err != nil {
		e.logger.Error("transaction submission failed, ready set unchanged",
			zap.Int("documents", len(ready)),
			zap.Error(err))
		metrics.BatchCycles.WithLabelValues("error").Inc()
		return newCycleError(opBatchCycle, "send_failed", err)
	}

	e.logger.Info("transaction submitted",
		zap.String("tx_hash", submission.Hash),
		zap.Int("documents", len(ready)),
		zap.Int("payload_bytes", len(payload)))

	anchoredAt := e.clock().UTC()
	if submission.Timestamp != nil {
		anchoredAt = submission.Timestamp.UTC()
	}

	if err := e.store.RecordAnchor(ctx, ids, submission.Hash, submission.BlockNumber, submission.BlockHash, anchoredAt); err != nil {
		e.logger.Error("failed to record anchor linkage",
			zap.String("tx_hash", submission.Hash),
			zap.Int("documents", len(ready)),
			zap.Error(err))
		metrics.BatchCycles.WithLabelValues("error").Inc()
		return newCycleError(opBatchCycle, "record_anchor_failed", err)
	}

	e.logger.Info("anchor linkage recorded",
		zap.String("tx_hash", submission.Hash),
		zap.Int("documents", len(ready)))
	metrics.BatchCycles.WithLabelValues("success").Inc()
	metrics.DocumentsAnchored.Add(float64(len(ready)))
	return nil
}

// checkFunding logs whether the signing account can cover the transaction.
// Advisory only: a stale balance snapshot racing real funding must not block
// submission, so insufficiency is logged and the send proceeds regardless.
func (e *Engine) checkFunding(ctx context.Context, tx TransactionRequest, documentCount int) {
	balance, err := e.ledger.Balance(ctx)
	if err != nil {
		e.logger.Warn("balance query failed, skipping funding check", zap.Error(err))
		return
	}

	fee, err := e.ledger.EstimateFee(ctx, tx)
	if err != nil {
		e.logger.Warn("fee estimate failed, skipping funding check", zap.Error(err))
		return
	}

	sufficient := balance.Cmp(fee) >= 0
	fields := []zap.Field{
		zap.Int("documents", documentCount),
		zap.Int("payload_bytes", len(tx.Data)),
		zap.String("fee_estimate_eth", formatEther(fee)),
		zap.String("balance_eth", formatEther(balance)),
	}
	if sufficient {
		e.logger.Info("sufficient balance to fund this transaction", fields...)
	} else {
		e.logger.Warn("insufficient balance to fund this transaction", fields...)
	}
}
