package anchor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/indubia/notary/backend/internal/documents"
)

var errSimulated = errors.New("simulated failure")

type anchorRecord struct {
	ids         []documents.DocumentID
	txHash      string
	blockNumber *int64
	blockHash   *string
	at          time.Time
}

type confirmationRecord struct {
	ids         []documents.DocumentID
	blockNumber int64
	blockHash   string
	at          time.Time
}

type fakeStore struct {
	ready   []documents.Document
	pending []documents.Document

	readyErr   error
	pendingErr error
	anchorErr  error

	confirmErrByID map[string]error

	anchors       []anchorRecord
	confirmations []confirmationRecord
}

func (f *fakeStore) FindReadyDocuments(ctx context.Context) ([]documents.Document, error) {
	if f.readyErr != nil {
		return nil, f.readyErr
	}
	return f.ready, nil
}

func (f *fakeStore) FindPendingDocuments(ctx context.Context) ([]documents.Document, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return f.pending, nil
}

func (f *fakeStore) RecordAnchor(ctx context.Context, ids []documents.DocumentID, txHash string, blockNumber *int64, blockHash *string, at time.Time) error {
	if f.anchorErr != nil {
		return f.anchorErr
	}
	f.anchors = append(f.anchors, anchorRecord{ids: ids, txHash: txHash, blockNumber: blockNumber, blockHash: blockHash, at: at})
	return nil
}

func (f *fakeStore) RecordConfirmation(ctx context.Context, ids []documents.DocumentID, blockNumber int64, blockHash string, at time.Time) error {
	if err := f.confirmErrForIDs(ids); err != nil {
		return err
	}
	f.confirmations = append(f.confirmations, confirmationRecord{ids: ids, blockNumber: blockNumber, blockHash: blockHash, at: at})
	return nil
}

func (f *fakeStore) confirmErrForIDs(ids []documents.DocumentID) error {
	if f.confirmErrByID == nil {
		return nil
	}
	for _, id := range ids {
		if err, found := f.confirmErrByID[id.String()]; found {
			return err
		}
	}
	return nil
}

type fakeLedger struct {
	balance *big.Int
	fee     *big.Int

	balanceErr error
	feeErr     error

	submission Submission
	sendErr    error
	sentTxs    []TransactionRequest

	receipts      map[string]Receipt
	receiptErrs   map[string]error
	receiptCalls  map[string]int
	totalReceipts int
}

func (f *fakeLedger) Balance(ctx context.Context) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeLedger) EstimateFee(ctx context.Context, tx TransactionRequest) (*big.Int, error) {
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	if f.fee == nil {
		return big.NewInt(0), nil
	}
	return f.fee, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, tx TransactionRequest) (Submission, error) {
	f.sentTxs = append(f.sentTxs, tx)
	if f.sendErr != nil {
		return Submission{}, f.sendErr
	}
	return f.submission, nil
}

func (f *fakeLedger) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	if f.receiptCalls == nil {
		f.receiptCalls = map[string]int{}
	}
	f.receiptCalls[txHash]++
	f.totalReceipts++
	if err, found := f.receiptErrs[txHash]; found {
		return Receipt{}, err
	}
	receipt, found := f.receipts[txHash]
	if !found {
		return Receipt{}, errSimulated
	}
	return receipt, nil
}

type fakeOracle struct {
	rate  float64
	err   error
	calls int
}

func (f *fakeOracle) FiatRate(ctx context.Context) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.rate, nil
}

func newTestEngine(t *testing.T, store *fakeStore, ledger *fakeLedger, oracle *fakeOracle) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Store:         store,
		Ledger:        ledger,
		Oracle:        oracle,
		NotaryAccount: common.HexToAddress("0x00000000000000000000000000000000deadbeef"),
		HashByteWidth: 32,
		Clock:         func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func readyDocument(id, hash string) documents.Document {
	approvedAt := time.Unix(1699990000, 0).UTC()
	return documents.Document{
		ID:          id,
		ContentHash: hash,
		ApprovedAt:  &approvedAt,
	}
}

func pendingDocument(id, hash, txHash string) documents.Document {
	doc := readyDocument(id, hash)
	doc.TransactionHash = &txHash
	return doc
}
