// Package anchor implements the batching-and-reconciliation engine that
// notarizes document content hashes on chain. The batch cycle packs ready
// documents into one transaction; the reconcile cycle settles pending
// transactions against confirmation receipts.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/indubia/notary/backend/internal/documents"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("document store is required")
	errMissingLedger = errors.New("ledger client is required")
	errMissingOracle = errors.New("price source is required")
	noOpLogger       = zap.NewNop()
)

const (
	opEngineNew  = "anchor.engine.new"
	opBatchCycle = "anchor.batch_cycle"
	opReconcile  = "anchor.reconcile_cycle"
)

// CycleError carries an operation.reason code alongside the underlying cause.
type CycleError struct {
	code string
	err  error
}

func (e *CycleError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CycleError) Unwrap() error {
	return e.err
}

func (e *CycleError) Code() string {
	return e.code
}

func newCycleError(operation, reason string, cause error) error {
	return &CycleError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// TransactionRequest describes an outbound notarization transaction.
type TransactionRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Submission is the chain's response to a sent transaction. Block fields are
// only present when the chain confirms synchronously, which most do not.
type Submission struct {
	Hash        string
	BlockNumber *int64
	BlockHash   *string
	Timestamp   *time.Time
}

// Receipt is the confirmation record for a submitted transaction.
type Receipt struct {
	Succeeded         bool
	BlockNumber       int64
	BlockHash         string
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Timestamp         time.Time
}

// DocumentStore is the persistence surface the engine coordinates against.
// The engine is the sole writer of blockchain-related document fields.
type DocumentStore interface {
	FindReadyDocuments(ctx context.Context) ([]documents.Document, error)
	FindPendingDocuments(ctx context.Context) ([]documents.Document, error)
	RecordAnchor(ctx context.Context, ids []documents.DocumentID, txHash string, blockNumber *int64, blockHash *string, at time.Time) error
	RecordConfirmation(ctx context.Context, ids []documents.DocumentID, blockNumber int64, blockHash string, at time.Time) error
}

// LedgerClient is the minimal chain surface the engine needs.
type LedgerClient interface {
	Balance(ctx context.Context) (*big.Int, error)
	EstimateFee(ctx context.Context, tx TransactionRequest) (*big.Int, error)
	SendTransaction(ctx context.Context, tx TransactionRequest) (Submission, error)
	Receipt(ctx context.Context, txHash string) (Receipt, error)
}

// PriceSource reports the fiat exchange rate used for settlement cost accounting.
type PriceSource interface {
	FiatRate(ctx context.Context) (float64, error)
}

// EngineConfig bundles the engine's collaborators and policy knobs.
type EngineConfig struct {
	Store          DocumentStore
	Ledger         LedgerClient
	Oracle         PriceSource
	NotaryAccount  common.Address
	HashByteWidth  int
	BatchThreshold int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Engine runs the two anchoring cycles. It holds no state between cycles:
// every run re-derives its working set from the store.
type Engine struct {
	store          DocumentStore
	ledger         LedgerClient
	oracle         PriceSource
	notaryAccount  common.Address
	hashByteWidth  int
	batchThreshold int
	clock          func() time.Time
	logger         *zap.Logger
}

// NewEngine constructs the anchoring engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newCycleError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Ledger == nil {
		return nil, newCycleError(opEngineNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Oracle == nil {
		return nil, newCycleError(opEngineNew, "missing_oracle", errMissingOracle)
	}
	if cfg.HashByteWidth <= 0 {
		return nil, newCycleError(opEngineNew, "invalid_hash_width", fmt.Errorf("hash byte width must be positive, got %d", cfg.HashByteWidth))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Engine{
		store:          cfg.Store,
		ledger:         cfg.Ledger,
		oracle:         cfg.Oracle,
		notaryAccount:  cfg.NotaryAccount,
		hashByteWidth:  cfg.HashByteWidth,
		batchThreshold: cfg.BatchThreshold,
		clock:          clock,
		logger:         logger,
	}, nil
}

// settlementCost converts a receipt's gas expenditure to a fiat figure using
// the cycle's exchange rate: (gasUsed * effectiveGasPrice in ether) / rate.
func settlementCost(gasUsed uint64, effectiveGasPrice *big.Int, rate float64) float64 {
	if effectiveGasPrice == nil || rate == 0 {
		return 0
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), effectiveGasPrice)
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	etherValue, _ := ether.Float64()
	return etherValue / rate
}

// formatEther renders a wei amount as a decimal ether string for logging.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return ether.Text('f', 6)
}
