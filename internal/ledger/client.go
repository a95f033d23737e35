// Package ledger wraps the minimal chain operations the anchoring engine
// needs: balance query, fee estimate, transaction submission and receipt
// fetch. Connection and signing configuration live here; the engine sees
// only the anchor.LedgerClient surface.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/indubia/notary/backend/internal/anchor"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

var (
	// ErrInvalidClientConfig indicates missing or malformed ledger configuration.
	ErrInvalidClientConfig = errors.New("ledger: invalid client config")

	errMissingRPCURL  = errors.New("rpc url is required")
	errMissingChainID = errors.New("chain id is required")
	errMissingKey     = errors.New("signing key is required")
)

// ClientConfig bundles connection and signing configuration.
type ClientConfig struct {
	RPCURL         string
	ChainID        int64
	PrivateKeyHex  string
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// Client talks to an Ethereum-compatible chain through ethclient.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	privateKey     *ecdsa.PrivateKey
	account        common.Address
	requestTimeout time.Duration
	logger         *zap.Logger
	clock          func() time.Time
}

// Dial validates the configuration, connects to the RPC endpoint and derives
// the signing account.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingRPCURL)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingChainID)
	}

	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingKey)
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}

	account := crypto.PubkeyToAddress(privateKey.PublicKey)
	logger.Info("ledger client connected",
		zap.String("rpc_url", rpcURL),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("account", account.Hex()))

	return &Client{
		eth:            eth,
		chainID:        big.NewInt(cfg.ChainID),
		privateKey:     privateKey,
		account:        account,
		requestTimeout: timeout,
		logger:         logger,
		clock:          clock,
	}, nil
}

// Account returns the signing account address.
func (c *Client) Account() common.Address {
	return c.account
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Balance returns the signing account's current balance in wei.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.eth.BalanceAt(ctx, c.account, nil)
}

// EstimateFee estimates the total fee in wei for the given transaction as
// estimated gas times the suggested gas price.
func (c *Client) EstimateFee(ctx context.Context, tx anchor.TransactionRequest) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	to := tx.To
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.account,
		To:    &to,
		Value: tx.Value,
		Data:  tx.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: estimate gas: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: suggest gas price: %w", err)
	}

	return new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice), nil
}

// SendTransaction signs and submits the transaction, returning the assigned
// hash. Ethereum never confirms synchronously, so the submission carries no
// block fields.
func (c *Client) SendTransaction(ctx context.Context, tx anchor.TransactionRequest) (anchor.Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(ctx, c.account)
	if err != nil {
		return anchor.Submission{}, fmt.Errorf("ledger: pending nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return anchor.Submission{}, fmt.Errorf("ledger: suggest gas price: %w", err)
	}

	to := tx.To
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.account,
		To:    &to,
		Value: tx.Value,
		Data:  tx.Data,
	})
	if err != nil {
		return anchor.Submission{}, fmt.Errorf("ledger: estimate gas: %w", err)
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    tx.Value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     tx.Data,
	})

	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return anchor.Submission{}, fmt.Errorf("ledger: sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return anchor.Submission{}, fmt.Errorf("ledger: send transaction: %w", err)
	}

	c.logger.Debug("transaction sent",
		zap.String("from", c.account.Hex()),
		zap.String("to", to.Hex()),
		zap.String("tx_hash", signed.Hash().Hex()))

	return anchor.Submission{Hash: signed.Hash().Hex()}, nil
}

// Receipt fetches the confirmation receipt for a transaction hash. The
// timestamp is taken from the containing block header when resolvable and
// falls back to the current time.
func (c *Client) Receipt(ctx context.Context, txHash string) (anchor.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("ledger: transaction receipt %s: %w", txHash, err)
	}

	confirmedAt := c.clock().UTC()
	header, err := c.eth.HeaderByHash(ctx, receipt.BlockHash)
	if err == nil {
		confirmedAt = time.Unix(int64(header.Time), 0).UTC()
	} else {
		c.logger.Debug("block header lookup failed, using current time",
			zap.String("block_hash", receipt.BlockHash.Hex()),
			zap.Error(err))
	}

	return anchor.Receipt{
		Succeeded:         receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber:       receipt.BlockNumber.Int64(),
		BlockHash:         receipt.BlockHash.Hex(),
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
		Timestamp:         confirmedAt,
	}, nil
}
