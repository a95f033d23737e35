// Package oracle resolves the fiat exchange rate used for settlement cost
// accounting, backed by the Etherscan stats endpoint.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrInvalidOracleConfig indicates missing oracle configuration.
	ErrInvalidOracleConfig = errors.New("oracle: invalid config")
	// ErrUnexpectedResponse indicates the price endpoint returned an envelope
	// the client cannot use.
	ErrUnexpectedResponse = errors.New("oracle: unexpected response")
)

// EtherscanConfig bundles configuration for the price client.
type EtherscanConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// EtherscanClient fetches the current ETH/USD rate.
type EtherscanClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewEtherscanClient constructs the price client with validated configuration.
func NewEtherscanClient(cfg EtherscanConfig) (*EtherscanClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidOracleConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EtherscanClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

type priceEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		EthUSD string `json:"ethusd"`
	} `json:"result"`
}

// FiatRate returns the current ETH/USD exchange rate.
func (c *EtherscanClient) FiatRate(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("module", "stats")
	query.Set("action", "ethprice")
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, response.StatusCode)
	}

	var envelope priceEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(envelope.Result.EthUSD), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ethusd %q", ErrUnexpectedResponse, envelope.Result.EthUSD)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate %v", ErrUnexpectedResponse, rate)
	}

	c.logger.Debug("fiat rate fetched", zap.Float64("eth_usd", rate))
	return rate, nil
}
