package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const testPrivateKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

func TestDialValidatesConfig(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name string
		cfg  ClientConfig
	}{
		{name: "missing rpc url", cfg: ClientConfig{ChainID: 1, PrivateKeyHex: testPrivateKey}},
		{name: "missing chain id", cfg: ClientConfig{RPCURL: "http://127.0.0.1:8545", PrivateKeyHex: testPrivateKey}},
		{name: "missing key", cfg: ClientConfig{RPCURL: "http://127.0.0.1:8545", ChainID: 1}},
		{name: "malformed key", cfg: ClientConfig{RPCURL: "http://127.0.0.1:8545", ChainID: 1, PrivateKeyHex: "not-hex"}},
		{name: "truncated key", cfg: ClientConfig{RPCURL: "http://127.0.0.1:8545", ChainID: 1, PrivateKeyHex: "abcd"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Dial(ctx, testCase.cfg); !errors.Is(err, ErrInvalidClientConfig) {
				t.Fatalf("expected ErrInvalidClientConfig, got %v", err)
			}
		})
	}
}

func TestDialAcceptsPrefixedKey(t *testing.T) {
	// Key validation happens before the RPC dial, so a malformed scheme fails
	// after the key is accepted.
	_, err := Dial(context.Background(), ClientConfig{
		RPCURL:        "bogus://nowhere",
		ChainID:       1,
		PrivateKeyHex: "0x" + testPrivateKey,
	})
	if err == nil {
		t.Fatalf("expected dial failure for bogus scheme")
	}
	if errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected dial error, not config error: %v", err)
	}
	if !strings.Contains(err.Error(), "dial") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
