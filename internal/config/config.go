package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	envPrefix = "NOTARY"

	defaultHTTPAddress    = "0.0.0.0:5000"
	defaultDatabasePath   = "notary.db"
	defaultLogLevel       = "info"
	defaultBatchSchedule  = "0 3 * * *"
	defaultVerifySchedule = "30 * * * *"
	defaultHashBytes      = 32
	defaultBatchThreshold = 50
	defaultOracleBaseURL  = "https://api.etherscan.io/api"
)

// AppConfig captures runtime configuration for the notary API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	LedgerRPCURL     string
	LedgerChainID    int64
	LedgerPrivateKey string
	AnchorAccount    string
	AnchorHashBytes  int
	BatchSchedule    string
	VerifySchedule   string
	BatchThreshold   int

	OracleBaseURL string
	OracleAPIKey  string

	AuthJWKSURL  string
	AuthAudience string
	AuthIssuer   string

	IdentityUserinfoURL string
	ExplorerTxBaseURL   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("anchor.batch_schedule", defaultBatchSchedule)
	configViper.SetDefault("anchor.verify_schedule", defaultVerifySchedule)
	configViper.SetDefault("anchor.hash_bytes", defaultHashBytes)
	configViper.SetDefault("anchor.batch_threshold", defaultBatchThreshold)
	configViper.SetDefault("oracle.base_url", defaultOracleBaseURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		LedgerRPCURL:     configViper.GetString("ledger.rpc_url"),
		LedgerChainID:    configViper.GetInt64("ledger.chain_id"),
		LedgerPrivateKey: configViper.GetString("ledger.private_key"),
		AnchorAccount:    configViper.GetString("anchor.account"),
		AnchorHashBytes:  configViper.GetInt("anchor.hash_bytes"),
		BatchSchedule:    configViper.GetString("anchor.batch_schedule"),
		VerifySchedule:   configViper.GetString("anchor.verify_schedule"),
		BatchThreshold:   configViper.GetInt("anchor.batch_threshold"),

		OracleBaseURL: configViper.GetString("oracle.base_url"),
		OracleAPIKey:  configViper.GetString("oracle.api_key"),

		AuthJWKSURL:  configViper.GetString("auth.jwks_url"),
		AuthAudience: configViper.GetString("auth.audience"),
		AuthIssuer:   configViper.GetString("auth.issuer"),

		IdentityUserinfoURL: configViper.GetString("identity.userinfo_url"),
		ExplorerTxBaseURL:   configViper.GetString("explorer.tx_base_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.LedgerRPCURL) == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if c.LedgerChainID == 0 {
		return fmt.Errorf("ledger.chain_id is required")
	}
	if strings.TrimSpace(c.LedgerPrivateKey) == "" {
		return fmt.Errorf("ledger.private_key is required")
	}
	if !common.IsHexAddress(strings.TrimSpace(c.AnchorAccount)) {
		return fmt.Errorf("anchor.account must be a hex address")
	}
	if c.AnchorHashBytes <= 0 {
		return fmt.Errorf("anchor.hash_bytes must be positive")
	}
	if strings.TrimSpace(c.BatchSchedule) == "" {
		return fmt.Errorf("anchor.batch_schedule is required")
	}
	if strings.TrimSpace(c.VerifySchedule) == "" {
		return fmt.Errorf("anchor.verify_schedule is required")
	}
	if strings.TrimSpace(c.AuthJWKSURL) == "" {
		return fmt.Errorf("auth.jwks_url is required")
	}
	if strings.TrimSpace(c.AuthAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if strings.TrimSpace(c.IdentityUserinfoURL) == "" {
		return fmt.Errorf("identity.userinfo_url is required")
	}
	return nil
}
