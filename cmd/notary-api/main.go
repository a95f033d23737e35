package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/indubia/notary/backend/internal/anchor"
	"github.com/indubia/notary/backend/internal/auth"
	"github.com/indubia/notary/backend/internal/config"
	"github.com/indubia/notary/backend/internal/database"
	"github.com/indubia/notary/backend/internal/documents"
	"github.com/indubia/notary/backend/internal/fingerprint"
	"github.com/indubia/notary/backend/internal/ledger"
	"github.com/indubia/notary/backend/internal/logging"
	"github.com/indubia/notary/backend/internal/metrics"
	"github.com/indubia/notary/backend/internal/notify"
	"github.com/indubia/notary/backend/internal/oracle"
	"github.com/indubia/notary/backend/internal/scheduler"
	"github.com/indubia/notary/backend/internal/server"
	"github.com/indubia/notary/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notary-api",
		Short: "Document notarization and blockchain anchoring service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("ledger-rpc-url", defaults.GetString("ledger.rpc_url"), "Chain RPC endpoint")
	cmd.PersistentFlags().Int64("ledger-chain-id", defaults.GetInt64("ledger.chain_id"), "Chain identifier")
	cmd.PersistentFlags().String("anchor-account", defaults.GetString("anchor.account"), "Notarization destination address")
	cmd.PersistentFlags().String("batch-schedule", defaults.GetString("anchor.batch_schedule"), "Cron expression for the batch cycle")
	cmd.PersistentFlags().String("verify-schedule", defaults.GetString("anchor.verify_schedule"), "Cron expression for the reconcile cycle")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ledger.rpc_url", "ledger-rpc-url")
	bindFlag(cmd, "ledger.chain_id", "ledger-chain-id")
	bindFlag(cmd, "anchor.account", "anchor-account")
	bindFlag(cmd, "anchor.batch_schedule", "batch-schedule")
	bindFlag(cmd, "anchor.verify_schedule", "verify-schedule")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := documents.NewStore(documents.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ledgerClient, err := ledger.Dial(ctx, ledger.ClientConfig{
		RPCURL:        appConfig.LedgerRPCURL,
		ChainID:       appConfig.LedgerChainID,
		PrivateKeyHex: appConfig.LedgerPrivateKey,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	priceOracle, err := oracle.NewEtherscanClient(oracle.EtherscanConfig{
		BaseURL: appConfig.OracleBaseURL,
		APIKey:  appConfig.OracleAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	engine, err := anchor.NewEngine(anchor.EngineConfig{
		Store:          store,
		Ledger:         ledgerClient,
		Oracle:         priceOracle,
		NotaryAccount:  common.HexToAddress(appConfig.AnchorAccount),
		HashByteWidth:  appConfig.AnchorHashBytes,
		BatchThreshold: appConfig.BatchThreshold,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	cycles, err := scheduler.New(scheduler.Config{
		BatchSchedule:     appConfig.BatchSchedule,
		ReconcileSchedule: appConfig.VerifySchedule,
		BatchJob:          engine.RunBatchCycle,
		ReconcileJob:      engine.RunReconcileCycle,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		Audience: appConfig.AuthAudience,
		JWKSURL:  appConfig.AuthJWKSURL,
		Issuer:   appConfig.AuthIssuer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		UserinfoURL: appConfig.IdentityUserinfoURL,
		IDProvider:  documents.NewUUIDProvider(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	deriver, err := fingerprint.NewDeriver(fingerprint.Params{
		Iterations: 100000,
		KeyLength:  64,
		SaltLength: 32,
	})
	if err != nil {
		return err
	}
	fingerprintService, err := fingerprint.NewService(fingerprint.ServiceConfig{
		Database: db,
		Deriver:  deriver,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics.RegisterCollectors(registry)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:          verifier,
		Users:             userService,
		Store:             store,
		Fingerprints:      fingerprintService,
		Notifier:          notify.NewLogNotifier(logger),
		Metrics:           registry,
		HashByteWidth:     appConfig.AnchorHashBytes,
		ExplorerTxBaseURL: appConfig.ExplorerTxBaseURL,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cycles.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cycles.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler did not drain before shutdown deadline", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
