package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/leaderboard-ledger/internal/auth"
	"github.com/leaderboard-ledger/internal/badger"
	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/handler"
	"github.com/leaderboard-ledger/internal/kafka"
	"github.com/leaderboard-ledger/internal/metrics"
	"github.com/leaderboard-ledger/internal/postgres"
	"github.com/leaderboard-ledger/internal/redis"
	"github.com/leaderboard-ledger/internal/service"
	"github.com/leaderboard-ledger/internal/sqlite"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/leaderboard-ledger/internal/websocket"
	"github.com/leaderboard-ledger/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	issueToken := flag.String("issue-token", "", "Print a bearer token for this identity and exit")
	flag.Parse()

	// Setup structured logging
	logger := newLogger(&config.LogConfig{})
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = newLogger(&cfg.Log)
	slog.SetDefault(logger)

	if *issueToken != "" {
		if err := printToken(cfg, domain.Identity(*issueToken)); err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the record store
	logger.Info("opening record store", "driver", cfg.Store.Driver)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open record store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var metricsManager *metrics.Manager
	if cfg.Metrics.Enabled {
		metricsManager = metrics.NewManager(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRuntimeMetrics(true),
		)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	ledgerService := service.NewLedgerService(st, logger,
		service.WithMetrics(metricsManager),
		service.WithNotifier(wsHub),
	)

	// Initialize stats worker
	statsWorker := worker.NewStatsWorker(ledgerService, wsHub, metricsManager, cfg.Stats.Interval, logger)
	if cfg.Stats.Enabled {
		if err := statsWorker.Start(ctx); err != nil {
			logger.Error("failed to start stats worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for high-load score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaConsumer = startConsumer(ctx, cfg, ledgerService, logger)
	}

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier = auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer, nil)
	} else {
		logger.Warn("bearer auth disabled, trusting identity header", "header", auth.IdentityHeader)
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(ledgerService, wsHub, metricsManager, verifier, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so no operation is cut off mid-flight
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := statsWorker.Stop(); err != nil {
		logger.Error("failed to stop stats worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

func newLogger(cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadConfig reads path, falling back to defaults plus environment when the
// file does not exist
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config file not found, using defaults and environment", "path", path)
		return config.FromEnv()
	}
	return cfg, err
}

// openStore opens the backend selected by store.driver
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	retries := cfg.Store.MaxConflictRetries
	switch cfg.Store.Driver {
	case config.DriverBadger:
		return badger.Open(&cfg.Store.Badger, retries, logger)
	case config.DriverSQLite:
		return sqlite.Open(&cfg.Store.SQLite, retries, logger)
	case config.DriverRedis:
		return redis.NewStore(&cfg.Store.Redis, retries, logger)
	case config.DriverPostgres:
		return postgres.NewStore(ctx, &cfg.Store.Postgres, retries, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}
}

func startConsumer(ctx context.Context, cfg *config.Config, ledger kafka.Ledger, logger *slog.Logger) *kafka.Consumer {
	logger.Info("initializing Kafka consumer",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
	)
	consumer, err := kafka.NewConsumer(&cfg.Kafka, ledger, logger)
	if err != nil {
		logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		return nil
	}
	startCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := consumer.Start(startCtx); err != nil {
		logger.Warn("Kafka consumer not ready, continuing without Kafka", "error", err)
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
		return nil
	}
	logger.Info("Kafka consumer started successfully")
	return consumer
}

func printToken(cfg *config.Config, id domain.Identity) error {
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not set")
	}
	token, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, nil).Issue(id, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
