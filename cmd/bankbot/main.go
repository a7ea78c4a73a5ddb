package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/bankbot-go/internal/auth"
	"github.com/boddenberg/bankbot-go/internal/automation"
	"github.com/boddenberg/bankbot-go/internal/config"
	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/eric"
	"github.com/boddenberg/bankbot-go/internal/handler"
	"github.com/boddenberg/bankbot-go/internal/infra/browser"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"
	"github.com/boddenberg/bankbot-go/internal/port"
	"github.com/boddenberg/bankbot-go/internal/queue"
	"github.com/boddenberg/bankbot-go/internal/service"
	"github.com/boddenberg/bankbot-go/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("queue_backend", cfg.QueueBackend),
		zap.Strings("worker_banks", cfg.WorkerBanks),
		zap.String("eric_profile", cfg.EricProfile),
		zap.Duration("idle_timeout", cfg.IdleTimeout),
		zap.Duration("otp_timeout", cfg.OTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "bankbot")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Payout queue ---
	var store port.JobStore
	switch cfg.QueueBackend {
	case "postgres":
		if _, err := queue.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("failed to migrate payout queue", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		store = queue.NewPostgresStore(pool, logger)
		logger.Info("using postgres payout queue")
	default:
		store = queue.NewFileStore(cfg.QueueFile, metrics, logger)
		logger.Info("using file payout queue", zap.String("path", cfg.QueueFile))
	}

	// A job left in processing by a previous run may have moved money, so it
	// is never requeued. Its bank stays blocked until an operator fails it.
	if stuck, err := store.List(ctx, domain.JobProcessing); err == nil {
		for _, job := range stuck {
			logger.Warn("payout interrupted by previous run, resolve with POST /jobs/{id}/fail",
				zap.String("transactionId", job.TransactionID),
				zap.String("bank", job.FromBankKey),
			)
		}
	}

	// --- ERIC callback client ---
	ericURL, ericSecret := cfg.EricEndpoint()
	if ericSecret == "" {
		logger.Warn("ERIC secret not configured, callbacks will be rejected", zap.String("profile", cfg.EricProfile))
	}
	ericClient := eric.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		ericURL,
		ericSecret,
		resilience.NewCircuitBreaker("eric"),
		resilienceCfg,
		cfg.CallbackDedupTTL,
		metrics,
		logger,
	)
	defer ericClient.Close()

	// --- Session workers, one per bank ---
	registry := worker.NewRegistry()
	runnerCfg := worker.RunnerConfig{
		PollInterval: cfg.PollInterval,
		OTPTimeout:   cfg.OTPTimeout,
		OTPInterval:  time.Second,
	}
	for _, bank := range cfg.WorkerBanks {
		key, ok := domain.BankKeyFor(bank)
		if !ok {
			logger.Fatal("unsupported bank in WORKER_BANKS", zap.String("bank", bank))
		}
		cdpURL := cfg.CDPURLFor(key)
		session := browser.NewSession(key, cdpURL, cfg.LogoutURL, logger)
		sw := worker.NewSessionWorker(key, session, logger,
			worker.WithIdleTimeout(cfg.IdleTimeout),
			worker.WithMetrics(metrics),
		)
		script := automation.NewScript(cfg.ScriptDir, key, cfg.ScriptTimeout,
			[]string{"BANKBOT_CDP_URL=" + cdpURL}, logger)
		registry.Register(worker.NewPayoutRunner(key, store, sw, script, ericClient, runnerCfg, metrics, logger))
		logger.Info("payout worker registered", zap.String("bank", key), zap.String("cdp_url", cdpURL))
	}
	defer registry.Close()

	// --- Auth ---
	var issuer *auth.TokenIssuer
	if cfg.WorkerJWTSecret != "" {
		issuer = auth.NewTokenIssuer(cfg.WorkerJWTSecret, cfg.WorkerJWTTTL)
	} else {
		logger.Warn("WORKER_JWT_SECRET not set, /jobs routes are unauthenticated")
	}
	apiKeys := auth.NewAPIKeyChecker(cfg.PayoutAPIKeyHash)
	if !apiKeys.Enabled() {
		logger.Warn("PAYOUT_API_KEY_HASH not set, payout intake is unauthenticated")
	}

	// --- Services ---
	payoutSvc := service.NewPayoutService(store, registry, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.RouterDeps{
		Payouts: payoutSvc,
		Issuer:  issuer,
		APIKeys: apiKeys,
		Metrics: metrics,
		Logger:  logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: syncPayoutBudget(cfg) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return registry.Run(ctx)
	})

	// --- Graceful shutdown ---
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("bankbot stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// syncPayoutBudget bounds one runPython call: four automation script runs
// (login, submit, OTP lookup, confirm) plus the OTP wait.
func syncPayoutBudget(cfg *config.Config) time.Duration {
	return 4*cfg.ScriptTimeout + cfg.OTPTimeout
}
