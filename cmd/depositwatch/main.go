package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/bankbot-go/internal/config"
	"github.com/boddenberg/bankbot-go/internal/deposit"
	"github.com/boddenberg/bankbot-go/internal/eric"
	"github.com/boddenberg/bankbot-go/internal/infra/browser"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"
	"github.com/boddenberg/bankbot-go/internal/ledger"

	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("bank_code", cfg.DepositBankCode),
		zap.String("ledger_file", cfg.LedgerFile),
		zap.Int("ledger_capacity", cfg.LedgerCapacity),
		zap.Strings("ignore_codes", cfg.DepositIgnoreCodes),
		zap.Duration("poll_interval", cfg.DepositPollInterval),
		zap.String("eric_profile", cfg.EricProfile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "depositwatch")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	metrics := observability.NewMetrics()

	loc, err := time.LoadLocation(cfg.DepositTimezone)
	if err != nil {
		logger.Fatal("invalid DEPOSIT_TIMEZONE", zap.String("tz", cfg.DepositTimezone), zap.Error(err))
	}

	// --- Ledger ---
	seen := ledger.NewFile(cfg.LedgerFile, cfg.LedgerCapacity, logger)
	if err := seen.Load(ctx); err != nil {
		// An unreadable ledger starts empty; the first window re-initializes it.
		logger.Error("ledger unreadable, starting empty", zap.Error(err))
	}

	// --- ERIC callback client ---
	ericURL, ericSecret := cfg.EricEndpoint()
	ericClient := eric.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		ericURL,
		ericSecret,
		resilience.NewCircuitBreaker("eric"),
		resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		},
		cfg.CallbackDedupTTL,
		metrics,
		logger,
	)
	defer ericClient.Close()

	// --- Browser ---
	if err := browser.WaitCDPReady(ctx, cfg.CDPURL, 10*time.Second); err != nil {
		logger.Warn("chrome remote debugging not ready yet", zap.String("cdp_url", cfg.CDPURL), zap.Error(err))
	}
	session := browser.NewSession(cfg.DepositBankCode, cfg.CDPURL, "", logger)
	reader := browser.NewBlockReader(session, browser.DefaultBlockLayout(cfg.DepositRowSelector))
	navigator := browser.NewNavigator(session, cfg.StatementURL, cfg.RefreshSelector)

	// --- Watcher ---
	detector := deposit.NewDetector(
		deposit.NewCodec(cfg.DepositIgnoreCodes...),
		seen,
		cfg.DepositBankCode,
		metrics,
		logger,
	)
	watchCfg := deposit.DefaultWatcherConfig()
	watchCfg.PollInterval = cfg.DepositPollInterval
	w := deposit.NewWatcher(session, navigator, reader, detector, ericClient,
		deposit.Account{
			BankCode:     cfg.DepositBankCode,
			DeviceID:     cfg.DepositDeviceID,
			MerchantCode: cfg.DepositMerchantCode,
			ToAccount:    cfg.DepositToAccount,
			Location:     loc,
		},
		watchCfg, metrics, logger,
	)

	logger.Info("deposit watcher starting")
	if err := w.Run(ctx); err != nil {
		logger.Error("deposit watcher stopped with error", zap.Error(err))
		return
	}
	logger.Info("deposit watcher stopped")
}
