package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Payout queue
	QueueBackend string // "file" or "postgres"
	QueueFile    string
	DatabaseURL  string

	// Payout workers
	WorkerBanks   []string // bank keys served by this process, e.g. SCB,TTB
	IdleTimeout   time.Duration
	PollInterval  time.Duration
	OTPTimeout    time.Duration
	ScriptDir     string // directory holding per-bank automation scripts
	ScriptTimeout time.Duration

	// Browser (Chrome remote debugging)
	CDPURL    string
	LogoutURL string

	// Deposit watcher
	LedgerFile          string
	LedgerCapacity      int
	DepositIgnoreCodes  []string
	DepositPollInterval time.Duration
	DepositBankCode     string
	DepositDeviceID     string
	DepositMerchantCode string
	DepositToAccount    string
	DepositRowSelector  string
	DepositTimezone     string
	StatementURL        string
	RefreshSelector     string

	// ERIC integration API
	EricProfile          string // staging or production
	EricStagingURL       string
	EricStagingSecret    string
	EricProductionURL    string
	EricProductionSecret string
	CallbackDedupTTL     time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string

	// Auth
	WorkerJWTSecret  string
	WorkerJWTTTL     time.Duration
	PayoutAPIKeyHash string // bcrypt hash; empty disables the check
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 5000),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		QueueBackend: getEnv("QUEUE_BACKEND", "file"),
		QueueFile:    getEnv("QUEUE_FILE", "payout_queue.json"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		WorkerBanks:   getEnvList("WORKER_BANKS", []string{"SCB"}),
		IdleTimeout:   getEnvDuration("IDLE_TIMEOUT", 174*time.Second),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 2*time.Second),
		OTPTimeout:    getEnvDuration("OTP_TIMEOUT", 60*time.Second),
		ScriptDir:     getEnv("SCRIPT_DIR", "scripts"),
		ScriptTimeout: getEnvDuration("SCRIPT_TIMEOUT", 10*time.Minute),

		CDPURL:    getEnv("CDP_URL", "http://localhost:9222"),
		LogoutURL: getEnv("LOGOUT_URL", ""),

		LedgerFile:          getEnv("LEDGER_FILE", "last_seen.txt"),
		LedgerCapacity:      getEnvInt("LEDGER_CAPACITY", 20),
		DepositIgnoreCodes:  getEnvList("DEPOSIT_IGNORE_CODES", []string{"FE", "X2"}),
		DepositPollInterval: getEnvDuration("DEPOSIT_POLL_INTERVAL", 7*time.Second),
		DepositBankCode:     getEnv("DEPOSIT_BANK_CODE", "SCB_COMPANY_WEB"),
		DepositDeviceID:     getEnv("DEPOSIT_DEVICE_ID", ""),
		DepositMerchantCode: getEnv("DEPOSIT_MERCHANT_CODE", ""),
		DepositToAccount:    getEnv("DEPOSIT_TO_ACCOUNT", ""),
		DepositRowSelector:  getEnv("DEPOSIT_ROW_SELECTOR", "p.MuiTypography-body1"),
		DepositTimezone:     getEnv("DEPOSIT_TIMEZONE", "Asia/Bangkok"),
		StatementURL:        getEnv("DEPOSIT_STATEMENT_URL", ""),
		RefreshSelector:     getEnv("DEPOSIT_REFRESH_SELECTOR", ""),

		EricProfile:          getEnv("ERIC_PROFILE", "staging"),
		EricStagingURL:       getEnv("ERIC_STAGING_URL", "https://stg-bot-integration.cloudbdtech.com/integration-service"),
		EricStagingSecret:    getEnv("ERIC_STAGING_SECRET", ""),
		EricProductionURL:    getEnv("ERIC_PRODUCTION_URL", "https://bot-integration.cloudbdtech.com/integration-service"),
		EricProductionSecret: getEnv("ERIC_PRODUCTION_SECRET", ""),
		CallbackDedupTTL:     getEnvDuration("CALLBACK_DEDUP_TTL", 30*time.Minute),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 500*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		WorkerJWTSecret:  getEnv("WORKER_JWT_SECRET", ""),
		WorkerJWTTTL:     getEnvDuration("WORKER_JWT_TTL", 24*time.Hour),
		PayoutAPIKeyHash: getEnv("PAYOUT_API_KEY_HASH", ""),
	}
}

// EricEndpoint returns the base URL and shared secret of the selected profile.
func (c *Config) EricEndpoint() (baseURL, secret string) {
	if strings.EqualFold(c.EricProfile, "production") {
		return c.EricProductionURL, c.EricProductionSecret
	}
	return c.EricStagingURL, c.EricStagingSecret
}

// CDPURLFor returns the remote debugging URL of bank's Chrome instance.
// CDP_URL_<BANK> overrides the shared CDP_URL.
func (c *Config) CDPURLFor(bank string) string {
	return getEnv("CDP_URL_"+strings.ToUpper(bank), c.CDPURL)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
