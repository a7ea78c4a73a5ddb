package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("deposit/watcher")

// Account identifies the watched bank account in callbacks.
type Account struct {
	BankCode     string
	DeviceID     string
	MerchantCode string
	ToAccount    string
	Location     *time.Location
}

// WatcherConfig controls the poll loop timing.
type WatcherConfig struct {
	PollInterval time.Duration
	// ExpiredBackoff is waited before reconnecting a closed session,
	// ErrorBackoff before restarting after any other failure.
	ExpiredBackoff time.Duration
	ErrorBackoff   time.Duration
}

// DefaultWatcherConfig matches the statement page's refresh cadence.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:   7 * time.Second,
		ExpiredBackoff: 3 * time.Second,
		ErrorBackoff:   5 * time.Second,
	}
}

// Watcher polls one account's statement and reports new deposits.
// It owns the session it is given.
type Watcher struct {
	session   port.Session
	navigator port.StatementNavigator
	reader    port.TransactionReader
	detector  *Detector
	sender    port.CallbackSender
	account   Account
	cfg       WatcherConfig
	metrics   *observability.Metrics
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewWatcher wires a watcher. metrics may be nil.
func NewWatcher(
	session port.Session,
	navigator port.StatementNavigator,
	reader port.TransactionReader,
	detector *Detector,
	sender port.CallbackSender,
	account Account,
	cfg WatcherConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Watcher {
	if account.Location == nil {
		account.Location = time.UTC
	}
	return &Watcher{
		session:   session,
		navigator: navigator,
		reader:    reader,
		detector:  detector,
		sender:    sender,
		account:   account,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Run polls until ctx is done. Failures never end the loop: the session is
// torn down and re-established after a short backoff.
func (w *Watcher) Run(ctx context.Context) error {
	connected := false
	for {
		if err := ctx.Err(); err != nil {
			w.release()
			return nil
		}

		if !connected {
			if err := w.connect(ctx); err != nil {
				w.logger.Error("failed to open statement", zap.String("bank", w.account.BankCode), zap.Error(err))
				if w.sleep(ctx, w.cfg.ErrorBackoff) != nil {
					w.release()
					return nil
				}
				continue
			}
			connected = true
		}

		n, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			connected = false
			backoff := w.cfg.ErrorBackoff
			var unavailable *domain.ErrSessionUnavailable
			if errors.As(err, &unavailable) || !w.session.IsHealthy(ctx) {
				backoff = w.cfg.ExpiredBackoff
				w.logger.Warn("session lost, reconnecting", zap.String("bank", w.account.BankCode), zap.Error(err))
			} else {
				w.logger.Error("poll failed, restarting session", zap.String("bank", w.account.BankCode), zap.Error(err))
			}
			w.release()
			if w.metrics != nil {
				w.metrics.IncrSessionRestart(w.account.BankCode)
			}
			_ = w.sleep(ctx, backoff)
			continue
		}

		w.logger.Debug("poll complete", zap.String("bank", w.account.BankCode), zap.Int("new", n))
		_ = w.sleep(ctx, w.cfg.PollInterval)
	}
}

// Poll runs one read, detect, report and refresh cycle and returns how many
// deposits were reported. Panics from the browser layer are returned as errors.
func (w *Watcher) Poll(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "Watcher.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("bank.code", w.account.BankCode))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panic: %v", r)
		}
	}()

	rows, err := w.reader.ReadVisibleTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("read transactions: %w", err)
	}

	fresh, err := w.detector.DetectNew(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("detect transactions: %w", err)
	}

	for _, sig := range fresh {
		cb, err := BuildDepositCallback(sig, w.account)
		if err != nil {
			w.logger.Error("skipping unparseable transaction", zap.String("signature", sig.String()), zap.Error(err))
			continue
		}
		w.logger.Info("new deposit",
			zap.String("bank", w.account.BankCode),
			zap.String("signature", sig.String()),
		)
		if err := w.sender.SendDeposit(ctx, cb); err != nil {
			// Ledger already advanced; reconcile from the log.
			w.logger.Error("deposit callback failed",
				zap.String("bank", w.account.BankCode),
				zap.String("rawMessage", cb.RawMessage),
				zap.Int64("transactionTime", cb.TransactionTime),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	span.SetAttributes(attribute.Int("deposits.reported", n))

	if err := w.navigator.RefreshStatement(ctx); err != nil {
		return n, fmt.Errorf("refresh statement: %w", err)
	}
	return n, nil
}

func (w *Watcher) connect(ctx context.Context) error {
	if err := w.session.Acquire(ctx); err != nil {
		return &domain.ErrSessionUnavailable{Session: w.account.BankCode, Err: err}
	}
	return w.navigator.OpenStatement(ctx)
}

func (w *Watcher) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.session.Release(ctx); err != nil {
		w.logger.Warn("session release failed", zap.String("bank", w.account.BankCode), zap.Error(err))
	}
}

// BuildDepositCallback turns a detected signature into the deposit payload:
// rawMessage is "{note}|{amount}|{toAccount}" and transactionTime the epoch
// milliseconds of the row's date and time in the account's timezone.
func BuildDepositCallback(sig domain.Signature, acct Account) (domain.DepositCallback, error) {
	parsed, err := ParseSignature(sig)
	if err != nil {
		return domain.DepositCallback{}, err
	}
	loc := acct.Location
	if loc == nil {
		loc = time.UTC
	}
	ts, err := parsed.Time(loc)
	if err != nil {
		return domain.DepositCallback{}, err
	}
	return domain.DepositCallback{
		BankCode:        acct.BankCode,
		DeviceID:        acct.DeviceID,
		MerchantCode:    acct.MerchantCode,
		RawMessage:      fmt.Sprintf("%s|%s|%s", parsed.Note, parsed.Amount, acct.ToAccount),
		TransactionTime: ts.UnixMilli(),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
