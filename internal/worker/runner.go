package worker

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
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("worker")

// RunnerConfig controls the claim loop and OTP wait.
type RunnerConfig struct {
	PollInterval time.Duration
	OTPTimeout   time.Duration
	OTPInterval  time.Duration
}

// DefaultRunnerConfig returns the production timings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: 2 * time.Second,
		OTPTimeout:   DefaultOTPTimeout,
		OTPInterval:  time.Second,
	}
}

// PayoutRunner claims one bank's jobs from the queue and executes them on
// that bank's session worker.
type PayoutRunner struct {
	bankKey    string
	store      port.JobStore
	worker     *SessionWorker
	automation port.BankAutomation
	sender     port.CallbackSender
	cfg        RunnerConfig
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewPayoutRunner wires a runner. metrics may be nil.
func NewPayoutRunner(
	bankKey string,
	store port.JobStore,
	worker *SessionWorker,
	automation port.BankAutomation,
	sender port.CallbackSender,
	cfg RunnerConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PayoutRunner {
	return &PayoutRunner{
		bankKey:    bankKey,
		store:      store,
		worker:     worker,
		automation: automation,
		sender:     sender,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With(zap.String("bank", bankKey)),
	}
}

// BankKey returns the bank this runner serves.
func (r *PayoutRunner) BankKey() string { return r.bankKey }

// Worker returns the session worker jobs run on.
func (r *PayoutRunner) Worker() *SessionWorker { return r.worker }

// Run polls the queue until ctx is done. Empty polls do not touch the
// worker, so the idle policy still logs out an unused session.
func (r *PayoutRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			job, err := r.store.ClaimNext(ctx, r.bankKey)
			if err != nil {
				r.logger.Error("claim failed", zap.Error(err))
				break
			}
			if job == nil {
				break
			}
			r.handleClaimed(ctx, job)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// handleClaimed executes a claimed job and records its terminal state. A
// claimed job is detached from ctx: shutdown waits for it instead of
// recording a failure while the transfer is still running.
func (r *PayoutRunner) handleClaimed(ctx context.Context, job *domain.PayoutJob) {
	if r.metrics != nil {
		r.metrics.IncrJobClaimed(r.bankKey)
	}
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	err := r.Execute(ctx, job)

	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status := domain.JobDone
	if err != nil {
		status = domain.JobFailed
		r.logger.Error("payout failed", zap.String("transactionId", job.TransactionID), zap.Error(err))
		if markErr := r.store.MarkFailed(storeCtx, job.TransactionID, err.Error()); markErr != nil {
			r.logger.Error("mark failed", zap.String("transactionId", job.TransactionID), zap.Error(markErr))
		}
	} else {
		r.logger.Info("payout done", zap.String("transactionId", job.TransactionID))
		if markErr := r.store.MarkDone(storeCtx, job.TransactionID); markErr != nil {
			r.logger.Error("mark done", zap.String("transactionId", job.TransactionID), zap.Error(markErr))
		}
	}
	if r.metrics != nil {
		r.metrics.RecordJobFinished(r.bankKey, string(status), time.Since(start))
	}
}

// Execute runs one payout on the session worker: login, transfer, OTP and
// confirmation, then reports it to the integration API. A failed callback
// does not fail the payout since the money has already moved. If ctx ends
// after the transfer started, Execute still waits for it and reports it.
func (r *PayoutRunner) Execute(ctx context.Context, job *domain.PayoutJob) error {
	ctx, span := tracer.Start(ctx, "PayoutRunner.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", job.TransactionID),
		attribute.String("bank.key", r.bankKey),
	)

	_, err := r.worker.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, r.transfer(ctx, job)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cb := domain.PayoutCallback{
		TransactionID: job.TransactionID,
		BankCode:      job.FromBankCode,
		DeviceID:      job.DeviceID,
		MerchantCode:  job.MerchantCode,
	}
	if err := r.sender.SendPayout(context.WithoutCancel(ctx), cb); err != nil {
		var upstream *domain.ErrUpstreamCallback
		if !errors.As(err, &upstream) {
			err = &domain.ErrUpstreamCallback{Endpoint: "payoutScriptCallback", Err: err}
		}
		// Transfer already happened; reconcile from the log.
		r.logger.Error("payout callback failed",
			zap.String("transactionId", job.TransactionID),
			zap.Error(err),
		)
	}
	return nil
}

func (r *PayoutRunner) transfer(ctx context.Context, job *domain.PayoutJob) error {
	if err := r.automation.Authenticate(ctx, job.Credentials); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	ref, err := r.automation.SubmitTransfer(ctx, job)
	if err != nil {
		return fmt.Errorf("submit transfer: %w", err)
	}
	r.logger.Debug("waiting for otp", zap.String("transactionId", job.TransactionID), zap.String("ref", ref))

	otp, err := WaitForOTP(ctx, r.automation, ref, r.cfg.OTPTimeout, r.cfg.OTPInterval)
	if err != nil {
		return err
	}
	if err := r.automation.ConfirmTransfer(ctx, job, otp); err != nil {
		return fmt.Errorf("confirm transfer: %w", err)
	}
	return nil
}
