// Package service provides the use cases the HTTP layer calls into.
// PayoutService accepts payout requests, hands jobs to remote workers and
// runs the synchronous per-bank trigger.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"
	"github.com/boddenberg/bankbot-go/internal/port"
	"github.com/boddenberg/bankbot-go/internal/worker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/payout")

// PayoutService orchestrates the payout queue and the per-bank workers.
type PayoutService struct {
	store    port.JobStore
	registry *worker.Registry
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPayoutService creates a payout service. registry may be empty when the
// process only accepts jobs for remote workers.
func NewPayoutService(
	store port.JobStore,
	registry *worker.Registry,
	bulkhead *resilience.Bulkhead,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PayoutService {
	if registry == nil {
		registry = worker.NewRegistry()
	}
	return &PayoutService{
		store:    store,
		registry: registry,
		bulkhead: bulkhead,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit validates req and enqueues it as a pending job.
func (s *PayoutService) Submit(ctx context.Context, req *domain.PayoutRequest) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.Submit")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := domain.NewJob(req, s.now())
	span.SetAttributes(
		attribute.String("transaction.id", job.TransactionID),
		attribute.String("bank.key", job.FromBankKey),
	)

	if err := s.store.Submit(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.IncrJobSubmitted(job.FromBankKey)
	s.logger.Info("payout queued",
		zap.String("transactionId", job.TransactionID),
		zap.String("bank", job.FromBankKey),
		zap.String("amount", job.Amount.String()),
	)
	return job, nil
}

// RunSync executes req right away on the named bank's session worker and
// waits for the outcome. The job never touches the queue. pathBank is the
// bank segment of the trigger URL and must agree with fromBankCode.
func (s *PayoutService) RunSync(ctx context.Context, pathBank string, req *domain.PayoutRequest) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.RunSync")
	defer span.End()

	key, ok := domain.BankKeyFor(pathBank)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bank", ID: pathBank}
	}
	runner, ok := s.registry.Runner(key)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "worker", ID: key}
	}
	if req.FromBankCode == "" {
		req.FromBankCode = key
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := domain.NewJob(req, s.now())
	if job.FromBankKey != key {
		return nil, &domain.ErrValidation{
			Field:   "fromBankCode",
			Message: "does not match " + strings.ToLower(key) + " trigger",
		}
	}
	span.SetAttributes(attribute.String("transaction.id", job.TransactionID), attribute.String("bank.key", key))

	if s.bulkhead != nil {
		if err := s.bulkhead.Acquire(ctx); err != nil {
			return nil, &domain.ErrTimeout{Operation: "waiting for " + key + " worker"}
		}
		defer s.bulkhead.Release()
	}

	start := time.Now()
	err := runner.Execute(ctx, job)
	status := domain.JobDone
	if err != nil {
		status = domain.JobFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("sync payout failed", zap.String("transactionId", job.TransactionID), zap.Error(err))
	}
	s.metrics.RecordJobFinished(key, string(status), time.Since(start))
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext hands the oldest pending job of bankKey to a remote worker.
// A nil job means the queue is empty for that bank.
func (s *PayoutService) ClaimNext(ctx context.Context, bankKey string) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.ClaimNext")
	defer span.End()

	if bankKey != "" {
		k, ok := domain.BankKeyFor(bankKey)
		if !ok {
			return nil, &domain.ErrValidation{Field: "fromBankKey", Message: "unsupported bank: " + bankKey}
		}
		bankKey = k
	}
	job, err := s.store.ClaimNext(ctx, bankKey)
	if err != nil || job == nil {
		return nil, err
	}
	s.metrics.IncrJobClaimed(job.FromBankKey)
	return job, nil
}

// MarkDone records a successful remote execution.
func (s *PayoutService) MarkDone(ctx context.Context, transactionID string) error {
	ctx, span := tracer.Start(ctx, "PayoutService.MarkDone")
	defer span.End()

	return s.finish(ctx, transactionID, domain.JobDone, "")
}

// MarkFailed records a failed remote execution with its reason.
func (s *PayoutService) MarkFailed(ctx context.Context, transactionID, reason string) error {
	ctx, span := tracer.Start(ctx, "PayoutService.MarkFailed")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		reason = "unspecified failure"
	}
	return s.finish(ctx, transactionID, domain.JobFailed, reason)
}

func (s *PayoutService) finish(ctx context.Context, transactionID string, status domain.JobStatus, reason string) error {
	job, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if status == domain.JobDone {
		err = s.store.MarkDone(ctx, transactionID)
	} else {
		err = s.store.MarkFailed(ctx, transactionID, reason)
	}
	if err != nil {
		return err
	}
	if job.Status != status && !job.Status.Terminal() {
		var d time.Duration
		if job.StartedAt != nil {
			d = s.now().Sub(*job.StartedAt)
		}
		s.metrics.RecordJobFinished(job.FromBankKey, string(status), d)
	}
	s.logger.Info("payout finished by worker",
		zap.String("transactionId", transactionID),
		zap.String("status", string(status)),
	)
	return nil
}

// Get returns one job with credentials removed.
func (s *PayoutService) Get(ctx context.Context, transactionID string) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.Get")
	defer span.End()

	job, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	r := job.Redacted()
	return &r, nil
}

// List returns jobs in submission order, optionally filtered by status, with
// credentials removed.
func (s *PayoutService) List(ctx context.Context, status string) ([]domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.List")
	defer span.End()

	st := domain.JobStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown status: " + status}
	}
	jobs, err := s.store.List(ctx, st)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PayoutJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Redacted())
	}
	return out, nil
}

// Ping resets the idle timer of the named bank's session worker.
func (s *PayoutService) Ping(ctx context.Context, bankKey string) error {
	key, ok := domain.BankKeyFor(bankKey)
	if !ok {
		return &domain.ErrNotFound{Resource: "bank", ID: bankKey}
	}
	runner, ok := s.registry.Runner(key)
	if !ok {
		return &domain.ErrNotFound{Resource: "worker", ID: key}
	}
	return runner.Worker().Ping(ctx)
}

// Health reports queue reachability, per-bank session state and counters.
func (s *PayoutService) Health(ctx context.Context) *domain.HealthStatus {
	h := &domain.HealthStatus{
		Status:   "ok",
		Queue:    "ok",
		Workers:  s.registry.Health(),
		Counters: s.metrics.Snapshot(),
	}
	if _, err := s.store.List(ctx, domain.JobPending); err != nil {
		s.logger.Warn("queue health check failed", zap.Error(err))
		h.Status = "degraded"
		h.Queue = "unavailable"
	}
	return h
}
