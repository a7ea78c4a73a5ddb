package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"
	"github.com/boddenberg/bankbot-go/internal/queue"
	"github.com/boddenberg/bankbot-go/internal/service"
	"github.com/boddenberg/bankbot-go/internal/worker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSession struct{}

func (stubSession) Acquire(context.Context) error  { return nil }
func (stubSession) Release(context.Context) error  { return nil }
func (stubSession) IsHealthy(context.Context) bool { return true }

type stubAutomation struct {
	confirmErr error
}

func (stubAutomation) Authenticate(context.Context, domain.Credentials) error { return nil }

func (stubAutomation) SubmitTransfer(_ context.Context, job *domain.PayoutJob) (string, error) {
	return "REF-" + job.TransactionID, nil
}

func (stubAutomation) ResolveOTP(context.Context, string) (string, error) { return "123456", nil }

func (a stubAutomation) ConfirmTransfer(context.Context, *domain.PayoutJob, string) error {
	return a.confirmErr
}

type recordingSender struct {
	mu      sync.Mutex
	payouts []domain.PayoutCallback
}

func (s *recordingSender) SendDeposit(context.Context, domain.DepositCallback) error { return nil }

func (s *recordingSender) SendPayout(_ context.Context, cb domain.PayoutCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, cb)
	return nil
}

func validRequest(txID, bank string) *domain.PayoutRequest {
	pin := "1234"
	return &domain.PayoutRequest{
		DeviceID:       "dev-1",
		MerchantCode:   "M001",
		FromBankCode:   bank,
		FromAccountNum: "1112223334",
		ToBankCode:     "KBANK",
		ToAccountNum:   "9998887776",
		ToAccountName:  "Somchai",
		Amount:         decimal.NewNullDecimal(decimal.RequireFromString("150.50")),
		Username:       "ops",
		Password:       "secret",
		PIN:            &pin,
		TransactionID:  txID,
	}
}

type fixture struct {
	svc     *service.PayoutService
	store   *queue.FileStore
	sender  *recordingSender
	metrics *observability.Metrics
}

func newFixture(t *testing.T, automation stubAutomation) *fixture {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json"), metrics, logger)
	sender := &recordingSender{}

	w := worker.NewSessionWorker("SCB", stubSession{}, logger, worker.WithMetrics(metrics))
	t.Cleanup(w.Close)

	cfg := worker.DefaultRunnerConfig()
	cfg.OTPInterval = time.Millisecond
	cfg.OTPTimeout = time.Second
	reg := worker.NewRegistry()
	reg.Register(worker.NewPayoutRunner("SCB", store, w, automation, sender, cfg, metrics, logger))

	svc := service.NewPayoutService(store, reg, resilience.NewBulkhead(2), metrics, logger)
	return &fixture{svc: svc, store: store, sender: sender, metrics: metrics}
}

func TestPayoutService_Submit(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, validRequest("TX1", "SCB_COMPANY_WEB"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, "SCB", job.FromBankKey)
	assert.Equal(t, float64(1), f.metrics.Snapshot()["jobsSubmitted"])

	_, err = f.svc.Submit(ctx, validRequest("TX1", "SCB"))
	var dup *domain.ErrDuplicate
	assert.ErrorAs(t, err, &dup)
}

func TestPayoutService_SubmitRejectsInvalid(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	req := validRequest("TX1", "SCB")
	req.PIN = nil

	_, err := f.svc.Submit(context.Background(), req)
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pin", ve.Field)

	jobs, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPayoutService_ClaimAndFinish(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, validRequest("TX1", "SCB"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, validRequest("TX2", "TTB"))
	require.NoError(t, err)

	job, err := f.svc.ClaimNext(ctx, "ttb_company_web")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "TX2", job.TransactionID)
	assert.Equal(t, domain.JobProcessing, job.Status)

	require.NoError(t, f.svc.MarkFailed(ctx, "TX2", ""))
	got, err := f.svc.Get(ctx, "TX2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Equal(t, "unspecified failure", got.Error)

	job, err = f.svc.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, f.svc.MarkDone(ctx, "TX1"))

	// Terminal jobs ignore further transitions.
	require.NoError(t, f.svc.MarkFailed(ctx, "TX1", "late"))
	got, err = f.svc.Get(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, got.Status)

	job, err = f.svc.ClaimNext(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPayoutService_ClaimUnknownBank(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	_, err := f.svc.ClaimNext(context.Background(), "NOPE")
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestPayoutService_MarkDoneUnknownJob(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	err := f.svc.MarkDone(context.Background(), "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestPayoutService_MarkDonePendingConflicts(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, validRequest("TX1", "SCB"))
	require.NoError(t, err)

	err = f.svc.MarkDone(ctx, "TX1")
	var ce *domain.ErrConflict
	assert.ErrorAs(t, err, &ce)
}

func TestPayoutService_ListRedactsCredentials(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, validRequest("TX1", "SCB"))
	require.NoError(t, err)

	jobs, err := f.svc.List(ctx, "PENDING")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ops", jobs[0].Username)
	assert.Empty(t, jobs[0].Password)
	assert.Empty(t, jobs[0].PIN)

	_, err = f.svc.List(ctx, "archived")
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestPayoutService_RunSync(t *testing.T) {
	f := newFixture(t, stubAutomation{})

	job, err := f.svc.RunSync(context.Background(), "scb", validRequest("TX9", "SCB_COMPANY_WEB"))
	require.NoError(t, err)
	assert.Equal(t, "TX9", job.TransactionID)

	require.Len(t, f.sender.payouts, 1)
	assert.Equal(t, "TX9", f.sender.payouts[0].TransactionID)
	assert.Equal(t, "SCB_COMPANY_WEB", f.sender.payouts[0].BankCode)

	// Sync runs never touch the queue.
	jobs, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPayoutService_RunSyncFailure(t *testing.T) {
	f := newFixture(t, stubAutomation{confirmErr: errors.New("rejected by bank")})

	_, err := f.svc.RunSync(context.Background(), "SCB", validRequest("TX9", "SCB"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by bank")
	assert.Empty(t, f.sender.payouts)
}

func TestPayoutService_RunSyncRouting(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	ctx := context.Background()

	_, err := f.svc.RunSync(ctx, "ttb", validRequest("TX1", "TTB"))
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf, "no TTB worker registered")

	_, err = f.svc.RunSync(ctx, "scb", validRequest("TX1", "TTB"))
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve, "bank in body must match the trigger")

	_, err = f.svc.RunSync(ctx, "bogus", validRequest("TX1", "SCB"))
	assert.ErrorAs(t, err, &nf)
}

func TestPayoutService_Health(t *testing.T) {
	f := newFixture(t, stubAutomation{})
	require.NoError(t, f.svc.Ping(context.Background(), "SCB"))
	_, err := f.svc.RunSync(context.Background(), "SCB", validRequest("TX1", "SCB"))
	require.NoError(t, err)

	h := f.svc.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ok", h.Queue)
	require.Len(t, h.Workers, 1)
	assert.Equal(t, "SCB", h.Workers[0].BankKey)
	assert.True(t, h.Workers[0].SessionActive)
	assert.Contains(t, h.Counters, "jobsSubmitted")

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, f.svc.Ping(context.Background(), "KTB"), &nf)
}
