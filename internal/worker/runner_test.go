package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/queue"
	"github.com/boddenberg/bankbot-go/internal/worker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAutomation records calls and hands out an OTP after otpAfter polls.
type fakeAutomation struct {
	mu       sync.Mutex
	calls    []string
	otpAfter int
	otpPolls int
	failAt   string

	// confirmStarted is closed when ConfirmTransfer begins; it then takes
	// confirmDelay to finish.
	confirmStarted chan struct{}
	confirmDelay   time.Duration
	confirmOnce    sync.Once

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (a *fakeAutomation) record(call string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
	if call == a.failAt {
		return errors.New(call + " failed")
	}
	return nil
}

func (a *fakeAutomation) Authenticate(_ context.Context, creds domain.Credentials) error {
	n := a.inFlight.Add(1)
	if n > a.maxInFlight.Load() {
		a.maxInFlight.Store(n)
	}
	return a.record("auth:" + creds.Username)
}

func (a *fakeAutomation) SubmitTransfer(_ context.Context, job *domain.PayoutJob) (string, error) {
	time.Sleep(5 * time.Millisecond)
	return "REF" + job.TransactionID, a.record("submit:" + job.TransactionID)
}

func (a *fakeAutomation) ResolveOTP(_ context.Context, ref string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.otpPolls++
	if a.otpAfter < 0 || a.otpPolls <= a.otpAfter {
		return "", nil
	}
	return "123456", nil
}

func (a *fakeAutomation) ConfirmTransfer(_ context.Context, job *domain.PayoutJob, otp string) error {
	defer a.inFlight.Add(-1)
	if a.confirmStarted != nil {
		a.confirmOnce.Do(func() { close(a.confirmStarted) })
	}
	time.Sleep(a.confirmDelay)
	return a.record("confirm:" + job.TransactionID + ":" + otp)
}

type fakeSender struct {
	mu      sync.Mutex
	payouts []domain.PayoutCallback
	err     error
}

func (s *fakeSender) sent() []domain.PayoutCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PayoutCallback(nil), s.payouts...)
}

func (s *fakeSender) SendDeposit(context.Context, domain.DepositCallback) error { return nil }

func (s *fakeSender) SendPayout(_ context.Context, cb domain.PayoutCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, cb)
	return s.err
}

func testJob(id string) *domain.PayoutJob {
	return &domain.PayoutJob{
		TransactionID: id,
		DeviceID:      "dev-1",
		MerchantCode:  "M01",
		FromBankCode:  "SCB_COMPANY_WEB",
		FromBankKey:   "SCB",
		ToAccountNum:  "222",
		Amount:        decimal.NewFromInt(100),
		Credentials:   domain.Credentials{Username: "alice", Password: "secret"},
		Status:        domain.JobPending,
		CreatedAt:     time.Now(),
	}
}

func testRunnerConfig() worker.RunnerConfig {
	return worker.RunnerConfig{PollInterval: 5 * time.Millisecond, OTPTimeout: 200 * time.Millisecond, OTPInterval: time.Millisecond}
}

func newRunner(t *testing.T, auto *fakeAutomation, sender *fakeSender) (*worker.PayoutRunner, *queue.FileStore) {
	t.Helper()
	store := queue.NewFileStore(filepath.Join(t.TempDir(), "payout_queue.json"), nil, zap.NewNop())
	w := newWorker(t, &fakeSession{})
	return worker.NewPayoutRunner("SCB", store, w, auto, sender, testRunnerConfig(), nil, zap.NewNop()), store
}

func TestWaitForOTP_ReturnsOnceAvailable(t *testing.T) {
	auto := &fakeAutomation{otpAfter: 3}

	otp, err := worker.WaitForOTP(context.Background(), auto, "REF1", time.Second, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "123456", otp)
	assert.Equal(t, 4, auto.otpPolls)
}

func TestWaitForOTP_TimesOut(t *testing.T) {
	auto := &fakeAutomation{otpAfter: -1}

	_, err := worker.WaitForOTP(context.Background(), auto, "REF1", 20*time.Millisecond, time.Millisecond)

	var timeout *domain.ErrOTPTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "REF1", timeout.Reference)
}

func TestExecute_RunsStepsInOrderAndReports(t *testing.T) {
	auto := &fakeAutomation{}
	sender := &fakeSender{}
	r, _ := newRunner(t, auto, sender)

	require.NoError(t, r.Execute(context.Background(), testJob("tx-1")))

	assert.Equal(t, []string{"auth:alice", "submit:tx-1", "confirm:tx-1:123456"}, auto.calls)
	require.Len(t, sender.payouts, 1)
	assert.Equal(t, domain.PayoutCallback{
		TransactionID: "tx-1",
		BankCode:      "SCB_COMPANY_WEB",
		DeviceID:      "dev-1",
		MerchantCode:  "M01",
	}, sender.payouts[0])
}

func TestExecute_CallbackFailureKeepsPayoutSuccessful(t *testing.T) {
	sender := &fakeSender{err: errors.New("502 bad gateway")}
	r, _ := newRunner(t, &fakeAutomation{}, sender)

	assert.NoError(t, r.Execute(context.Background(), testJob("tx-1")))
	assert.Len(t, sender.payouts, 1)
}

func TestExecute_AutomationErrorSkipsCallback(t *testing.T) {
	auto := &fakeAutomation{failAt: "submit:tx-1"}
	sender := &fakeSender{}
	r, _ := newRunner(t, auto, sender)

	err := r.Execute(context.Background(), testJob("tx-1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit transfer")
	assert.Empty(t, sender.payouts)
}

func TestExecute_ConcurrentJobsAreSingleFlight(t *testing.T) {
	auto := &fakeAutomation{}
	r, _ := newRunner(t, auto, &fakeSender{})

	var wg sync.WaitGroup
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Execute(context.Background(), testJob(id)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), auto.maxInFlight.Load())
}

func TestRun_DrainsQueueAndMarksJobs(t *testing.T) {
	auto := &fakeAutomation{failAt: "confirm:tx-2:123456"}
	sender := &fakeSender{}
	r, store := newRunner(t, auto, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Submit(ctx, testJob("tx-1")))
	require.NoError(t, store.Submit(ctx, testJob("tx-2")))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, _ := store.List(ctx, domain.JobPending)
		processing, _ := store.List(ctx, domain.JobProcessing)
		return len(pending) == 0 && len(processing) == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	first, err := store.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, first.Status)

	second, err := store.Get(context.Background(), "tx-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, second.Status)
	assert.Contains(t, second.Error, "confirm transfer")
}

func TestExecute_CancelDuringTransferStillReports(t *testing.T) {
	auto := &fakeAutomation{confirmStarted: make(chan struct{}), confirmDelay: 50 * time.Millisecond}
	sender := &fakeSender{}
	r, _ := newRunner(t, auto, sender)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- r.Execute(ctx, testJob("tx-1")) }()
	<-auto.confirmStarted
	cancel()

	require.NoError(t, <-errc)
	require.Len(t, sender.sent(), 1)
	assert.Equal(t, "tx-1", sender.sent()[0].TransactionID)
}

func TestRun_ShutdownDuringTransferMarksDone(t *testing.T) {
	auto := &fakeAutomation{confirmStarted: make(chan struct{}), confirmDelay: 100 * time.Millisecond}
	sender := &fakeSender{}
	r, store := newRunner(t, auto, sender)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Submit(ctx, testJob("tx-1")))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-auto.confirmStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never reached confirmation")
	}
	cancel()
	require.NoError(t, <-done)

	job, err := store.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, job.Status)
	assert.Empty(t, job.Error)
	assert.Len(t, sender.sent(), 1)
}

func TestRun_OTPTimeoutFailsJob(t *testing.T) {
	auto := &fakeAutomation{otpAfter: -1}
	r, store := newRunner(t, auto, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Submit(ctx, testJob("tx-1")))
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := store.Get(ctx, "tx-1")
		return err == nil && job.Status == domain.JobFailed
	}, 2*time.Second, 5*time.Millisecond)

	job, _ := store.Get(ctx, "tx-1")
	assert.Contains(t, job.Error, "otp not found for ref REFtx-1")
}

func TestRegistry(t *testing.T) {
	reg := worker.NewRegistry()
	r, _ := newRunner(t, &fakeAutomation{}, &fakeSender{})
	reg.Register(r)

	got, ok := reg.Runner("SCB")
	require.True(t, ok)
	assert.Same(t, r, got)

	_, ok = reg.Runner("TTB")
	assert.False(t, ok)

	health := reg.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "SCB", health[0].BankKey)
	assert.False(t, health[0].SessionActive)
}
