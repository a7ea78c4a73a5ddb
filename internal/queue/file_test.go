package queue_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/port"
	"github.com/boddenberg/bankbot-go/internal/queue"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ port.JobStore = (*queue.FileStore)(nil)

func newJob(id, bankKey string) *domain.PayoutJob {
	return &domain.PayoutJob{
		TransactionID:  id,
		DeviceID:       "dev-1",
		MerchantCode:   "M01",
		FromBankCode:   bankKey + " COMPANY WEB",
		FromBankKey:    bankKey,
		FromAccountNum: "111",
		ToBankCode:     "KBANK",
		ToAccountNum:   "222",
		ToAccountName:  "Somchai",
		Amount:         decimal.RequireFromString("150.25"),
		Credentials:    domain.Credentials{Username: "u", Password: "p"},
		Status:         domain.JobPending,
		CreatedAt:      time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newStore(t *testing.T) (*queue.FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payout_queue.json")
	return queue.NewFileStore(path, nil, zap.NewNop()), path
}

func TestFileStore_SubmitRejectsDuplicate(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, newJob("tx-1", "SCB")))

	second := newJob("tx-1", "TTB")
	second.ToAccountName = "Other"
	err := s.Submit(ctx, second)

	var dup *domain.ErrDuplicate
	require.True(t, errors.As(err, &dup))
	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "Somchai", got.ToAccountName)
	assert.Equal(t, "SCB", got.FromBankKey)
}

func TestFileStore_SubmitRejectsDuplicateOfTerminalJob(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, newJob("tx-1", "SCB")))
	_, err := s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(ctx, "tx-1"))

	var dup *domain.ErrDuplicate
	assert.True(t, errors.As(s.Submit(ctx, newJob("tx-1", "SCB")), &dup))
}

func TestFileStore_ClaimNextIsFIFO(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, s.Submit(ctx, newJob(id, "SCB")))
	}

	for _, want := range []string{"tx-1", "tx-2", "tx-3"} {
		job, err := s.ClaimNext(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.TransactionID)
		assert.Equal(t, domain.JobProcessing, job.Status)
		assert.NotNil(t, job.StartedAt)
		require.NoError(t, s.MarkDone(ctx, want))
	}

	job, err := s.ClaimNext(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFileStore_ClaimNextRoutesByBankKey(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, newJob("tx-scb", "SCB")))
	require.NoError(t, s.Submit(ctx, newJob("tx-ttb", "TTB")))

	job, err := s.ClaimNext(ctx, "TTB")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tx-ttb", job.TransactionID)

	job, err = s.ClaimNext(ctx, "TTB")
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tx-scb", job.TransactionID)
}

func TestFileStore_ClaimNextOneProcessingPerBank(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, newJob("tx-a", "SCB")))
	require.NoError(t, s.Submit(ctx, newJob("tx-b", "SCB")))
	require.NoError(t, s.Submit(ctx, newJob("tx-c", "TTB")))

	job, err := s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tx-a", job.TransactionID)

	job, err = s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	assert.Nil(t, job, "SCB session is still busy with tx-a")

	job, err = s.ClaimNext(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tx-c", job.TransactionID, "an unfiltered claim skips the busy bank")

	processing, err := s.List(ctx, domain.JobProcessing)
	require.NoError(t, err)
	assert.Len(t, processing, 2)

	require.NoError(t, s.MarkFailed(ctx, "tx-a", "otp timeout"))
	job, err = s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "tx-b", job.TransactionID)
}

func TestFileStore_ClaimNextOnMissingFile(t *testing.T) {
	s, _ := newStore(t)

	job, err := s.ClaimNext(context.Background(), "SCB")

	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFileStore_TerminalMarksAreIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, newJob("tx-1", "SCB")))
	require.NoError(t, s.Submit(ctx, newJob("tx-2", "TTB")))
	_, err := s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx, "TTB")
	require.NoError(t, err)

	require.NoError(t, s.MarkDone(ctx, "tx-1"))
	done, _ := s.Get(ctx, "tx-1")
	require.NoError(t, s.MarkDone(ctx, "tx-1"))
	require.NoError(t, s.MarkFailed(ctx, "tx-1", "late failure"))
	again, _ := s.Get(ctx, "tx-1")
	assert.Equal(t, domain.JobDone, again.Status)
	assert.Equal(t, done.FinishedAt, again.FinishedAt)
	assert.Empty(t, again.Error)

	require.NoError(t, s.MarkFailed(ctx, "tx-2", "otp timeout"))
	require.NoError(t, s.MarkFailed(ctx, "tx-2", "second"))
	failed, _ := s.Get(ctx, "tx-2")
	assert.Equal(t, domain.JobFailed, failed.Status)
	assert.Equal(t, "otp timeout", failed.Error)
	assert.NotNil(t, failed.FinishedAt)
}

func TestFileStore_MarkPendingJob(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, newJob("tx-1", "SCB")))

	var conflict *domain.ErrConflict
	assert.True(t, errors.As(s.MarkDone(ctx, "tx-1"), &conflict))

	require.NoError(t, s.MarkFailed(ctx, "tx-1", "cancelled"))
	job, _ := s.Get(ctx, "tx-1")
	assert.Equal(t, domain.JobFailed, job.Status)
}

func TestFileStore_UnknownJob(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var nf *domain.ErrNotFound
	assert.True(t, errors.As(s.MarkDone(ctx, "nope"), &nf))
	assert.True(t, errors.As(s.MarkFailed(ctx, "nope", "x"), &nf))
	_, err := s.Get(ctx, "nope")
	assert.True(t, errors.As(err, &nf))
}

func TestFileStore_CorruptFileIsNeverOverwritten(t *testing.T) {
	s, path := newStore(t)
	ctx := context.Background()
	garbage := []byte(`[{"transactionId": "tx-1", "status": "pend`)
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	job, err := s.ClaimNext(ctx, "SCB")
	require.NoError(t, err)
	assert.Nil(t, job)

	jobs, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	var corrupt *domain.ErrCorruptStore
	assert.True(t, errors.As(s.Submit(ctx, newJob("tx-2", "SCB")), &corrupt))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, garbage, data)
}

func TestFileStore_ListFiltersByStatus(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, s.Submit(ctx, newJob(id, "SCB")))
	}
	_, err := s.ClaimNext(ctx, "")
	require.NoError(t, err)

	pending, err := s.List(ctx, domain.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "tx-2", pending[0].TransactionID)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileStore_ConcurrentClaimsHandOutOneJobPerBank(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, s.Submit(ctx, newJob(string(rune('a'+i)), "SCB")))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNext(ctx, "SCB")
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			claimed[job.TransactionID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"a": 1}, claimed)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	s, path := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, newJob("tx-1", "SCB")))

	reopened := queue.NewFileStore(path, nil, zap.NewNop())
	job, err := reopened.Get(ctx, "tx-1")

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("150.25").Equal(job.Amount))
	assert.Equal(t, "u", job.Username)
}
