package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const jobColumns = `payload, status, created_at, started_at, finished_at, error`

const uniqueViolation = "23505"

// PostgresStore keeps jobs in the payout_jobs table created by Migrate.
// Claims use FOR UPDATE SKIP LOCKED so several processes can share one table,
// and a partial unique index keeps one processing job per bank.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger, now: time.Now}
}

func (s *PostgresStore) Submit(ctx context.Context, job *domain.PayoutJob) error {
	ctx, span := tracer.Start(ctx, "PostgresStore.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", job.TransactionID))

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO payout_jobs (transaction_id, bank_key, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		job.TransactionID, job.FromBankKey, string(job.Status), payload, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrDuplicate{Key: job.TransactionID}
	}
	return nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context, bankKey string) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.ClaimNext")
	defer span.End()
	span.SetAttributes(attribute.String("bank.key", bankKey))

	row := s.pool.QueryRow(ctx,
		`UPDATE payout_jobs SET status = 'processing', started_at = $2
		 WHERE seq = (
			SELECT p.seq FROM payout_jobs p
			WHERE p.status = 'pending' AND ($1 = '' OR p.bank_key = $1)
			  AND NOT EXISTS (
				SELECT 1 FROM payout_jobs b
				WHERE b.bank_key = p.bank_key AND b.status = 'processing'
			  )
			ORDER BY p.seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 )
		 RETURNING `+jobColumns,
		bankKey, s.now(),
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	// payout_jobs_processing_bank_idx rejects a concurrent second claim.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, transactionID string) error {
	ctx, span := tracer.Start(ctx, "PostgresStore.MarkDone")
	defer span.End()
	return s.finish(ctx, transactionID, domain.JobDone, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, transactionID, reason string) error {
	ctx, span := tracer.Start(ctx, "PostgresStore.MarkFailed")
	defer span.End()
	return s.finish(ctx, transactionID, domain.JobFailed, reason)
}

func (s *PostgresStore) finish(ctx context.Context, transactionID string, to domain.JobStatus, reason string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM payout_jobs WHERE transaction_id = $1 FOR UPDATE`,
			transactionID,
		)
		job, err := scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "job", ID: transactionID}
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		changed, err := applyTransition(job, to, reason, s.now())
		if err != nil || !changed {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE payout_jobs SET status = $2, finished_at = $3, error = $4 WHERE transaction_id = $1`,
			transactionID, string(job.Status), job.FinishedAt, job.Error,
		)
		return err
	})
}

func (s *PostgresStore) Get(ctx context.Context, transactionID string) (*domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.Get")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM payout_jobs WHERE transaction_id = $1`,
		transactionID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "job", ID: transactionID}
	}
	return job, err
}

func (s *PostgresStore) List(ctx context.Context, status domain.JobStatus) ([]domain.PayoutJob, error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.List")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM payout_jobs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY seq`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PayoutJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// scanJob decodes the payload and overlays the lifecycle columns, which are
// the source of truth after submission.
func scanJob(row pgx.Row) (*domain.PayoutJob, error) {
	var (
		payload    []byte
		status     string
		createdAt  time.Time
		startedAt  *time.Time
		finishedAt *time.Time
		errMsg     string
	)
	if err := row.Scan(&payload, &status, &createdAt, &startedAt, &finishedAt, &errMsg); err != nil {
		return nil, err
	}
	var job domain.PayoutJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = createdAt
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	job.Error = errMsg
	return &job, nil
}
