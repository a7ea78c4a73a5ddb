package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/atomicfile"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("queue")

// FileStore keeps the whole queue as a JSON array in one file. Every
// mutation reads the file, changes it in memory and replaces it atomically.
type FileStore struct {
	path    string
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store at path. metrics may be nil.
func NewFileStore(path string, metrics *observability.Metrics, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, metrics: metrics, logger: logger, now: time.Now}
}

func (s *FileStore) Submit(ctx context.Context, job *domain.PayoutJob) error {
	_, span := tracer.Start(ctx, "FileStore.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", job.TransactionID))

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].TransactionID == job.TransactionID {
			return &domain.ErrDuplicate{Key: job.TransactionID}
		}
	}
	jobs = append(jobs, *job)
	return s.save(jobs)
}

func (s *FileStore) ClaimNext(ctx context.Context, bankKey string) (*domain.PayoutJob, error) {
	_, span := tracer.Start(ctx, "FileStore.ClaimNext")
	defer span.End()
	span.SetAttributes(attribute.String("bank.key", bankKey))

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		// Leave the file alone and try again on the next poll.
		return nil, nil
	}
	busy := busyBanks(jobs)
	for i := range jobs {
		j := &jobs[i]
		if j.Status != domain.JobPending || !matchesBank(j, bankKey) || busy[j.FromBankKey] {
			continue
		}
		now := s.now()
		j.Status = domain.JobProcessing
		j.StartedAt = &now
		if err := s.save(jobs); err != nil {
			return nil, err
		}
		claimed := *j
		return &claimed, nil
	}
	return nil, nil
}

func (s *FileStore) MarkDone(ctx context.Context, transactionID string) error {
	_, span := tracer.Start(ctx, "FileStore.MarkDone")
	defer span.End()
	return s.finish(transactionID, domain.JobDone, "")
}

func (s *FileStore) MarkFailed(ctx context.Context, transactionID, reason string) error {
	_, span := tracer.Start(ctx, "FileStore.MarkFailed")
	defer span.End()
	return s.finish(transactionID, domain.JobFailed, reason)
}

func (s *FileStore) finish(transactionID string, to domain.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].TransactionID != transactionID {
			continue
		}
		changed, err := applyTransition(&jobs[i], to, reason, s.now())
		if err != nil || !changed {
			return err
		}
		return s.save(jobs)
	}
	return &domain.ErrNotFound{Resource: "job", ID: transactionID}
}

func (s *FileStore) Get(ctx context.Context, transactionID string) (*domain.PayoutJob, error) {
	_, span := tracer.Start(ctx, "FileStore.Get")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, _ := s.load()
	for i := range jobs {
		if jobs[i].TransactionID == transactionID {
			j := jobs[i]
			return &j, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "job", ID: transactionID}
}

// List returns jobs in queue order, optionally filtered by status.
func (s *FileStore) List(ctx context.Context, status domain.JobStatus) ([]domain.PayoutJob, error) {
	_, span := tracer.Start(ctx, "FileStore.List")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, _ := s.load()
	out := make([]domain.PayoutJob, 0, len(jobs))
	for _, j := range jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

// load reads the queue. A missing or empty file is an empty queue. An
// unreadable file is reported as *domain.ErrCorruptStore; callers that only
// read treat it as empty, callers that write refuse to overwrite it.
func (s *FileStore) load() ([]domain.PayoutJob, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err == nil {
		if len(data) == 0 {
			return nil, nil
		}
		var jobs []domain.PayoutJob
		if err = json.Unmarshal(data, &jobs); err == nil {
			return jobs, nil
		}
	}

	s.logger.Error("queue file unreadable", zap.String("path", s.path), zap.Error(err))
	if s.metrics != nil {
		s.metrics.IncrStoreError("queue")
	}
	return nil, &domain.ErrCorruptStore{Path: s.path, Err: err}
}

func (s *FileStore) save(jobs []domain.PayoutJob) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(s.path, data, 0o600); err != nil {
		if s.metrics != nil {
			s.metrics.IncrStoreError("queue")
		}
		return err
	}
	return nil
}
