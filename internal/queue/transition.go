// Package queue persists payout jobs and hands them to workers one at a time.
// Two stores are provided: a JSON file snapshot and a Postgres table.
package queue

import (
	"fmt"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
)

// applyTransition moves job to a terminal status. It reports whether the job
// changed; a job that is already terminal is left alone so completion
// callbacks can be retried safely.
func applyTransition(job *domain.PayoutJob, to domain.JobStatus, reason string, now time.Time) (bool, error) {
	if job.Status.Terminal() {
		return false, nil
	}
	switch {
	case job.Status == domain.JobProcessing:
	case job.Status == domain.JobPending && to == domain.JobFailed:
		// cancelled before any worker claimed it
	default:
		return false, &domain.ErrConflict{
			Message: fmt.Sprintf("job %s is %s, cannot mark %s", job.TransactionID, job.Status, to),
		}
	}

	job.Status = to
	job.FinishedAt = &now
	if to == domain.JobFailed {
		job.Error = reason
	}
	return true, nil
}

// matchesBank reports whether a pending job may be claimed by a worker for
// bankKey. An empty key matches every job.
func matchesBank(job *domain.PayoutJob, bankKey string) bool {
	return bankKey == "" || job.FromBankKey == bankKey
}

// busyBanks returns the bank keys that already have a job in processing.
// Each bank has one session, so none of them may be claimed again until that
// job finishes.
func busyBanks(jobs []domain.PayoutJob) map[string]bool {
	busy := make(map[string]bool)
	for i := range jobs {
		if jobs[i].Status == domain.JobProcessing {
			busy[jobs[i].FromBankKey] = true
		}
	}
	return busy
}
