// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the coordination
// logic (queue, ledger, worker, detector) from browsers, devices, files and
// the integration API.
package port

import (
	"context"

	"github.com/boddenberg/bankbot-go/internal/domain"
)

// Session is the single automation resource of one bank integration: a
// browser context attached over remote debugging, or a paired phone.
// It is owned by exactly one session worker.
type Session interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
}

// BankAutomation is the bank specific UI flow behind a payout. One
// implementation exists per bank; it drives the Session it was built with.
type BankAutomation interface {
	Authenticate(ctx context.Context, creds domain.Credentials) error
	// SubmitTransfer fills and submits the transfer form and returns the
	// reference code the bank displays next to its OTP prompt.
	SubmitTransfer(ctx context.Context, job *domain.PayoutJob) (string, error)
	// ResolveOTP returns the OTP for ref, or "" when it has not arrived yet.
	ResolveOTP(ctx context.Context, ref string) (string, error)
	ConfirmTransfer(ctx context.Context, job *domain.PayoutJob, otp string) error
}

// TransactionReader returns the statement rows currently visible, newest first.
type TransactionReader interface {
	ReadVisibleTransactions(ctx context.Context) ([]domain.RawTransactionRow, error)
}

// StatementNavigator logs in and brings the statement view on screen, and
// refreshes it between polls.
type StatementNavigator interface {
	OpenStatement(ctx context.Context) error
	RefreshStatement(ctx context.Context) error
}

// JobStore is the durable payout queue.
type JobStore interface {
	Submit(ctx context.Context, job *domain.PayoutJob) error
	// ClaimNext returns nil, nil when no pending job matches bankKey. A bank
	// with a job already in processing gets nothing until that job finishes.
	ClaimNext(ctx context.Context, bankKey string) (*domain.PayoutJob, error)
	MarkDone(ctx context.Context, transactionID string) error
	MarkFailed(ctx context.Context, transactionID, reason string) error
	Get(ctx context.Context, transactionID string) (*domain.PayoutJob, error)
	List(ctx context.Context, status domain.JobStatus) ([]domain.PayoutJob, error)
}

// Ledger records the most recently processed deposit signatures.
type Ledger interface {
	Load(ctx context.Context) error
	// RecordNewest inserts sigs, given oldest first, at the front of the
	// history. Signatures already present are left where they are.
	RecordNewest(ctx context.Context, sigs ...domain.Signature) error
	Contains(sig domain.Signature) bool
	Newest() (domain.Signature, bool)
	Empty() bool
}

// CallbackSender reports outcomes to the ERIC integration API.
type CallbackSender interface {
	SendDeposit(ctx context.Context, cb domain.DepositCallback) error
	SendPayout(ctx context.Context, cb domain.PayoutCallback) error
}
