package domain

import "fmt"

// Error types for consistent error handling across the bot.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates a payout with the same transactionId was already submitted.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("transactionId already exists: %s", e.Key)
}

// ErrConflict indicates an illegal state transition.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrUnauthorized indicates a missing or invalid credential on an inbound call.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrSessionUnavailable indicates the browser/device session could not be
// established. Callers retry with backoff.
type ErrSessionUnavailable struct {
	Session string
	Err     error
}

func (e *ErrSessionUnavailable) Error() string {
	return fmt.Sprintf("session unavailable [%s]: %v", e.Session, e.Err)
}

func (e *ErrSessionUnavailable) Unwrap() error {
	return e.Err
}

// ErrOTPTimeout indicates no OTP matching the reference code arrived in time.
type ErrOTPTimeout struct {
	Reference string
	Waited    string
}

func (e *ErrOTPTimeout) Error() string {
	return fmt.Sprintf("otp not found for ref %s after %s", e.Reference, e.Waited)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrUpstreamCallback indicates the ERIC integration API call failed.
// The bank-side operation it reports has already happened.
type ErrUpstreamCallback struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ErrUpstreamCallback) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("callback %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("callback %s failed: %v", e.Endpoint, e.Err)
}

func (e *ErrUpstreamCallback) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrCorruptStore indicates a queue or ledger file could not be decoded.
type ErrCorruptStore struct {
	Path string
	Err  error
}

func (e *ErrCorruptStore) Error() string {
	return fmt.Sprintf("corrupt store %s: %v", e.Path, e.Err)
}

func (e *ErrCorruptStore) Unwrap() error {
	return e.Err
}

// ErrMalformedRow indicates a scraped transaction row is missing a field.
type ErrMalformedRow struct {
	Field string
	Index int
}

func (e *ErrMalformedRow) Error() string {
	return fmt.Sprintf("malformed transaction row %d: missing %s", e.Index, e.Field)
}
