package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a payout job.
// pending → processing → done | failed; done and failed are terminal.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no transition leaves s.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobDone, JobFailed:
		return true
	}
	return false
}

// Credentials are the bank portal login details carried by a job.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PIN      string `json:"pin"`
}

// PayoutJob is one withdrawal request as persisted in the queue.
type PayoutJob struct {
	TransactionID  string          `json:"transactionId"`
	DeviceID       string          `json:"deviceId"`
	MerchantCode   string          `json:"merchantCode"`
	FromBankCode   string          `json:"fromBankCode"`
	FromBankKey    string          `json:"fromBankKey"`
	FromAccountNum string          `json:"fromAccountNum"`
	ToBankCode     string          `json:"toBankCode"`
	ToAccountNum   string          `json:"toAccountNum"`
	ToAccountName  string          `json:"toAccountName"`
	Amount         decimal.Decimal `json:"amount"`
	Credentials

	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Redacted returns a copy safe to expose over the operator API.
func (j PayoutJob) Redacted() PayoutJob {
	j.Password = ""
	j.PIN = ""
	return j
}

// PayoutRequest is the inbound body of POST /payout and the per-bank trigger.
type PayoutRequest struct {
	DeviceID       string              `json:"deviceId"`
	MerchantCode   string              `json:"merchantCode"`
	FromBankCode   string              `json:"fromBankCode"`
	FromAccountNum string              `json:"fromAccountNum"`
	ToBankCode     string              `json:"toBankCode"`
	ToAccountNum   string              `json:"toAccountNum"`
	ToAccountName  string              `json:"toAccountName"`
	Amount         decimal.NullDecimal `json:"amount"`
	Username       string              `json:"username"`
	Password       string              `json:"password"`
	PIN            *string             `json:"pin"`
	TransactionID  string              `json:"transactionId"`
}

// Validate enforces required fields. Every field must be non-empty except
// pin, which only has to be present.
func (r *PayoutRequest) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"deviceId", r.DeviceID},
		{"merchantCode", r.MerchantCode},
		{"fromBankCode", r.FromBankCode},
		{"fromAccountNum", r.FromAccountNum},
		{"toBankCode", r.ToBankCode},
		{"toAccountNum", r.ToAccountNum},
		{"toAccountName", r.ToAccountName},
		{"username", r.Username},
		{"password", r.Password},
		{"transactionId", r.TransactionID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ErrValidation{Field: f.field, Message: "is required"}
		}
	}
	if !r.Amount.Valid {
		return &ErrValidation{Field: "amount", Message: "is required"}
	}
	if !r.Amount.Decimal.IsPositive() {
		return &ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	if r.PIN == nil {
		return &ErrValidation{Field: "pin", Message: "is required"}
	}
	if _, ok := BankKeyFor(r.FromBankCode); !ok {
		return &ErrValidation{Field: "fromBankCode", Message: "unsupported bank: " + r.FromBankCode}
	}
	return nil
}

// NewJob builds a pending job from a validated request.
func NewJob(r *PayoutRequest, now time.Time) *PayoutJob {
	key, _ := BankKeyFor(r.FromBankCode)
	pin := ""
	if r.PIN != nil {
		pin = *r.PIN
	}
	return &PayoutJob{
		TransactionID:  strings.TrimSpace(r.TransactionID),
		DeviceID:       r.DeviceID,
		MerchantCode:   r.MerchantCode,
		FromBankCode:   r.FromBankCode,
		FromBankKey:    key,
		FromAccountNum: r.FromAccountNum,
		ToBankCode:     r.ToBankCode,
		ToAccountNum:   r.ToAccountNum,
		ToAccountName:  r.ToAccountName,
		Amount:         r.Amount.Decimal,
		Credentials: Credentials{
			Username: r.Username,
			Password: r.Password,
			PIN:      pin,
		},
		Status:    JobPending,
		CreatedAt: now.UTC(),
	}
}

// bankKeys maps the bank codes callers send to the routing key a worker serves.
var bankKeys = map[string]string{
	"SCB":               "SCB",
	"SCB COMPANY WEB":   "SCB",
	"SCB_COMPANY_WEB":   "SCB",
	"TTB":               "TTB",
	"TTB COMPANY WEB":   "TTB",
	"TTB_COMPANY_WEB":   "TTB",
	"KBANK":             "KBANK",
	"KBANK COMPANY WEB": "KBANK",
	"KBANK_COMPANY_WEB": "KBANK",
	"KTB":               "KTB",
	"KTB COMPANY WEB":   "KTB",
	"KTB_COMPANY_WEB":   "KTB",
	"KMA":               "KMA",
	"KMA COMPANY WEB":   "KMA",
	"KMA_COMPANY_WEB":   "KMA",
	"KRUNGSRI":          "KMA",
}

// BankKeyFor normalizes a caller supplied bank code into a routing key.
func BankKeyFor(code string) (string, bool) {
	key, ok := bankKeys[strings.ToUpper(strings.TrimSpace(code))]
	return key, ok
}
