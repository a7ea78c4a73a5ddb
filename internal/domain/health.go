package domain

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string             `json:"status"` // ok, degraded
	Queue    string             `json:"queue"`
	Workers  []WorkerHealth     `json:"workers"`
	Counters map[string]float64 `json:"counters,omitempty"`
}

// WorkerHealth reports the state of one bank's session worker.
type WorkerHealth struct {
	BankKey       string `json:"bankKey"`
	SessionActive bool   `json:"sessionActive"`
	Pending       int    `json:"pending"`
	LastActivity  string `json:"lastActivity,omitempty"`
}

// APIResponse is the envelope every control-plane endpoint answers with.
type APIResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// NextJobResponse is returned by POST /jobs/next. Job is null when nothing is pending.
type NextJobResponse struct {
	Success bool       `json:"success"`
	Job     *PayoutJob `json:"job"`
}
