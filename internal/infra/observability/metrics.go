package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	jobsSubmitted   *prometheus.CounterVec
	jobsClaimed     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	depositsFound   *prometheus.CounterVec
	ledgerDataLoss  *prometheus.CounterVec
	callbackErrors  *prometheus.CounterVec
	sessionRestarts *prometheus.CounterVec
	idleLogouts     *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		jobsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_payout_jobs_submitted_total",
				Help: "Payout jobs accepted into the queue.",
			},
			[]string{"bank"},
		),
		jobsClaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_payout_jobs_claimed_total",
				Help: "Payout jobs claimed by a worker.",
			},
			[]string{"bank"},
		),
		jobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_payout_jobs_finished_total",
				Help: "Payout jobs that reached a terminal state.",
			},
			[]string{"bank", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bankbot_payout_job_duration_seconds",
				Help:    "Wall time of one payout from claim to terminal state.",
				Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300, 600},
			},
			[]string{"bank"},
		),
		depositsFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_deposits_detected_total",
				Help: "New deposit transactions detected on the statement view.",
			},
			[]string{"bank"},
		),
		ledgerDataLoss: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_ledger_window_overflow_total",
				Help: "Polls where no ledger entry was visible; older deposits may be lost.",
			},
			[]string{"bank"},
		),
		callbackErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_callback_errors_total",
				Help: "Failed calls to the integration API.",
			},
			[]string{"type"},
		),
		sessionRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_session_restarts_total",
				Help: "Automation sessions torn down after an unexpected failure.",
			},
			[]string{"bank"},
		),
		idleLogouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_session_idle_logouts_total",
				Help: "Sessions released by the idle policy.",
			},
			[]string{"bank"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankbot_store_errors_total",
				Help: "Unreadable or unwritable queue and ledger stores.",
			},
			[]string{"store"},
		),
	}
}

// IncrJobSubmitted counts an accepted payout.
func (m *Metrics) IncrJobSubmitted(bank string) {
	m.jobsSubmitted.WithLabelValues(bank).Inc()
}

// IncrJobClaimed counts a claimed payout.
func (m *Metrics) IncrJobClaimed(bank string) {
	m.jobsClaimed.WithLabelValues(bank).Inc()
}

// RecordJobFinished counts a terminal payout and observes its duration.
func (m *Metrics) RecordJobFinished(bank, status string, d time.Duration) {
	m.jobsFinished.WithLabelValues(bank, status).Inc()
	m.jobDuration.WithLabelValues(bank).Observe(d.Seconds())
}

// AddDepositsDetected counts newly detected deposits.
func (m *Metrics) AddDepositsDetected(bank string, n int) {
	m.depositsFound.WithLabelValues(bank).Add(float64(n))
}

// IncrLedgerOverflow counts a poll where the ledger boundary scrolled out of view.
func (m *Metrics) IncrLedgerOverflow(bank string) {
	m.ledgerDataLoss.WithLabelValues(bank).Inc()
}

// IncrCallbackError counts a failed integration callback.
func (m *Metrics) IncrCallbackError(kind string) {
	m.callbackErrors.WithLabelValues(kind).Inc()
}

// IncrSessionRestart counts a forced session teardown.
func (m *Metrics) IncrSessionRestart(bank string) {
	m.sessionRestarts.WithLabelValues(bank).Inc()
}

// IncrIdleLogout counts an idle-policy teardown.
func (m *Metrics) IncrIdleLogout(bank string) {
	m.idleLogouts.WithLabelValues(bank).Inc()
}

// IncrStoreError counts a queue or ledger I/O failure.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// Snapshot returns cumulative counters summed across labels, for /healthz.
func (m *Metrics) Snapshot() map[string]float64 {
	return map[string]float64{
		"jobsSubmitted":   sumCounterVec(m.jobsSubmitted),
		"jobsClaimed":     sumCounterVec(m.jobsClaimed),
		"jobsFinished":    sumCounterVec(m.jobsFinished),
		"depositsFound":   sumCounterVec(m.depositsFound),
		"ledgerOverflows": sumCounterVec(m.ledgerDataLoss),
		"callbackErrors":  sumCounterVec(m.callbackErrors),
		"sessionRestarts": sumCounterVec(m.sessionRestarts),
		"idleLogouts":     sumCounterVec(m.idleLogouts),
		"storeErrors":     sumCounterVec(m.storeErrors),
	}
}

// CounterValue reads one labelled counter; used by tests and Snapshot.
func CounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return getCounterValue(cv.WithLabelValues(labels...))
}

// sumCounterVec collects every child series of a CounterVec and sums them.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := 0.0
	for metric := range ch {
		total += getCounterValue(metric)
	}
	return total
}

// getCounterValue extracts the current float64 value from a counter metric.
func getCounterValue(metric prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
