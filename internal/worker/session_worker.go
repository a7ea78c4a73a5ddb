// Package worker runs payout automation against one shared bank session at
// a time and drives the claim loop that feeds it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"
	"github.com/boddenberg/bankbot-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long an authenticated session may sit unused
// before it is logged out. Banks force a logout at three minutes.
const DefaultIdleTimeout = 174 * time.Second

// ErrClosed is returned by Submit once the worker has been closed.
var ErrClosed = errors.New("session worker closed")

// Unit is one piece of work run against the session.
type Unit func(ctx context.Context) (any, error)

type request struct {
	id     string
	ctx    context.Context
	fn     Unit // nil for Ping
	result chan outcome
}

type outcome struct {
	value any
	err   error
}

// SessionWorker serializes every unit of work for one bank session. Units
// run strictly one at a time in the order they were submitted.
type SessionWorker struct {
	name    string
	session port.Session
	idle    time.Duration
	retry   resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger

	requests chan *request
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	pending      atomic.Int64
	active       atomic.Bool
	lastActivity atomic.Int64 // unix nanos
}

// Option configures a SessionWorker.
type Option func(*SessionWorker)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(w *SessionWorker) {
		if d > 0 {
			w.idle = d
		}
	}
}

// WithAcquireRetry sets how session acquisition is retried.
func WithAcquireRetry(cfg resilience.Config) Option {
	return func(w *SessionWorker) { w.retry = cfg }
}

// WithMetrics records idle logouts and restarts.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *SessionWorker) { w.metrics = m }
}

// NewSessionWorker starts a worker that owns session.
func NewSessionWorker(name string, session port.Session, logger *zap.Logger, opts ...Option) *SessionWorker {
	w := &SessionWorker{
		name:     name,
		session:  session,
		idle:     DefaultIdleTimeout,
		retry:    resilience.Config{MaxRetries: 2, InitialBackoff: time.Second},
		logger:   logger.With(zap.String("worker", name)),
		requests: make(chan *request, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// Submit queues fn and blocks until it has run. If ctx ends before fn starts,
// fn is skipped and ctx.Err() returned. Once queued, Submit always waits for
// the outcome: a started fn runs to completion with a context the caller can
// no longer cancel, and its result is what Submit returns.
func (w *SessionWorker) Submit(ctx context.Context, fn Unit) (any, error) {
	return w.enqueue(ctx, fn)
}

// Ping resets the idle timer without touching the session.
func (w *SessionWorker) Ping(ctx context.Context) error {
	_, err := w.enqueue(ctx, nil)
	return err
}

func (w *SessionWorker) enqueue(ctx context.Context, fn Unit) (any, error) {
	req := &request{id: uuid.NewString(), ctx: ctx, fn: fn, result: make(chan outcome, 1)}

	select {
	case <-w.stop:
		return nil, ErrClosed
	default:
	}

	w.pending.Add(1)
	select {
	case w.requests <- req:
	case <-ctx.Done():
		w.pending.Add(-1)
		return nil, ctx.Err()
	case <-w.stop:
		w.pending.Add(-1)
		return nil, ErrClosed
	}

	// The loop answers every queued request, skipping it if ctx ended first.
	select {
	case out := <-req.result:
		return out.value, out.err
	case <-w.done:
		select {
		case out := <-req.result:
			return out.value, out.err
		default:
			return nil, ErrClosed
		}
	}
}

// Close stops the worker after the unit in progress and releases the session.
func (w *SessionWorker) Close() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

// Health reports the worker's state for /healthz.
func (w *SessionWorker) Health() domain.WorkerHealth {
	h := domain.WorkerHealth{
		BankKey:       w.name,
		SessionActive: w.active.Load(),
		Pending:       int(w.pending.Load()),
	}
	if ts := w.lastActivity.Load(); ts > 0 {
		h.LastActivity = time.Unix(0, ts).UTC().Format(time.RFC3339)
	}
	return h
}

func (w *SessionWorker) loop() {
	defer close(w.done)

	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			w.release("shutdown")
			return

		case req := <-w.requests:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			w.handle(req)
			w.pending.Add(-1)
			w.lastActivity.Store(time.Now().UnixNano())
			timer.Reset(w.idle)

		case <-timer.C:
			if w.active.Load() {
				w.logger.Info("session idle, logging out", zap.Duration("idle", w.idle))
				w.release("idle")
				if w.metrics != nil {
					w.metrics.IncrIdleLogout(w.name)
				}
			}
			timer.Reset(w.idle)
		}
	}
}

func (w *SessionWorker) handle(req *request) {
	if err := req.ctx.Err(); err != nil {
		req.result <- outcome{err: err}
		return
	}
	if req.fn == nil {
		req.result <- outcome{}
		return
	}

	ctx := context.WithoutCancel(req.ctx)
	if err := w.ensureSession(ctx); err != nil {
		req.result <- outcome{err: err}
		return
	}

	value, err := w.run(ctx, req)
	req.result <- outcome{value: value, err: err}
}

// run executes one unit. A panic is returned as an error and the session is
// torn down so the next unit starts from a fresh login.
func (w *SessionWorker) run(ctx context.Context, req *request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s panicked: %v", req.id, r)
			w.logger.Error("unit panicked, restarting session", zap.String("unit", req.id), zap.Any("panic", r))
			w.release("panic")
			if w.metrics != nil {
				w.metrics.IncrSessionRestart(w.name)
			}
		}
	}()

	start := time.Now()
	value, err = req.fn(ctx)
	w.logger.Debug("unit finished",
		zap.String("unit", req.id),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return value, err
}

// ensureSession acquires the session when it was never opened, was released
// by the idle policy, or no longer answers.
func (w *SessionWorker) ensureSession(ctx context.Context) error {
	if w.active.Load() {
		if w.session.IsHealthy(ctx) {
			return nil
		}
		w.logger.Warn("session unhealthy, reacquiring")
		w.release("unhealthy")
		if w.metrics != nil {
			w.metrics.IncrSessionRestart(w.name)
		}
	}

	err := resilience.RetryWithBackoff(ctx, w.retry, func() error {
		return w.session.Acquire(ctx)
	})
	if err != nil {
		return &domain.ErrSessionUnavailable{Session: w.name, Err: err}
	}
	w.active.Store(true)
	return nil
}

func (w *SessionWorker) release(reason string) {
	if !w.active.Swap(false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.session.Release(ctx); err != nil {
		w.logger.Warn("session release failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	w.logger.Debug("session released", zap.String("reason", reason))
}
