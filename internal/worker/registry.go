package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/boddenberg/bankbot-go/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Registry holds the payout runner of every bank served by this process.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*PayoutRunner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*PayoutRunner)}
}

// Register adds r, replacing any runner for the same bank.
func (g *Registry) Register(r *PayoutRunner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runners[r.BankKey()] = r
}

// Runner returns the runner for bankKey.
func (g *Registry) Runner(bankKey string) (*PayoutRunner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[bankKey]
	return r, ok
}

// BankKeys lists the registered banks in order.
func (g *Registry) BankKeys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.runners))
	for k := range g.runners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Health reports every worker, ordered by bank key.
func (g *Registry) Health() []domain.WorkerHealth {
	out := make([]domain.WorkerHealth, 0)
	for _, k := range g.BankKeys() {
		r, _ := g.Runner(k)
		out = append(out, r.Worker().Health())
	}
	return out
}

// Run starts every runner's claim loop and blocks until ctx is done.
// Banks run fully in parallel; each has its own session.
func (g *Registry) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, k := range g.BankKeys() {
		r, _ := g.Runner(k)
		eg.Go(func() error { return r.Run(ctx) })
	}
	return eg.Wait()
}

// Close stops every session worker.
func (g *Registry) Close() {
	for _, k := range g.BankKeys() {
		r, _ := g.Runner(k)
		r.Worker().Close()
	}
}
