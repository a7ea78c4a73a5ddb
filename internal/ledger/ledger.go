// Package ledger keeps the seen-transaction history a deposit watcher uses
// as its new/old boundary. The history is a newline separated file, newest
// signature first, capped to a fixed number of entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/atomicfile"

	"go.uber.org/zap"
)

// DefaultCapacity matches the number of rows a statement page shows.
const DefaultCapacity = 20

// File is a bounded-history ledger persisted to a text file.
// A File has a single owner; the mutex only guards against the owner's
// own goroutines (poll loop and health reads).
type File struct {
	path     string
	capacity int
	logger   *zap.Logger

	mu      sync.RWMutex
	entries []domain.Signature
}

// NewFile creates a ledger backed by path. Call Load before use.
func NewFile(path string, capacity int, logger *zap.Logger) *File {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &File{path: path, capacity: capacity, logger: logger}
}

// Load reads the history from disk. A missing or empty file yields an empty
// ledger. An unreadable file also leaves the ledger empty and returns
// *domain.ErrCorruptStore so the caller can report it.
func (l *File) Load(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil

	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &domain.ErrCorruptStore{Path: l.path, Err: err}
	}
	if !utf8.Valid(data) {
		return &domain.ErrCorruptStore{Path: l.path, Err: errors.New("not valid UTF-8")}
	}

	seen := make(map[domain.Signature]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		sig := domain.Signature(strings.TrimSpace(line))
		if sig == "" {
			continue
		}
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		l.entries = append(l.entries, sig)
		if len(l.entries) == l.capacity {
			break
		}
	}

	l.logger.Debug("ledger loaded",
		zap.String("path", l.path),
		zap.Int("entries", len(l.entries)),
	)
	return nil
}

// RecordNewest inserts sigs (oldest first) at the front of the history,
// truncates to capacity and persists. The in-memory history is updated even
// when the write fails, so the running process never replays a deposit it
// has already reported.
func (l *File) RecordNewest(_ context.Context, sigs ...domain.Signature) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for _, sig := range sigs {
		if sig == "" || l.indexOf(sig) >= 0 {
			continue
		}
		l.entries = append([]domain.Signature{sig}, l.entries...)
		changed = true
	}
	if !changed {
		return nil
	}
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}

	if err := l.persist(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Contains reports whether sig is in the tracked history.
func (l *File) Contains(sig domain.Signature) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.indexOf(sig) >= 0
}

// Newest returns the most recently recorded signature.
func (l *File) Newest() (domain.Signature, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return "", false
	}
	return l.entries[0], true
}

// Empty reports whether nothing has been recorded yet (cold start).
func (l *File) Empty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries) == 0
}

// Entries returns a copy of the history, newest first.
func (l *File) Entries() []domain.Signature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Signature(nil), l.entries...)
}

func (l *File) indexOf(sig domain.Signature) int {
	for i, e := range l.entries {
		if e == sig {
			return i
		}
	}
	return -1
}

func (l *File) persist() error {
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = string(e)
	}
	return atomicfile.WriteFile(l.path, []byte(strings.Join(lines, "\n")), 0o644)
}
