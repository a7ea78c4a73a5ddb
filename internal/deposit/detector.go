package deposit

import (
	"context"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/port"

	"go.uber.org/zap"
)

// Detector compares a statement window against the ledger.
type Detector struct {
	codec   *Codec
	ledger  port.Ledger
	bank    string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDetector creates a detector for one bank account. metrics may be nil.
func NewDetector(codec *Codec, ledger port.Ledger, bank string, metrics *observability.Metrics, logger *zap.Logger) *Detector {
	return &Detector{codec: codec, ledger: ledger, bank: bank, metrics: metrics, logger: logger}
}

// DetectNew returns the signatures in window (newest first) that the ledger
// has not seen, ordered oldest to newest, and advances the ledger.
//
// The first call against an empty ledger only records a baseline. When no
// window entry is known the whole window is reported and a data loss warning
// is logged, since older rows are no longer visible.
func (d *Detector) DetectNew(ctx context.Context, window []domain.RawTransactionRow) ([]domain.Signature, error) {
	sigs, err := d.codec.EncodeWindow(window)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	if d.ledger.Empty() {
		d.record(ctx, sigs[0])
		d.logger.Info("ledger initialized",
			zap.String("bank", d.bank),
			zap.String("newest", sigs[0].String()),
		)
		return nil, nil
	}

	var fresh []domain.Signature
	matched := false
	seen := make(map[domain.Signature]struct{}, len(sigs))
	for _, sig := range sigs {
		if d.ledger.Contains(sig) {
			matched = true
			break
		}
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		fresh = append(fresh, sig)
	}

	if !matched {
		d.logger.Warn("no known transaction in window, possible data loss",
			zap.String("bank", d.bank),
			zap.Int("window", len(sigs)),
		)
		if d.metrics != nil {
			d.metrics.IncrLedgerOverflow(d.bank)
		}
	}

	// oldest first
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	// Every fresh signature is recorded so none is reported twice. The
	// window's newest entry is always either fresh (and lands at the front)
	// or already known.
	if len(fresh) > 0 {
		d.record(ctx, fresh...)
		if d.metrics != nil {
			d.metrics.AddDepositsDetected(d.bank, len(fresh))
		}
	}
	return fresh, nil
}

// record advances the ledger. A failed write leaves the in-memory history
// advanced, so it is logged and the poll carries on.
func (d *Detector) record(ctx context.Context, sigs ...domain.Signature) {
	if err := d.ledger.RecordNewest(ctx, sigs...); err != nil {
		d.logger.Error("failed to persist ledger", zap.String("bank", d.bank), zap.Error(err))
		if d.metrics != nil {
			d.metrics.IncrStoreError("ledger")
		}
	}
}
