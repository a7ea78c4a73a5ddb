// Package deposit turns scraped statement rows into transaction signatures,
// decides which of them are new and reports those to the integration API.
package deposit

import (
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
)

// Layouts of the statement's date and time columns.
const (
	DateLayout     = "02/01/2006"
	TimeLayout     = "15:04"
	DateTimeLayout = DateLayout + " " + TimeLayout
)

// Codec encodes statement rows into signatures. The zero value ignores
// nothing.
type Codec struct {
	ignore map[string]struct{}
}

// NewCodec returns a codec that drops rows whose code is one of ignoreCodes.
func NewCodec(ignoreCodes ...string) *Codec {
	c := &Codec{ignore: make(map[string]struct{}, len(ignoreCodes))}
	for _, code := range ignoreCodes {
		if code = strings.TrimSpace(code); code != "" {
			c.ignore[code] = struct{}{}
		}
	}
	return c
}

// Ignored reports whether a row is a reversal/hold entry that never enters
// the signature stream.
func (c *Codec) Ignored(row domain.RawTransactionRow) bool {
	_, ok := c.ignore[strings.TrimSpace(row.Code)]
	return ok
}

// Encode builds "{date} {time}|{note}|{amount}" from the trimmed fields.
// Embedded pipes are not escaped.
func (c *Codec) Encode(row domain.RawTransactionRow) (domain.Signature, error) {
	return encodeAt(row, 0)
}

// EncodeWindow filters and encodes a window, keeping its newest-first order.
func (c *Codec) EncodeWindow(rows []domain.RawTransactionRow) ([]domain.Signature, error) {
	sigs := make([]domain.Signature, 0, len(rows))
	for i, row := range rows {
		if c.Ignored(row) {
			continue
		}
		sig, err := encodeAt(row, i)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func encodeAt(row domain.RawTransactionRow, index int) (domain.Signature, error) {
	fields := []struct {
		name  string
		value *string
	}{
		{"date", &row.Date},
		{"time", &row.Time},
		{"note", &row.Note},
		{"amount", &row.Amount},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return "", &domain.ErrMalformedRow{Field: f.name, Index: index}
		}
	}
	return domain.Signature(fmt.Sprintf("%s %s|%s|%s", row.Date, row.Time, row.Note, row.Amount)), nil
}

// ParsedSignature is a signature split back into its parts.
type ParsedSignature struct {
	DateTime string
	Note     string
	Amount   string
}

// ParseSignature splits sig on its first two pipes. A note containing a pipe
// therefore cannot be recovered exactly.
func ParseSignature(sig domain.Signature) (ParsedSignature, error) {
	parts := strings.SplitN(string(sig), "|", 3)
	if len(parts) != 3 {
		return ParsedSignature{}, fmt.Errorf("parse signature %q: expected 3 parts, got %d", sig, len(parts))
	}
	return ParsedSignature{DateTime: parts[0], Note: parts[1], Amount: parts[2]}, nil
}

// Time parses the signature's date and time in loc.
func (p ParsedSignature) Time(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateTimeLayout, p.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse transaction time %q: %w", p.DateTime, err)
	}
	return t, nil
}
