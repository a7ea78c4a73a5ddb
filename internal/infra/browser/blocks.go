package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
)

// BlockLayout describes how a statement renders: every transaction is a run
// of BlockSize text nodes and the first run starts somewhere in
// [SearchFrom, SearchTo) after banner and header nodes.
type BlockLayout struct {
	Selector      string
	BlockSize     int
	SearchFrom    int
	SearchTo      int
	FallbackStart int
	MaxBlocks     int
}

// DefaultBlockLayout matches the company web statement.
func DefaultBlockLayout(selector string) BlockLayout {
	return BlockLayout{
		Selector:      selector,
		BlockSize:     12,
		SearchFrom:    35,
		SearchTo:      56,
		FallbackStart: 45,
		MaxBlocks:     20,
	}
}

// FindStart returns the first offset whose two texts parse as a date and a
// time. ok is false when none does and the fallback was used.
func (l BlockLayout) FindStart(texts []string) (start int, ok bool) {
	for i := l.SearchFrom; i < l.SearchTo; i++ {
		if len(texts)-i < l.BlockSize {
			continue
		}
		if isDate(texts[i]) && isTime(texts[i+1]) {
			return i, true
		}
	}
	return l.FallbackStart, false
}

// Slice cuts texts into rows, newest first as rendered.
func (l BlockLayout) Slice(texts []string) []domain.RawTransactionRow {
	start, _ := l.FindStart(texts)
	usable := len(texts) - start
	if usable <= 0 || l.BlockSize < 5 {
		return nil
	}
	n := min(usable/l.BlockSize, l.MaxBlocks)

	rows := make([]domain.RawTransactionRow, 0, n)
	for b := 0; b < n; b++ {
		block := texts[start+b*l.BlockSize : start+(b+1)*l.BlockSize]
		rows = append(rows, domain.RawTransactionRow{
			Date:   block[0],
			Time:   block[1],
			Code:   block[2],
			Note:   block[3],
			Amount: block[4],
		})
	}
	return rows
}

func isDate(s string) bool {
	_, err := time.Parse("02/01/2006", strings.TrimSpace(s))
	return err == nil
}

func isTime(s string) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(s))
	return err == nil
}

// BlockReader reads the statement rows from the session's page.
type BlockReader struct {
	session *Session
	layout  BlockLayout
}

// NewBlockReader creates a reader for layout on session's page.
func NewBlockReader(session *Session, layout BlockLayout) *BlockReader {
	return &BlockReader{session: session, layout: layout}
}

func (r *BlockReader) ReadVisibleTransactions(ctx context.Context) ([]domain.RawTransactionRow, error) {
	page, err := r.session.Page(ctx)
	if err != nil {
		return nil, err
	}
	els, err := page.Elements(r.layout.Selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", r.layout.Selector, err)
	}
	texts := make([]string, len(els))
	for i, el := range els {
		t, err := el.Text()
		if err != nil {
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
		texts[i] = strings.TrimSpace(t)
	}
	return r.layout.Slice(texts), nil
}
