// internal/billing/engine/numbering.go
package engine

import (
	"context"
	"fmt"
	"time"

	"membership-core/internal/billing/ledger"
)

// MonthlySequence hands out serialized invoice counters per calendar month.
type MonthlySequence interface {
	Next(ctx context.Context, q ledger.Querier, yearMonth string) (int64, error)
}

// PostgresSequence reserves the next counter value with a single atomic
// upsert. Fifty concurrent callers in the same month each get a distinct
// value; the database serializes the increment, there is no read-then-write
// window.
type PostgresSequence struct{}

func (PostgresSequence) Next(ctx context.Context, q ledger.Querier, yearMonth string) (int64, error) {
	query := `INSERT INTO invoice_sequences (year_month, last_value) VALUES ($1, 1)
		ON CONFLICT (year_month)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`
	var value int64
	if err := q.QueryRowContext(ctx, query, yearMonth).Scan(&value); err != nil {
		return 0, fmt.Errorf("reserve invoice number: %w", err)
	}
	return value, nil
}

// YearMonth formats t for the sequence key, e.g. "2026-09".
func YearMonth(t time.Time) string {
	return t.Format("2006-01")
}

// FormatInvoiceNumber builds the human-readable number, INV-YYYY-MM-NNNN.
func FormatInvoiceNumber(t time.Time, n int64) string {
	return fmt.Sprintf("INV-%s-%04d", t.Format("2006-01"), n)
}
