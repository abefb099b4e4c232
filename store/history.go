package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// History is the ledger of delivered invoice ids. It is keyed by invoice id
// alone, so an id delivered for one account is never processed again for
// another.
type History struct {
	db *sql.DB
}

func (h *History) Contains(ctx context.Context, invoiceID string) (bool, error) {
	var one int
	err := h.db.QueryRowContext(ctx, `SELECT 1 FROM history WHERE invoice_id = ?`, invoiceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up invoice %s: %w", invoiceID, err)
	}
	return true, nil
}

// RecordIfAbsent marks invoiceID as delivered. Recording an id twice is a no-op.
func (h *History) RecordIfAbsent(ctx context.Context, invoiceID string) error {
	if _, err := h.db.ExecContext(ctx, `INSERT OR IGNORE INTO history (invoice_id) VALUES (?)`, invoiceID); err != nil {
		return fmt.Errorf("failed to record invoice %s: %w", invoiceID, err)
	}
	return nil
}

func (h *History) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
