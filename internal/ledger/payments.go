package ledger

import (
	"context"
	"fmt"
)

// Payment is a verified payment event ready to be credited.
type Payment struct {
	EventID   string
	EventType string
	UserID    string
	Email     string
	Credits   int
}

// Applied describes the outcome of ApplyPayment.
type Applied struct {
	ProfileID string
	Balance   int
	Duplicate bool
}

// ApplyPayment credits a payment exactly once per event id. The event is
// recorded in the same transaction as the credit, so a redelivered event is
// reported as a duplicate and changes nothing.
func (l *Ledger) ApplyPayment(ctx context.Context, p Payment) (Applied, error) {
	if p.UserID == "" && p.Email == "" {
		return Applied{}, ErrNoPaymentTarget
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return Applied{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, event_type, credits) VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		p.EventID, p.EventType, p.Credits)
	if err != nil {
		return Applied{}, fmt.Errorf("failed to record payment event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Applied{}, fmt.Errorf("failed to record payment event: %w", err)
	}
	if n == 0 {
		return Applied{Duplicate: true}, nil
	}

	var applied Applied
	if p.UserID != "" {
		applied.ProfileID = p.UserID
		applied.Balance, err = creditByUserID(ctx, tx, p.UserID, p.Credits)
	} else {
		applied.ProfileID, applied.Balance, err = creditByEmail(ctx, tx, p.Email, p.Credits)
	}
	if err != nil {
		return Applied{}, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE payment_events SET profile_id = $2 WHERE event_id = $1",
		p.EventID, applied.ProfileID); err != nil {
		return Applied{}, fmt.Errorf("failed to link payment event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Applied{}, fmt.Errorf("failed to commit payment: %w", err)
	}
	return applied, nil
}
