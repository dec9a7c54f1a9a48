package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

const (
	holdColumns = "id, user_id, amount, job_id, status, created_at, updated_at"

	reserveCredits = `UPDATE profiles SET credits = credits - $2
		WHERE id = $1 AND credits >= $2 RETURNING credits`

	insertHold = `INSERT INTO credit_holds (id, user_id, amount, status) VALUES ($1, $2, $3, $4)
		RETURNING ` + holdColumns

	releaseHoldByID = `UPDATE credit_holds SET status = 'released', updated_at = NOW()
		WHERE id = $1 AND status = 'held' RETURNING user_id, amount`

	releaseHoldByJob = `UPDATE credit_holds SET status = 'released', updated_at = NOW()
		WHERE job_id = $1 AND status = 'held' RETURNING user_id, amount`

	releaseStaleHolds = `UPDATE credit_holds SET status = 'released', updated_at = NOW()
		WHERE status = 'held' AND job_id IS NULL AND created_at < $1 RETURNING user_id, amount`

	settleHold = `UPDATE credit_holds SET status = 'settled', updated_at = NOW()
		WHERE job_id = $1 AND status = 'held'`
)

// Reserve atomically takes amount from the balance and records a held
// reservation. It fails with *InsufficientCreditsError when the balance
// cannot cover amount, leaving the balance untouched.
func (l *Ledger) Reserve(ctx context.Context, userID, email string, amount int) (models.CreditHold, error) {
	if amount <= 0 {
		return models.CreditHold{}, ErrInvalidAmount
	}
	if _, err := l.GetOrCreate(ctx, userID, email); err != nil {
		return models.CreditHold{}, err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.CreditHold{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int
	err = tx.GetContext(ctx, &remaining, reserveCredits, userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		var has int
		if err := tx.GetContext(ctx, &has, "SELECT credits FROM profiles WHERE id = $1", userID); err != nil {
			return models.CreditHold{}, fmt.Errorf("failed to read balance: %w", err)
		}
		return models.CreditHold{}, &InsufficientCreditsError{Need: amount, Has: has}
	}
	if err != nil {
		return models.CreditHold{}, fmt.Errorf("failed to reserve credits: %w", err)
	}

	var hold models.CreditHold
	if err := tx.GetContext(ctx, &hold, insertHold, uuid.NewString(), userID, amount, models.HoldHeld); err != nil {
		return models.CreditHold{}, fmt.Errorf("failed to record hold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.CreditHold{}, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return hold, nil
}

// BindJob associates a held reservation with the upstream job id.
func (l *Ledger) BindJob(ctx context.Context, holdID, jobID string) error {
	res, err := l.db.ExecContext(ctx,
		"UPDATE credit_holds SET job_id = $2, updated_at = NOW() WHERE id = $1 AND status = 'held'",
		holdID, jobID)
	if err != nil {
		return fmt.Errorf("failed to bind hold to job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrHoldNotFound
	}
	return nil
}

// Settle makes the reservation for jobID permanent. It reports false when the
// job has no held reservation, which makes repeated settlement a no-op.
func (l *Ledger) Settle(ctx context.Context, jobID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, settleHold, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to settle hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to settle hold: %w", err)
	}
	return n > 0, nil
}

// Release returns a held reservation to the balance.
func (l *Ledger) Release(ctx context.Context, holdID string) (bool, error) {
	return l.release(ctx, releaseHoldByID, holdID)
}

// ReleaseJob returns the held reservation bound to jobID to the balance.
func (l *Ledger) ReleaseJob(ctx context.Context, jobID string) (bool, error) {
	return l.release(ctx, releaseHoldByJob, jobID)
}

func (l *Ledger) release(ctx context.Context, query, key string) (bool, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var r holdRefund
	err = tx.GetContext(ctx, &r, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to release hold: %w", err)
	}

	if err := refund(ctx, tx, r); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit release: %w", err)
	}
	return true, nil
}

// ReleaseStale refunds reservations that were never bound to a job and are
// older than maxAge. These are left behind when the gateway dies mid-submit.
func (l *Ledger) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var refunds []holdRefund
	if err := tx.SelectContext(ctx, &refunds, releaseStaleHolds, time.Now().Add(-maxAge)); err != nil {
		return 0, fmt.Errorf("failed to release stale holds: %w", err)
	}
	for _, r := range refunds {
		if err := refund(ctx, tx, r); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit stale release: %w", err)
	}
	return len(refunds), nil
}

// PendingHolds lists held reservations already bound to a job, oldest first.
func (l *Ledger) PendingHolds(ctx context.Context, limit int) ([]models.CreditHold, error) {
	var holds []models.CreditHold
	err := l.db.SelectContext(ctx, &holds,
		"SELECT "+holdColumns+" FROM credit_holds WHERE status = 'held' AND job_id IS NOT NULL ORDER BY created_at ASC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending holds: %w", err)
	}
	return holds, nil
}
