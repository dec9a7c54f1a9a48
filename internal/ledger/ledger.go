// Package ledger keeps per-user credit balances in Postgres.
//
// Balances change through single statements or short transactions so a
// balance never drops below zero. Submissions reserve credits with a hold
// that is later settled (exactly once per job id) or released.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrHoldNotFound     = errors.New("credit hold not found")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrNoPaymentTarget  = errors.New("payment has neither user id nor email")
	ErrDatabaseRequired = errors.New("ledger requires a database")
)

// InsufficientCreditsError reports a reservation the balance could not cover.
type InsufficientCreditsError struct {
	Need int
	Has  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Need, e.Has)
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Ledger struct {
	db              *sqlx.DB
	startingCredits int
}

func New(db *sqlx.DB, startingCredits int) (*Ledger, error) {
	if db == nil {
		return nil, ErrDatabaseRequired
	}
	return &Ledger{db: db, startingCredits: startingCredits}, nil
}

const (
	selectProfileByID = `SELECT id, email, credits, created_at FROM profiles
		WHERE id = $1 ORDER BY created_at ASC LIMIT 1`

	selectProfileByEmail = `SELECT id, email, credits, created_at FROM profiles
		WHERE email = $1 ORDER BY created_at ASC LIMIT 1`

	upsertDefaultProfile = `INSERT INTO profiles (id, email, credits) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = COALESCE(profiles.email, EXCLUDED.email)
		RETURNING id, email, credits, created_at`

	debitProfile = `UPDATE profiles SET credits = GREATEST(credits - $2, 0) WHERE id = $1 RETURNING credits`

	creditProfileByID = `INSERT INTO profiles (id, credits) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET credits = profiles.credits + EXCLUDED.credits
		RETURNING credits`

	creditProfile = `UPDATE profiles SET credits = credits + $2 WHERE id = $1 RETURNING credits`

	insertEmailProfile = `INSERT INTO profiles (id, email, credits) VALUES ($1, $2, $3) RETURNING credits`
)

// GetOrCreate returns the profile for userID, creating it with the starting
// balance on first use. An existing balance is never reset.
func (l *Ledger) GetOrCreate(ctx context.Context, userID, email string) (models.Profile, error) {
	var profile models.Profile
	err := l.db.GetContext(ctx, &profile, selectProfileByID, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, fmt.Errorf("failed to select profile: %w", err)
	}

	// Concurrent first requests converge on the same row through the id conflict.
	if err := l.db.GetContext(ctx, &profile, upsertDefaultProfile, userID, nullable(email), l.startingCredits); err != nil {
		return models.Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// Balance returns the current credits without creating a profile.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var profile models.Profile
	if err := l.db.GetContext(ctx, &profile, selectProfileByID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProfileNotFound
		}
		return 0, fmt.Errorf("failed to select profile: %w", err)
	}
	return profile.Credits, nil
}

// Debit subtracts amount and returns max(0, balance-amount).
func (l *Ledger) Debit(ctx context.Context, userID, email string, amount int) (int, error) {
	if amount < 0 {
		amount = 0
	}
	if _, err := l.GetOrCreate(ctx, userID, email); err != nil {
		return 0, err
	}

	var credits int
	if err := l.db.GetContext(ctx, &credits, debitProfile, userID, amount); err != nil {
		return 0, fmt.Errorf("failed to debit profile: %w", err)
	}
	return credits, nil
}

// CreditByUserID adds amount, creating the profile with exactly amount if missing.
func (l *Ledger) CreditByUserID(ctx context.Context, userID string, amount int) (int, error) {
	return creditByUserID(ctx, l.db, userID, amount)
}

// CreditByEmail adds amount to the earliest profile with email, creating one
// holding exactly amount when no profile matches.
func (l *Ledger) CreditByEmail(ctx context.Context, email string, amount int) (int, error) {
	_, credits, err := creditByEmail(ctx, l.db, email, amount)
	return credits, err
}

func creditByUserID(ctx context.Context, q querier, userID string, amount int) (int, error) {
	var credits int
	if err := q.GetContext(ctx, &credits, creditProfileByID, userID, amount); err != nil {
		return 0, fmt.Errorf("failed to credit profile %s: %w", userID, err)
	}
	return credits, nil
}

func creditByEmail(ctx context.Context, q querier, email string, amount int) (string, int, error) {
	var profile models.Profile
	err := q.GetContext(ctx, &profile, selectProfileByEmail, email)
	if errors.Is(err, sql.ErrNoRows) {
		id := uuid.NewString()
		var credits int
		if err := q.GetContext(ctx, &credits, insertEmailProfile, id, email, amount); err != nil {
			return "", 0, fmt.Errorf("failed to create profile for email: %w", err)
		}
		return id, credits, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to select profile by email: %w", err)
	}

	var credits int
	if err := q.GetContext(ctx, &credits, creditProfile, profile.ID, amount); err != nil {
		return "", 0, fmt.Errorf("failed to credit profile %s: %w", profile.ID, err)
	}
	return profile.ID, credits, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// holdRefund is the row returned when a hold is released.
type holdRefund struct {
	UserID string `db:"user_id"`
	Amount int    `db:"amount"`
}

func refund(ctx context.Context, q querier, r holdRefund) error {
	if _, err := q.ExecContext(ctx, "UPDATE profiles SET credits = credits + $2 WHERE id = $1", r.UserID, r.Amount); err != nil {
		return fmt.Errorf("failed to refund hold: %w", err)
	}
	return nil
}
