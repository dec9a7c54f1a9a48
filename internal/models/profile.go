package models

import (
	"time"
)

// Profile is a user's credit balance record.
type Profile struct {
	ID        string    `json:"id" db:"id"`           // Supabase auth user id, or a generated uuid for email-only payers
	Email     *string   `json:"email" db:"email"`     // Optional; used to match payment events without a user id
	Credits   int       `json:"credits" db:"credits"` // Never negative
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HoldStatus is the lifecycle state of a credit reservation.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldSettled  HoldStatus = "settled"
	HoldReleased HoldStatus = "released"
)

// CreditHold reserves credits for one rename submission. The credits leave the
// balance when the hold is taken; settling finalizes the debit and releasing
// refunds it.
type CreditHold struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Amount    int        `json:"amount" db:"amount"`
	JobID     *string    `json:"job_id,omitempty" db:"job_id"`
	Status    HoldStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
