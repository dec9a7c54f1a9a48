// Package payments turns verified Stripe webhook deliveries into credit
// grants.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/basilysf1709/file-renamer-ai/internal/ledger"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("webhook secret not configured")
)

// Outcome values reported by Handle.
const (
	OutcomeCredited  = "credited"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Ledger applies a payment at most once per event id.
type Ledger interface {
	ApplyPayment(ctx context.Context, p ledger.Payment) (ledger.Applied, error)
}

// Result describes what a delivery did.
type Result struct {
	EventID   string
	EventType string
	Outcome   string
	Credits   int
	ProfileID string
}

type Processor struct {
	secret    string
	tolerance time.Duration
	tiers     Tiers
	ledger    Ledger
	customers CustomerDirectory
	logger    *slog.Logger
}

func NewProcessor(secret string, tolerance time.Duration, tiers Tiers, l Ledger, customers CustomerDirectory, logger *slog.Logger) *Processor {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Processor{
		secret:    secret,
		tolerance: tolerance,
		tiers:     tiers,
		ledger:    l,
		customers: customers,
		logger:    logger,
	}
}

// Handle verifies the Stripe-Signature header and credits completed
// payments. Verification failures wrap ErrInvalidSignature and never touch
// the ledger.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	if p.secret == "" {
		return Result{}, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	res := Result{EventID: event.ID, EventType: string(event.Type), Outcome: OutcomeIgnored}
	logger := p.logger.With("event_id", event.ID, "event_type", event.Type)

	var target paymentTarget
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return res, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		target = checkoutTarget(&session)
	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return res, fmt.Errorf("failed to decode invoice: %w", err)
		}
		target = invoiceTarget(&invoice)
	default:
		return res, nil
	}

	res.Credits = p.tiers.Credits(target.amountCents)
	if res.Credits <= 0 {
		logger.Info("Payment below credit tiers", "amount_cents", target.amountCents)
		return res, nil
	}

	payment := ledger.Payment{
		EventID:   event.ID,
		EventType: string(event.Type),
		UserID:    target.userID,
		Credits:   res.Credits,
	}
	if payment.UserID == "" {
		payment.Email, err = p.resolveEmail(ctx, target)
		if err != nil {
			return res, err
		}
		if payment.Email == "" {
			logger.Warn("Payment has no user id or customer email", "customer", target.customerID)
			return res, nil
		}
	}

	applied, err := p.ledger.ApplyPayment(ctx, payment)
	if err != nil {
		return res, fmt.Errorf("failed to apply payment: %w", err)
	}
	if applied.Duplicate {
		res.Outcome = OutcomeDuplicate
		logger.Info("Ignoring redelivered payment event")
		return res, nil
	}

	res.Outcome = OutcomeCredited
	res.ProfileID = applied.ProfileID
	logger.Info("Credited payment", "profile_id", applied.ProfileID, "credits", res.Credits, "balance", applied.Balance)
	return res, nil
}

// paymentTarget is what an event says about who paid and how much.
type paymentTarget struct {
	amountCents   int64
	userID        string
	customerID    string
	customerEmail string
	fallbackEmail string
}

func checkoutTarget(s *stripe.CheckoutSession) paymentTarget {
	t := paymentTarget{amountCents: s.AmountTotal, userID: s.Metadata["user_id"]}
	if s.Customer != nil {
		t.customerID = s.Customer.ID
		t.customerEmail = s.Customer.Email
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		t.fallbackEmail = s.CustomerDetails.Email
	} else {
		t.fallbackEmail = s.CustomerEmail
	}
	return t
}

func invoiceTarget(inv *stripe.Invoice) paymentTarget {
	t := paymentTarget{amountCents: inv.AmountPaid, fallbackEmail: inv.CustomerEmail}
	if inv.SubscriptionDetails != nil {
		t.userID = inv.SubscriptionDetails.Metadata["user_id"]
	}
	if t.userID == "" {
		t.userID = inv.Metadata["user_id"]
	}
	if inv.Customer != nil {
		t.customerID = inv.Customer.ID
		t.customerEmail = inv.Customer.Email
	}
	return t
}

// resolveEmail prefers the expanded customer, then a customer lookup, then
// the email captured on the event itself.
func (p *Processor) resolveEmail(ctx context.Context, t paymentTarget) (string, error) {
	if t.customerEmail != "" {
		return t.customerEmail, nil
	}
	if t.customerID != "" && p.customers != nil {
		email, err := p.customers.Email(ctx, t.customerID)
		if err != nil {
			return "", fmt.Errorf("failed to look up customer %s: %w", t.customerID, err)
		}
		if email != "" {
			return email, nil
		}
	}
	return t.fallbackEmail, nil
}
