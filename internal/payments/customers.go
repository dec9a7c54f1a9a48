package payments

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CustomerDirectory resolves a Stripe customer id to an email address.
type CustomerDirectory interface {
	Email(ctx context.Context, customerID string) (string, error)
}

type StripeCustomers struct {
	api *client.API
}

// NewStripeCustomers returns nil when no secret key is configured.
func NewStripeCustomers(secretKey string) CustomerDirectory {
	if secretKey == "" {
		return nil
	}
	return &StripeCustomers{api: client.New(secretKey, nil)}
}

func (s *StripeCustomers) Email(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		return "", err
	}
	if c.Deleted {
		return "", nil
	}
	return c.Email, nil
}
