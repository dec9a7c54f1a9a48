package models

import "encoding/json"

// CreditsResponse carries a user's balance.
type CreditsResponse struct {
	Credits int `json:"credits"`
}

// DebitRequest is the body of POST /api/credits. Amount is a JSON number or
// numeric string; a missing amount debits one credit.
type DebitRequest struct {
	Amount json.RawMessage `json:"amount"`
}

// ErrorResponse is the error envelope returned by every route.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// InsufficientCreditsResponse is returned with 402 when a submission cannot be covered.
type InsufficientCreditsResponse struct {
	Error string `json:"error"`
	Need  int    `json:"need"`
	Has   int    `json:"has"`
}

// WebhookAck acknowledges a payment provider delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}
