package payments

import "github.com/basilysf1709/file-renamer-ai/internal/config"

// Tiers maps a paid amount in cents to credits. Amounts below the first
// threshold buy nothing.
type Tiers struct {
	Tier1Cents   int64
	Tier1Credits int
	Tier2Cents   int64
	Tier2Credits int
}

func TiersFromConfig(cfg config.BillingConfig) Tiers {
	return Tiers{
		Tier1Cents:   cfg.Tier1Cents,
		Tier1Credits: cfg.Tier1Credits,
		Tier2Cents:   cfg.Tier2Cents,
		Tier2Credits: cfg.Tier2Credits,
	}
}

func (t Tiers) Credits(amountCents int64) int {
	switch {
	case amountCents >= t.Tier2Cents:
		return t.Tier2Credits
	case amountCents >= t.Tier1Cents:
		return t.Tier1Credits
	default:
		return 0
	}
}
