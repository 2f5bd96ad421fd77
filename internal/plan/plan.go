// Package plan maps Stripe price IDs to subscription tiers and their monthly
// credit allotments.
package plan

import "github.com/dukerupert/pixelforge/internal/model"

// PriceIDs holds the Stripe price IDs for each paid tier. The values come from
// configuration; an empty value simply never matches.
type PriceIDs struct {
	Starter    string
	Pro        string
	Enterprise string
}

// Details is the resolved plan for a price ID.
type Details struct {
	Tier    model.Tier
	Credits int64
}

// Table resolves price IDs against the configured tiers.
type Table struct {
	prices PriceIDs
}

func NewTable(prices PriceIDs) *Table {
	return &Table{prices: prices}
}

// Resolve returns the tier and credit allotment for a price ID. Unknown price
// IDs resolve to the free tier so a bad or stale price never grants paid credits.
func (t *Table) Resolve(priceID string) Details {
	switch {
	case priceID != "" && priceID == t.prices.Starter:
		return Details{Tier: model.TierStarter, Credits: 50}
	case priceID != "" && priceID == t.prices.Pro:
		return Details{Tier: model.TierPro, Credits: 100}
	case priceID != "" && priceID == t.prices.Enterprise:
		return Details{Tier: model.TierEnterprise, Credits: 300}
	default:
		return Details{Tier: model.TierFree, Credits: model.FreeCredits}
	}
}

// Free returns the free-tier details used for new accounts, cancellations, and
// pending cancellations.
func Free() Details {
	return Details{Tier: model.TierFree, Credits: model.FreeCredits}
}
