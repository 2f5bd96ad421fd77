package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pixelforge/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	err := scanner.Scan(
		&sub.ID, &sub.AccountID, &sub.StripeSubscriptionID, &sub.StripePriceID,
		&sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const subscriptionCols = `id, account_id, stripe_subscription_id, stripe_price_id, current_period_end, created_at, updated_at`

// Upsert writes the subscription row for an account. The row is keyed by
// account id, not by the Stripe subscription id: a plan change or a replayed
// event overwrites the same row instead of failing on a duplicate insert,
// which is what makes webhook redelivery idempotent.
func (s *SubscriptionStore) Upsert(accountID int64, stripeSubID, stripePriceID string, periodEnd time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (account_id, stripe_subscription_id, stripe_price_id, current_period_end)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   stripe_price_id = excluded.stripe_price_id,
		   current_period_end = excluded.current_period_end,
		   updated_at = CURRENT_TIMESTAMP`,
		accountID, stripeSubID, stripePriceID, periodEnd.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) GetByAccountID(accountID int64) (*model.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM subscriptions WHERE account_id = ?`, accountID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by account: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByStripeID(stripeSubID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		stripeSubID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// DeleteByStripeID removes the subscription row for a canceled Stripe
// subscription. Deleting a row that is already gone is not an error.
func (s *SubscriptionStore) DeleteByStripeID(stripeSubID string) error {
	_, err := s.db.Exec(`DELETE FROM subscriptions WHERE stripe_subscription_id = ?`, stripeSubID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
