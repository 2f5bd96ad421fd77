package billing

import (
	"log/slog"
	"time"

	"github.com/dukerupert/pixelforge/internal/model"
	"github.com/dukerupert/pixelforge/internal/plan"
	"github.com/dukerupert/pixelforge/internal/store"
)

// SubscriptionEvent is the slice of a Stripe subscription webhook payload the
// reconciler needs. Parsing into a local struct instead of the SDK type keeps
// the period fields readable across Stripe API versions, which have moved them
// between the subscription and its items.
type SubscriptionEvent struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first price ID on the event's items.
func (e *SubscriptionEvent) PriceID() string {
	for _, item := range e.Items.Data {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// SubscriptionFetcher re-fetches a subscription from Stripe by ID. Implemented
// by *Client; stubbed in tests.
type SubscriptionFetcher interface {
	FetchSubscription(id string) (*SubscriptionSnapshot, error)
}

// Notifier sends a plan-change notice to the account holder. Optional.
type Notifier interface {
	SendPlanChanged(toEmail string, tier model.Tier, credits int64) error
}

// Reconciler translates Stripe subscription events into Account and
// Subscription state. All handlers are idempotent: redelivered or out-of-order
// events converge to the same rows because the subscription is upserted by
// account id and the account fields are absolute sets.
type Reconciler struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	plans    *plan.Table
	fetcher  SubscriptionFetcher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(
	accounts *store.AccountStore,
	subs *store.SubscriptionStore,
	plans *plan.Table,
	fetcher SubscriptionFetcher,
	notifier Notifier,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		accounts: accounts,
		subs:     subs,
		plans:    plans,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleCreated applies customer.subscription.created. An unknown billing
// customer is a soft no-op: the checkout-session flow creates the customer
// record and this webhook can race its response.
func (r *Reconciler) HandleCreated(ev *SubscriptionEvent) error {
	return r.apply(ev, false)
}

// HandleUpdated applies customer.subscription.updated. A pending cancellation
// (cancel_at_period_end) is treated as already downgraded: the account drops
// to the free tier even though the Stripe subscription stays active until the
// period end.
func (r *Reconciler) HandleUpdated(ev *SubscriptionEvent) error {
	return r.apply(ev, ev.CancelAtPeriodEnd)
}

func (r *Reconciler) apply(ev *SubscriptionEvent, forceFree bool) error {
	account, err := r.accounts.GetByStripeCustomerID(ev.Customer)
	if err != nil {
		return err
	}
	if account == nil {
		r.logger.Warn("subscription event for unknown customer", "customer", ev.Customer, "subscription", ev.ID)
		return nil
	}

	priceID := ev.PriceID()
	details := r.plans.Resolve(priceID)
	if forceFree {
		details = plan.Free()
	}

	periodEnd := r.resolvePeriodEnd(ev)

	if err := r.subs.Upsert(account.ID, ev.ID, priceID, periodEnd); err != nil {
		return err
	}
	if err := r.accounts.SetPlan(account.ID, details.Tier, details.Credits); err != nil {
		return err
	}

	r.logger.Info("subscription reconciled",
		"account", account.ID, "tier", details.Tier, "credits", details.Credits,
		"period_end", periodEnd, "cancel_at_period_end", forceFree)

	// Redelivered events converge without a second notice.
	if account.SubscriptionStatus != details.Tier {
		r.notify(account, details)
	}
	return nil
}

// HandleDeleted applies customer.subscription.deleted: back to the free tier,
// subscription row removed.
func (r *Reconciler) HandleDeleted(ev *SubscriptionEvent) error {
	account, err := r.accounts.GetByStripeCustomerID(ev.Customer)
	if err != nil {
		return err
	}
	if account == nil {
		r.logger.Warn("subscription deletion for unknown customer", "customer", ev.Customer, "subscription", ev.ID)
		return nil
	}

	free := plan.Free()
	if err := r.accounts.SetPlan(account.ID, free.Tier, free.Credits); err != nil {
		return err
	}
	if err := r.subs.DeleteByStripeID(ev.ID); err != nil {
		return err
	}

	r.logger.Info("subscription deleted", "account", account.ID, "subscription", ev.ID)
	if account.SubscriptionStatus != free.Tier {
		r.notify(account, free)
	}
	return nil
}

// resolvePeriodEnd resolves the renewal timestamp. The webhook payload's
// period fields are unreliable across Stripe API versions, so: re-fetch the
// subscription and use its period end; else its period start plus one month;
// else the payload's fields the same way; else one month from now. Every
// branch produces a usable timestamp.
func (r *Reconciler) resolvePeriodEnd(ev *SubscriptionEvent) time.Time {
	if r.fetcher != nil {
		snap, err := r.fetcher.FetchSubscription(ev.ID)
		switch {
		case err != nil:
			r.logger.Warn("re-fetch subscription failed", "subscription", ev.ID, "error", err)
		case snap.CurrentPeriodEnd > 0:
			return time.Unix(snap.CurrentPeriodEnd, 0).UTC()
		case snap.CurrentPeriodStart > 0:
			return time.Unix(snap.CurrentPeriodStart, 0).UTC().AddDate(0, 1, 0)
		}
	}

	if ev.CurrentPeriodEnd > 0 {
		return time.Unix(ev.CurrentPeriodEnd, 0).UTC()
	}
	if ev.CurrentPeriodStart > 0 {
		return time.Unix(ev.CurrentPeriodStart, 0).UTC().AddDate(0, 1, 0)
	}
	return r.now().UTC().AddDate(0, 1, 0)
}

func (r *Reconciler) notify(account *model.Account, details plan.Details) {
	if r.notifier == nil || account.Email == "" {
		return
	}
	if err := r.notifier.SendPlanChanged(account.Email, details.Tier, details.Credits); err != nil {
		r.logger.Warn("plan change notice failed", "account", account.ID, "error", err)
	}
}
