// Package billing integrates with Stripe: an API client for checkout and
// customer management, and a reconciler that applies subscription webhook
// events to local account state.
package billing

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// EnsureCustomer returns a valid Stripe customer ID for the account. A stored
// ID is verified by retrieval first; test-mode IDs go stale when the Stripe
// account is reset, so an unretrievable customer is silently replaced.
func (c *Client) EnsureCustomer(existingID, email, clerkID string) (string, error) {
	if existingID != "" {
		if _, err := customer.Get(existingID, nil); err == nil {
			return existingID, nil
		}
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("clerk_id", clerkID)
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session and
// returns its URL.
func (c *Client) CreateCheckoutSession(customerID, priceID, clerkID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.AddMetadata("clerk_id", clerkID)
	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and
// returns its URL.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// SubscriptionSnapshot carries the period bounds of a re-fetched subscription,
// in unix seconds. Zero means the field was absent.
type SubscriptionSnapshot struct {
	CurrentPeriodEnd   int64
	CurrentPeriodStart int64
}

// FetchSubscription retrieves the subscription by ID and reads the billing
// period off its items. Recent Stripe API versions report the period per item
// rather than on the subscription itself.
func (c *Client) FetchSubscription(id string) (*SubscriptionSnapshot, error) {
	sub, err := subscription.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription: %w", err)
	}

	snap := &SubscriptionSnapshot{}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.CurrentPeriodEnd > snap.CurrentPeriodEnd {
				snap.CurrentPeriodEnd = item.CurrentPeriodEnd
			}
			if snap.CurrentPeriodStart == 0 || (item.CurrentPeriodStart > 0 && item.CurrentPeriodStart < snap.CurrentPeriodStart) {
				snap.CurrentPeriodStart = item.CurrentPeriodStart
			}
		}
	}
	return snap, nil
}
