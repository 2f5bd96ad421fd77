package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/pixelforge/internal/billing"
	"github.com/dukerupert/pixelforge/internal/model"
	"github.com/dukerupert/pixelforge/internal/plan"
)

type stubEvents struct {
	err error
}

// ConstructWebhookEvent trusts the payload when err is nil, mimicking a
// passing signature check.
func (s *stubEvents) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if s.err != nil {
		return stripe.Event{}, s.err
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, err
	}
	return event, nil
}

func newBillingWebhook(t *testing.T, e *env, events eventConstructor) *BillingWebhookHandler {
	t.Helper()
	plans := plan.NewTable(plan.PriceIDs{
		Starter:    "price_starter",
		Pro:        "price_pro",
		Enterprise: "price_enterprise",
	})
	rec := billing.NewReconciler(e.accounts, e.subs, plans, nil, nil, e.logger)
	return NewBillingWebhookHandler(events, rec, e.logger)
}

func subscriptionPayload(eventType, subID, customer, priceID string, cancelAtPeriodEnd bool) string {
	return fmt.Sprintf(`{
		"type": %q,
		"data": {"object": {
			"id": %q,
			"customer": %q,
			"status": "active",
			"cancel_at_period_end": %t,
			"current_period_end": 1767225600,
			"items": {"data": [{"price": {"id": %q}}]}
		}}
	}`, eventType, subID, customer, cancelAtPeriodEnd, priceID)
}

func billingAccount(t *testing.T, e *env, clerkID, customerID string) *model.Account {
	t.Helper()
	account, err := e.accounts.Ensure(clerkID, clerkID+"@example.com")
	require.NoError(t, err)
	require.NoError(t, e.accounts.UpdateStripeCustomerID(account.ID, customerID))
	return account
}

func TestBillingWebhookInvalidSignature(t *testing.T) {
	e := newEnv(t)
	billingAccount(t, e, "user_sig", "cus_sig")
	h := newBillingWebhook(t, e, &stubEvents{err: errors.New("bad signature")})

	body := subscriptionPayload("customer.subscription.created", "sub_1", "cus_sig", "price_starter", false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// nothing changed
	account, err := e.accounts.GetByClerkID("user_sig")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, account.SubscriptionStatus)
	assert.EqualValues(t, model.FreeCredits, account.Credits)
}

func TestBillingWebhookSubscriptionCreated(t *testing.T) {
	e := newEnv(t)
	created := billingAccount(t, e, "user_1", "cus_1")
	h := newBillingWebhook(t, e, &stubEvents{})

	body := subscriptionPayload("customer.subscription.created", "sub_1", "cus_1", "price_starter", false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Handle(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	account, err := e.accounts.GetByClerkID("user_1")
	require.NoError(t, err)
	assert.Equal(t, model.TierStarter, account.SubscriptionStatus)
	assert.EqualValues(t, 50, account.Credits)

	sub, err := e.subs.GetByAccountID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, "price_starter", sub.StripePriceID)
}

func TestBillingWebhookPendingCancellation(t *testing.T) {
	e := newEnv(t)
	created := billingAccount(t, e, "user_2", "cus_2")
	h := newBillingWebhook(t, e, &stubEvents{})

	body := subscriptionPayload("customer.subscription.updated", "sub_2", "cus_2", "price_pro", true)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Handle(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	// downgraded immediately, but the subscription row survives until deletion
	account, err := e.accounts.GetByClerkID("user_2")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, account.SubscriptionStatus)
	assert.EqualValues(t, model.FreeCredits, account.Credits)

	sub, err := e.subs.GetByAccountID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "price_pro", sub.StripePriceID)
}

func TestBillingWebhookSubscriptionDeleted(t *testing.T) {
	e := newEnv(t)
	created := billingAccount(t, e, "user_3", "cus_3")
	h := newBillingWebhook(t, e, &stubEvents{})

	create := subscriptionPayload("customer.subscription.created", "sub_3", "cus_3", "price_enterprise", false)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(create))
	h.Handle(httptest.NewRecorder(), req)

	del := subscriptionPayload("customer.subscription.deleted", "sub_3", "cus_3", "price_enterprise", false)
	req = httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", strings.NewReader(del))
	w := httptest.NewRecorder()
	h.Handle(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	account, err := e.accounts.GetByClerkID("user_3")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, account.SubscriptionStatus)
	assert.EqualValues(t, model.FreeCredits, account.Credits)

	sub, err := e.subs.GetByAccountID(created.ID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestBillingWebhookIgnoresOtherEventTypes(t *testing.T) {
	e := newEnv(t)
	h := newBillingWebhook(t, e, &stubEvents{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe",
		strings.NewReader(`{"type": "invoice.paid", "data": {"object": {}}}`))
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true}`, w.Body.String())
}
