package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pixelforge/internal/billing"
	"github.com/dukerupert/pixelforge/internal/store"
)

type CheckoutHandler struct {
	stripeClient *billing.Client
	accounts     *store.AccountStore
	baseURL      string
	logger       *slog.Logger
}

func NewCheckoutHandler(sc *billing.Client, accounts *store.AccountStore, baseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		stripeClient: sc,
		accounts:     accounts,
		baseURL:      baseURL,
		logger:       logger,
	}
}

// CreateCheckoutSession creates a Stripe checkout session for the requested
// price and returns its URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		PriceID string `json:"priceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PriceID == "" {
		WriteError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	account, err := h.accounts.Ensure(p.ClerkID, p.Email)
	if err != nil {
		h.logger.Error("ensure account", "clerk_id", p.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	existingID := ""
	if account.StripeCustomerID != nil {
		existingID = *account.StripeCustomerID
	}
	customerID, err := h.stripeClient.EnsureCustomer(existingID, account.Email, p.ClerkID)
	if err != nil {
		h.logger.Error("ensure stripe customer", "account", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to create customer")
		return
	}
	if customerID != existingID {
		if err := h.accounts.UpdateStripeCustomerID(account.ID, customerID); err != nil {
			h.logger.Error("store stripe customer id", "account", account.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "server error")
			return
		}
	}

	url, err := h.stripeClient.CreateCheckoutSession(customerID, req.PriceID, p.ClerkID)
	if err != nil {
		h.logger.Error("create checkout session", "account", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal creates a Stripe billing portal session and returns its URL.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.GetByClerkID(p.ClerkID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if account == nil || account.StripeCustomerID == nil {
		WriteError(w, http.StatusBadRequest, "no billing account")
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = h.baseURL + "/dashboard"
	}

	url, err := h.stripeClient.CreateBillingPortalSession(*account.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "account", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}
