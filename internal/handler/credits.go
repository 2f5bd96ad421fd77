package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/pixelforge/internal/store"
)

type CreditsHandler struct {
	accounts *store.AccountStore
	logger   *slog.Logger
}

func NewCreditsHandler(accounts *store.AccountStore, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{accounts: accounts, logger: logger}
}

// GetCredits returns the caller's balance and tier. First access creates the
// account row with the free-tier defaults.
func (h *CreditsHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.accounts.Ensure(p.ClerkID, p.Email)
	if err != nil {
		h.logger.Error("ensure account", "clerk_id", p.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"credits":            account.Credits,
		"subscriptionStatus": account.SubscriptionStatus,
	})
}
