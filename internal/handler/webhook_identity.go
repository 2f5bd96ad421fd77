package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pixelforge/internal/identity"
	"github.com/dukerupert/pixelforge/internal/store"
)

type IdentityWebhookHandler struct {
	secret   string
	accounts *store.AccountStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewIdentityWebhookHandler(secret string, accounts *store.AccountStore, logger *slog.Logger) *IdentityWebhookHandler {
	return &IdentityWebhookHandler{
		secret:   secret,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes identity-provider user lifecycle events. The signature is
// checked over the raw bytes before anything touches the database.
func (h *IdentityWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := identity.VerifyWebhookSignature(h.secret, r.Header, body, h.now()); err != nil {
		h.logger.Warn("identity webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event identity.UserEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "user.created", "user.updated":
		if event.Data.ID == "" {
			http.Error(w, "missing user id", http.StatusBadRequest)
			return
		}
		account, err := h.accounts.Reconcile(event.Data.ID, event.Data.PrimaryEmail())
		if err != nil {
			h.logger.Error("reconcile user event", "type", event.Type, "clerk_id", event.Data.ID, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		status := http.StatusOK
		if event.Type == "user.created" {
			status = http.StatusCreated
		}
		WriteJSON(w, status, map[string]any{"id": account.ID})
	case "user.deleted":
		if event.Data.ID == "" {
			http.Error(w, "missing user id", http.StatusBadRequest)
			return
		}
		if err := h.accounts.DeleteCascade(event.Data.ID); err != nil {
			h.logger.Error("delete user", "clerk_id", event.Data.ID, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		// Unrecognized event types are acknowledged so the provider stops
		// redelivering them.
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
