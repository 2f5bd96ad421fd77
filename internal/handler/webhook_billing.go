package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/pixelforge/internal/billing"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

// eventConstructor verifies a raw webhook payload. Implemented by
// *billing.Client; stubbed in tests.
type eventConstructor interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type BillingWebhookHandler struct {
	events     eventConstructor
	reconciler *billing.Reconciler
	logger     *slog.Logger
}

func NewBillingWebhookHandler(events eventConstructor, reconciler *billing.Reconciler, logger *slog.Logger) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		events:     events,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Handle processes Stripe webhook deliveries. Signature verification runs over
// the exact raw bytes; nothing is written before it passes. A 200 stops
// Stripe's redelivery, so recognized-but-ignored event types are acknowledged,
// and only genuine handling failures return 500 to trigger a retry.
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.events.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("stripe webhook signature rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var apply func(*billing.SubscriptionEvent) error
	switch event.Type {
	case "customer.subscription.created":
		apply = h.reconciler.HandleCreated
	case "customer.subscription.updated":
		apply = h.reconciler.HandleUpdated
	case "customer.subscription.deleted":
		apply = h.reconciler.HandleDeleted
	default:
		// Recognized-but-unhandled event types are acknowledged so Stripe
		// stops redelivering them.
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if event.Data == nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var sub billing.SubscriptionEvent
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("unmarshal subscription event", "type", event.Type, "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := apply(&sub); err != nil {
		h.logger.Error("reconcile subscription event", "type", event.Type, "subscription", sub.ID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
