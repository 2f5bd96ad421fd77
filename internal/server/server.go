package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pixelforge/internal/archive"
	"github.com/dukerupert/pixelforge/internal/billing"
	"github.com/dukerupert/pixelforge/internal/email"
	"github.com/dukerupert/pixelforge/internal/handler"
	"github.com/dukerupert/pixelforge/internal/identity"
	"github.com/dukerupert/pixelforge/internal/middleware"
	"github.com/dukerupert/pixelforge/internal/plan"
	"github.com/dukerupert/pixelforge/internal/stability"
	"github.com/dukerupert/pixelforge/internal/store"
)

const (
	toolRateLimit    = 20
	webhookRateLimit = 120
	rateLimitWindow  = time.Minute
)

type Config struct {
	BaseURL               string
	IdentityWebhookSecret string
}

// Server assembles the stores, handlers, and middleware into one router.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	verifier    identity.TokenVerifier
	rateLimiter *middleware.RateLimiter

	credits         *handler.CreditsHandler
	checkout        *handler.CheckoutHandler
	tools           *handler.ToolsHandler
	images          *handler.ImagesHandler
	billingWebhook  *handler.BillingWebhookHandler
	identityWebhook *handler.IdentityWebhookHandler
}

func New(
	cfg Config,
	db *sql.DB,
	stripeClient *billing.Client,
	verifier identity.TokenVerifier,
	processor *stability.Client,
	arc *archive.Store,
	mailer *email.Client,
	plans *plan.Table,
	logger *slog.Logger,
) *Server {
	accounts := store.NewAccountStore(db)
	subs := store.NewSubscriptionStore(db)
	images := store.NewImageStore(db)

	var notifier billing.Notifier
	if mailer != nil && mailer.Configured() {
		notifier = mailer
	}
	reconciler := billing.NewReconciler(accounts, subs, plans, stripeClient, notifier, logger)

	return &Server{
		cfg:             cfg,
		logger:          logger,
		verifier:        verifier,
		rateLimiter:     middleware.NewRateLimiter(),
		credits:         handler.NewCreditsHandler(accounts, logger),
		checkout:        handler.NewCheckoutHandler(stripeClient, accounts, cfg.BaseURL, logger),
		tools:           handler.NewToolsHandler(accounts, images, processor, arc, logger),
		images:          handler.NewImagesHandler(accounts, images, arc, logger),
		billingWebhook:  handler.NewBillingWebhookHandler(stripeClient, reconciler, logger),
		identityWebhook: handler.NewIdentityWebhookHandler(cfg.IdentityWebhookSecret, accounts, logger),
	}
}

// RateLimiter exposes the limiter so main can run its cleanup loop.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Router builds the HTTP routes. Webhooks are unauthenticated; they carry
// their own signatures. The image tools are rate limited per caller IP on top
// of the credit check.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	auth := middleware.RequireAuth(s.verifier)
	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP, toolRateLimit, rateLimitWindow)
	webhookLimited := middleware.RateLimit(s.rateLimiter, middleware.RealIP, webhookRateLimit, rateLimitWindow)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /api/credits", auth(http.HandlerFunc(s.credits.GetCredits)))

	mux.Handle("POST /api/checkout", auth(http.HandlerFunc(s.checkout.CreateCheckoutSession)))
	mux.Handle("POST /api/billing-portal", auth(http.HandlerFunc(s.checkout.BillingPortal)))

	mux.Handle("POST /api/webhook/stripe", webhookLimited(http.HandlerFunc(s.billingWebhook.Handle)))
	mux.Handle("POST /api/webhook/clerk", webhookLimited(http.HandlerFunc(s.identityWebhook.Handle)))

	mux.Handle("POST /api/tools/generate-image", auth(limited(http.HandlerFunc(s.tools.GenerateImage))))
	mux.Handle("POST /api/tools/remove-background", auth(limited(http.HandlerFunc(s.tools.RemoveBackground))))
	mux.Handle("POST /api/tools/compress", auth(limited(http.HandlerFunc(s.tools.Compress))))

	mux.Handle("GET /api/images", auth(http.HandlerFunc(s.images.List)))
	mux.Handle("GET /api/images/{id}", auth(http.HandlerFunc(s.images.Get)))
	mux.Handle("DELETE /api/images/{id}", auth(http.HandlerFunc(s.images.Delete)))

	return middleware.RequestLogger(s.logger)(mux)
}
