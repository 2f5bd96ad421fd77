package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/pixelforge/internal/archive"
	"github.com/dukerupert/pixelforge/internal/billing"
	"github.com/dukerupert/pixelforge/internal/database"
	"github.com/dukerupert/pixelforge/internal/email"
	"github.com/dukerupert/pixelforge/internal/identity"
	"github.com/dukerupert/pixelforge/internal/logging"
	"github.com/dukerupert/pixelforge/internal/plan"
	"github.com/dukerupert/pixelforge/internal/server"
	"github.com/dukerupert/pixelforge/internal/stability"
)

func main() {
	logger := logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	port := envOr("PORT", "8080")
	baseURL := envOr("BASE_URL", "http://localhost:"+port)
	dbPath := envOr("DB_PATH", "pixelforge.db")

	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "path", dbPath)

	stripeClient := billing.NewClient(billing.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:    baseURL + "/dashboard?upgraded=true",
		CancelURL:     baseURL + "/pricing",
	})

	plans := plan.NewTable(plan.PriceIDs{
		Starter:    os.Getenv("STRIPE_PRICE_STARTER"),
		Pro:        os.Getenv("STRIPE_PRICE_PRO"),
		Enterprise: os.Getenv("STRIPE_PRICE_ENTERPRISE"),
	})

	issuer := os.Getenv("CLERK_ISSUER")
	if issuer == "" {
		return errors.New("CLERK_ISSUER is required")
	}
	verifier, err := identity.NewVerifier(issuer)
	if err != nil {
		return err
	}

	processor := stability.NewClient(os.Getenv("STABILITY_API_KEY"))

	arc := archive.New(archive.Config{
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		Bucket:    os.Getenv("S3_BUCKET"),
		Region:    envOr("S3_REGION", "auto"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
	})
	if arc.Enabled() {
		logger.Info("image archive enabled", "bucket", os.Getenv("S3_BUCKET"))
	}

	mailer := email.NewClient(os.Getenv("POSTMARK_SERVER_TOKEN"), os.Getenv("POSTMARK_FROM_EMAIL"))

	srv := server.New(server.Config{
		BaseURL:               baseURL,
		IdentityWebhookSecret: os.Getenv("CLERK_WEBHOOK_SECRET"),
	}, db, stripeClient, verifier, processor, arc, mailer, plans, logger)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
