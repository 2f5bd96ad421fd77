package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pixelforge/internal/database"
	"github.com/dukerupert/pixelforge/internal/identity"
	"github.com/dukerupert/pixelforge/internal/store"
)

type env struct {
	accounts *store.AccountStore
	subs     *store.SubscriptionStore
	images   *store.ImageStore
	logger   *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &env{
		accounts: store.NewAccountStore(db),
		subs:     store.NewSubscriptionStore(db),
		images:   store.NewImageStore(db),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// authed attaches a verified principal, the way the auth middleware does.
func authed(r *http.Request, clerkID, email string) *http.Request {
	p := &identity.Principal{ClerkID: clerkID, Email: email}
	return r.WithContext(WithPrincipal(r.Context(), p))
}
