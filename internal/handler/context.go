package handler

import (
	"context"

	"github.com/dukerupert/pixelforge/internal/identity"
)

type contextKey struct{}

// WithPrincipal stores the authenticated principal in the context.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(contextKey{}).(*identity.Principal)
	return p
}
