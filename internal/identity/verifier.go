// Package identity integrates with the Clerk-style identity provider: session
// token verification for user-facing requests and signature verification for
// its lifecycle webhooks.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token that fails validation. Callers get
// no detail; the reason is deliberately not surfaced to clients.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated caller, resolved once at the request boundary
// and threaded explicitly through handlers.
type Principal struct {
	ClerkID string
	Email   string
}

// TokenVerifier validates a session token and returns the caller's identity.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

// Verifier validates provider-issued JWTs against the issuer's JWKS endpoint.
type Verifier struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewVerifier fetches the JWKS from the issuer's well-known endpoint and keeps
// it refreshed in the background.
func NewVerifier(issuer string) (*Verifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("identity issuer URL is required")
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &Verifier{issuer: issuer, jwks: jwks}, nil
}

// ValidateToken parses and validates a session JWT and returns the Principal.
func (v *Verifier) ValidateToken(ctx context.Context, tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, v.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	email, _ := claims["email"].(string)

	return &Principal{ClerkID: sub, Email: email}, nil
}
