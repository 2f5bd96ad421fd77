package middleware

import (
	"net/http"
	"strings"

	"github.com/dukerupert/pixelforge/internal/handler"
	"github.com/dukerupert/pixelforge/internal/identity"
)

// RequireAuth validates the Bearer token and puts the resolved Principal in
// the request context. The principal is resolved exactly once here; handlers
// never talk to the identity provider themselves.
func RequireAuth(verifier identity.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				handler.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			principal, err := verifier.ValidateToken(r.Context(), token)
			if err != nil {
				handler.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := handler.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
