package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/halcyon-sec/authgate/internal/auth"
)

type contextKey string

// IdentityKey holds the authenticated *auth.Claims in the request
// context once AuthMiddleware has admitted it.
const IdentityKey contextKey = "identity"

// Authorizer is the single admission decision every protected endpoint
// needs: a token in, claims or a rejection out.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*auth.Claims, error)
}

// GetIdentity returns the claims injected by AuthMiddleware.
func GetIdentity(ctx context.Context) (*auth.Claims, error) {
	claims, ok := ctx.Value(IdentityKey).(*auth.Claims)
	if !ok || claims == nil {
		return nil, errors.New("no identity in context")
	}
	return claims, nil
}

// AuthMiddleware validates the bearer token on every request and
// injects the resulting claims. All rejection reasons collapse to one
// generic 401; the precise reason is logged server-side only.
func AuthMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := authorizer.Authorize(r.Context(), parts[1])
			if err != nil {
				slog.Warn("token_rejected", "reason", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
