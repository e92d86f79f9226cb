package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/avdeev/poizon-sync/internal/service/auth"
)

type claimsKey struct{}

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores
// the claims on the request context.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				RespondWithError(w, r, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the authenticated claims, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}
