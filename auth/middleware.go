package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

var ownerIDKey contextKey

// OwnerIDFromContext returns the authenticated owner ID injected by
// Middleware. The second result is false on unauthenticated requests.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerIDKey).(string)
	return id, ok
}

// WithOwnerID returns ctx carrying the owner ID. Exposed for handler tests.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// Middleware verifies the Bearer token and injects the owner ID into the
// request context. The core never reads the sender's identity from a
// request body; this is where it comes from.
func Middleware(tokens *TokenIssuer, onError func(w http.ResponseWriter, status int, msg string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				onError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				onError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			ownerID, err := tokens.Verify(parts[1])
			if err != nil {
				onError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}
