package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/healthchat/backend/internal/auth"
	"github.com/healthchat/backend/pkg/utils"
)

type identityKey struct{}

// RequireAuth rejects requests without a valid bearer token: 401 when the
// header is missing, 403 when the token does not verify.
func RequireAuth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "Access token required")
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				log.Printf("[http] rejected token for %s %s: %v", r.Method, r.URL.Path, err)
				utils.RespondError(w, http.StatusForbidden, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// WithIdentity stores the authenticated caller on ctx.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the caller stored by RequireAuth.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}
