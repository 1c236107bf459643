package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/persona/internal/auth"
)

// Authenticate resolves the bearer token into an auth.Identity on the request
// context and rejects the request with 401 when it cannot.
func Authenticate(v IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			id, err := v.VerifyIdentity(header[len(prefix):])
			if err != nil {
				msg := "invalid or missing bearer token"
				if errors.Is(err, auth.ErrInvalidToken) {
					msg = "invalid bearer token"
				}
				httpError(w, http.StatusUnauthorized, "authentication_error", "%s", msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
