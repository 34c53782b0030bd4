package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// RevocationChecker reports whether a bearer token has been revoked.
type RevocationChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

const RevokedTokenPrefix = "revoked:"

// Auth checks the static service token and rejects revoked tokens. An empty
// requiredToken disables the check, as in local development.
func Auth(requiredToken string, revoked RevocationChecker, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || token != requiredToken {
				WriteError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			if revoked != nil {
				isRevoked, err := revoked.Exists(r.Context(), RevokedTokenPrefix+token)
				if err != nil {
					logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("revocation lookup failed")
					WriteError(w, r, http.StatusInternalServerError, "internal_error", "could not verify credentials")
					return
				}
				if isRevoked {
					WriteError(w, r, http.StatusUnauthorized, "unauthorized", "token has been revoked")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
