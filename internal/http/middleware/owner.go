package middleware

import (
	"context"
	"net/http"
	"strings"
)

// OwnerHeader carries the authenticated user id set by the upstream auth gateway.
const OwnerHeader = "X-Owner-Id"

const maxOwnerIDLength = 128

// RequireOwner rejects requests without an owner and stores it on the context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" || len(owner) > maxOwnerIDLength {
			WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid "+OwnerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), ownerIDKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetOwnerID(ctx context.Context) string {
	value, _ := ctx.Value(ownerIDKey).(string)
	return value
}
