package middleware

import (
	"net/http"

	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/identity"
)

// RequireRole returns middleware that rejects callers whose effective role,
// as carried in the access token, is not in the allowed list. Roles are
// those at token mint time.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	allowed := make(map[identity.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			claims := GetClaims(r.Context())
			if claims == nil {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer access token is required", requestID)
				return
			}

			if !allowed[identity.Role(claims.Role)] {
				response.Err(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
