package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tutorlink/identity/internal/api/response"
	"github.com/tutorlink/identity/internal/token"
)

const claimsKey contextKey = "claims"

// Authenticate is middleware that verifies the bearer access token and
// stores its claims in the request context. Verification is stateless: no
// store is consulted. Missing, invalid or expired tokens return 401.
func Authenticate(signer *token.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer access token is required", requestID)
				return
			}

			claims, err := signer.Verify(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				if errors.Is(err, token.ErrTokenExpired) {
					response.Err(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token has expired", requestID)
					return
				}
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid access token", requestID)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the verified access-token claims from the request context.
func GetClaims(ctx context.Context) *token.Claims {
	if c, ok := ctx.Value(claimsKey).(*token.Claims); ok {
		return c
	}
	return nil
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func bearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
