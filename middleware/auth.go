package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/CodeBTHS/app/logging"

	"github.com/sirupsen/logrus"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string
	Username string
	Role     string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticate validates the bearer token and stores the caller in the request context.
func Authenticate(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Missing Authorization header")
				return
			}

			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				logging.Logger.WithField(logging.EventField, "JWT_AUTH_INVALID_TOKEN").
					Debugf("invalid token for %s %s: %v", r.Method, r.URL.Path, err)
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}
			if claims.Role == "" {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Missing role in token")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{
				UserID:   claims.Subject,
				Username: claims.Username,
				Role:     claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles lets the request through only when the caller's role is one of allowedRoles.
// It must run after Authenticate.
func RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
				return
			}
			if !slices.Contains(allowedRoles, principal.Role) {
				deny(w, r, http.StatusForbidden, "FORBIDDEN", "Access forbidden: insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	logging.Logger.WithFields(logrus.Fields{
		logging.EventField: "ACCESS_DENIED",
		"method":           r.Method,
		"path":             r.URL.Path,
		"status":           status,
	}).Warn(description)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]string{
		"error":       code,
		"description": description,
	})
	if err != nil {
		logging.Logger.WithField(logging.EventField, "RESPONSE_ENCODE_FAILED").Errorf("encode response: %v", err)
	}
}
