// Package middleware provides the HTTP interceptor chain in front of the
// business handlers: startup gate, bearer-token authentication and
// table-driven permission checks.
package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/session"
)

// AuthMiddleware authenticates requests by validating the bearer token and
// attaching the resulting identity to the request context.
type AuthMiddleware struct {
	registry *session.Registry
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(registry *session.Registry) *AuthMiddleware {
	return &AuthMiddleware{registry: registry}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.registry.Validate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the authenticated identity from a request.
func GetIdentity(r *http.Request) *session.Identity {
	v := r.Context().Value(contextkeys.IdentityKey)
	if v == nil {
		return nil
	}
	identity, ok := v.(*session.Identity)
	if !ok {
		return nil
	}
	return identity
}
