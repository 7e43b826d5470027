package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// RouteTable binds mux route names to required permission strings. Keeping
// the binding data-driven means adding an endpoint is a table entry, not a
// new wrapper.
type RouteTable map[string]string

// PermissionMiddleware authorizes requests against the permission cache.
type PermissionMiddleware struct {
	perms *rbac.PermissionCache
	table RouteTable
}

// NewPermissionMiddleware creates a permission middleware over the given
// route table.
func NewPermissionMiddleware(perms *rbac.PermissionCache, table RouteTable) *PermissionMiddleware {
	return &PermissionMiddleware{perms: perms, table: table}
}

// Handler checks the table entry for the matched route, if any. Routes
// without an entry only require authentication.
func (m *PermissionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		if route == nil || route.GetName() == "" {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.table[route.GetName()]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		m.check(w, r, required, next)
	})
}

// Require wraps a single handler with an explicit permission requirement,
// for routes registered outside the table.
func (m *PermissionMiddleware) Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.check(w, r, perm, next)
		})
	}
}

func (m *PermissionMiddleware) check(w http.ResponseWriter, r *http.Request, required string, next http.Handler) {
	identity := GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	set, err := m.perms.GetEffectivePermissions(r.Context(), identity.UserID)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	if !set.Has(required) {
		httputil.WriteForbidden(w, "insufficient permissions")
		return
	}

	next.ServeHTTP(w, r)
}
