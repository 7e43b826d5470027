package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
)

// The invalidation endpoints are called by the admin surface after role,
// menu or assignment edits. They are best-effort: a degraded cache backend
// still returns 204 and the TTL ceiling bounds staleness.

// handleInvalidateRole handles POST /api/v1/invalidate/roles/{role_id}
func (s *Server) handleInvalidateRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(mux.Vars(r)["role_id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid role id")
		return
	}
	s.perms.OnRoleChanged(r.Context(), roleID)
	httputil.WriteNoContent(w)
}

// handleInvalidateMenus handles POST /api/v1/invalidate/menus
func (s *Server) handleInvalidateMenus(w http.ResponseWriter, r *http.Request) {
	s.perms.OnMenuChanged(r.Context())
	httputil.WriteNoContent(w)
}

// handleInvalidateUserRoles handles POST /api/v1/invalidate/users/{user_id}/roles
func (s *Server) handleInvalidateUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid user id")
		return
	}
	s.perms.OnUserRolesChanged(r.Context(), userID)
	httputil.WriteNoContent(w)
}
