package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
)

// handleMyPermissions handles GET /api/v1/users/me/permissions
func (s *Server) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	set, err := s.perms.GetEffectivePermissions(r.Context(), identity.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", identity.UserID).
			Error("failed to resolve permissions")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     identity.UserID,
		"permissions": set.Strings(),
	})
}

// handleMyMenus handles GET /api/v1/users/me/menus
func (s *Server) handleMyMenus(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	tree, err := s.perms.GetMenuTree(r.Context(), identity.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", identity.UserID).
			Error("failed to resolve menu tree")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"menus": tree})
}

// handleMyScope handles GET /api/v1/users/me/scope
func (s *Server) handleMyScope(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	policy, err := s.scopes.ResolveScope(r.Context(), identity.UserID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", identity.UserID).
			Error("failed to resolve data scope")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"kind":     policy.Kind.String(),
		"dept_ids": policy.DeptIDs,
		"user_id":  policy.UserID,
	})
}
