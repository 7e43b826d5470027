package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/session"
)

// handleListSessions handles GET /api/v1/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.ListActive(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrDegraded) {
			httputil.WriteUnavailable(w, "session listing requires the cache backend")
			return
		}
		s.log.WithError(err).Error("failed to list sessions")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": sessions})
}

// handleForceLogout handles DELETE /api/v1/sessions/{user_id}
func (s *Server) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		httputil.WriteValidationError(w, "invalid user id")
		return
	}

	if err := s.registry.Invalidate(r.Context(), userID); err != nil {
		if errors.Is(err, session.ErrDegraded) {
			httputil.WriteUnavailable(w, "forced logout requires the cache backend")
			return
		}
		s.log.WithError(err).WithField("user_id", userID).Error("forced logout failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
