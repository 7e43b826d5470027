package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/session"
	"github.com/platinummonkey/warden/pkg/throttle"
)

// handleLogin handles POST /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteValidationError(w, "username and password are required")
		return
	}

	token, err := s.login.Login(r.Context(), req.Username, req.Password, httputil.ClientIP(r))
	if err != nil {
		var locked *throttle.LockedError
		switch {
		case errors.As(err, &locked):
			httputil.WriteLocked(w, locked.Reason, locked.RetryAfter)
		case errors.Is(err, session.ErrInvalidCredentials):
			httputil.WriteUnauthorized(w, "invalid credentials")
		case errors.Is(err, session.ErrUserDisabled):
			httputil.WriteForbidden(w, "account disabled")
		default:
			s.log.WithError(err).Error("login failed")
			httputil.WriteInternalError(w)
		}
		return
	}

	httputil.WriteSuccess(w, map[string]string{"token": token})
}

// handleLogout handles POST /api/v1/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}
	if err := s.login.Logout(r.Context(), token); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}
		s.log.WithError(err).Error("logout failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
