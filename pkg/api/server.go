// Package api exposes the HTTP surface: authentication, permission and menu
// resolution, data-scope resolution, online-session administration and cache
// invalidation hooks.
package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/session"
)

// routeTable binds named routes to the permission required to call them.
// Routes absent from the table only require authentication.
var routeTable = middleware.RouteTable{
	"sessions.list":        "monitor:online:list",
	"sessions.forceLogout": "monitor:online:forceLogout",
	"invalidate.role":      "system:role:edit",
	"invalidate.menu":      "system:menu:edit",
	"invalidate.userRoles": "system:user:edit",
}

// Server wires the handlers and middleware into a router.
type Server struct {
	router   *mux.Router
	login    *session.LoginService
	registry *session.Registry
	perms    *rbac.PermissionCache
	scopes   *rbac.ScopeResolver
	gw       *cache.Gateway
	log      *logrus.Logger
	metrics  *observability.Metrics
}

// NewServer creates the API server and registers all routes.
func NewServer(
	login *session.LoginService,
	registry *session.Registry,
	perms *rbac.PermissionCache,
	scopes *rbac.ScopeResolver,
	gw *cache.Gateway,
	log *logrus.Logger,
	metrics *observability.Metrics,
) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		router:   mux.NewRouter(),
		login:    login,
		registry: registry,
		perms:    perms,
		scopes:   scopes,
		gw:       gw,
		log:      log,
		metrics:  metrics,
	}
	s.registerRoutes()
	return s
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(middleware.RequestID))
	api.Use(s.requestMetrics)
	api.Use(mux.MiddlewareFunc(middleware.StartupGate(s.gw)))

	// Login is the only unauthenticated route.
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST").Name("auth.login")

	authed := api.NewRoute().Subrouter()
	authed.Use(mux.MiddlewareFunc(middleware.NewAuthMiddleware(s.registry).Handler))
	authed.Use(mux.MiddlewareFunc(middleware.NewPermissionMiddleware(s.perms, routeTable).Handler))

	authed.HandleFunc("/auth/logout", s.handleLogout).Methods("POST").Name("auth.logout")

	authed.HandleFunc("/users/me/permissions", s.handleMyPermissions).Methods("GET").Name("me.permissions")
	authed.HandleFunc("/users/me/menus", s.handleMyMenus).Methods("GET").Name("me.menus")
	authed.HandleFunc("/users/me/scope", s.handleMyScope).Methods("GET").Name("me.scope")

	authed.HandleFunc("/sessions", s.handleListSessions).Methods("GET").Name("sessions.list")
	authed.HandleFunc("/sessions/{user_id:[0-9]+}", s.handleForceLogout).Methods("DELETE").Name("sessions.forceLogout")

	authed.HandleFunc("/invalidate/roles/{role_id:[0-9]+}", s.handleInvalidateRole).Methods("POST").Name("invalidate.role")
	authed.HandleFunc("/invalidate/menus", s.handleInvalidateMenus).Methods("POST").Name("invalidate.menu")
	authed.HandleFunc("/invalidate/users/{user_id:[0-9]+}/roles", s.handleInvalidateUserRoles).Methods("POST").Name("invalidate.userRoles")
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.
				WithLabelValues(r.Method, path, fmt.Sprintf("%d", rec.status)).Inc()
		}
	})
}
