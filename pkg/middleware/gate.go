package middleware

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// StartupGate holds cache-dependent endpoints behind a 503 until the
// gateway's first liveness probe has resolved. Success and a definitive
// "backend absent" both open the gate. This closes the race where early
// requests observe a half-initialized client handle.
func StartupGate(gw *cache.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gw.Started() {
				httputil.WriteUnavailable(w, "service warming up")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
