package api

import (
	"context"
	"net/http"
	"time"

	"github.com/stokaro/architect/tenant"
)

// TenantHeader selects the tenant for a request.
const TenantHeader = "X-Tenant-ID"

type contextKey int

const tenantContextKey contextKey = iota

// tenantContext resolves the X-Tenant-ID header into an execution context
// and guarantees its release on every exit path, including panics and
// cancellation — this is what keeps pinned RLS connections from leaking.
func (s *Server) tenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := s.registry.Context(r.Context(), r.Header.Get(TenantHeader))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer tc.Release()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantContextKey, tc)))
	})
}

// tenantFrom returns the execution context installed by the middleware.
func tenantFrom(r *http.Request) *tenant.Context {
	tc, _ := r.Context().Value(tenantContextKey).(*tenant.Context)
	return tc
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger logs method, path, tenant, status and duration per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"tenant", r.Header.Get(TenantHeader),
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
