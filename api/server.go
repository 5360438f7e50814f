// Package api wires the HTTP surface: common endpoints, config ingestion
// and the uniform entity CRUD routes. Handlers stay thin — tenant routing,
// model lookup and envelope shaping happen here, everything else is
// delegated to the crud service, the store and the migrator.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stokaro/architect/crud"
	"github.com/stokaro/architect/store"
	"github.com/stokaro/architect/tenant"
)

// Version is the engine version reported by /version.
const Version = "0.3.0"

// Server holds the request-path dependencies.
type Server struct {
	registry *tenant.Registry
	store    *store.Store
	crud     *crud.Service
	models   *tenant.ModelCache
	logger   *slog.Logger

	defaultPackage atomic.Value // string
}

// New creates a server.
func New(registry *tenant.Registry, st *store.Store, svc *crud.Service, models *tenant.ModelCache) *Server {
	s := &Server{
		registry: registry,
		store:    st,
		crud:     svc,
		models:   models,
		logger:   slog.Default(),
	}
	s.defaultPackage.Store("")
	return s
}

// WithLogger sets the logger for the server.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// SetDefaultPackage selects the package served by the unprefixed entity
// routes and targeted by the per-kind config endpoints.
func (s *Server) SetDefaultPackage(id string) {
	s.defaultPackage.Store(id)
}

// DefaultPackage returns the current default package id, empty when none
// is installed yet.
func (s *Server) DefaultPackage() string {
	v, _ := s.defaultPackage.Load().(string)
	return v
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)
	r.Get("/info", s.handleInfo)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.tenantContext)

		r.Route("/config", func(r chi.Router) {
			r.Post("/package", s.handleInstallPackage)
			r.Post("/{kind}", s.handleReplaceKind)
			r.Get("/{kind}", s.handleListKind)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/tenants", s.handleListTenants)
			r.Post("/tenants", s.handleRegisterTenant)
			r.Post("/tenants/reload", s.handleReloadTenants)
			r.Get("/schema", s.handleInspectSchema)
		})

		r.Route("/package/{package_id}", func(r chi.Router) {
			s.mountEntityRoutes(r)
		})
		s.mountEntityRoutes(r)
	})

	return r
}

func (s *Server) mountEntityRoutes(r chi.Router) {
	r.Get("/{segment}", s.handleList)
	r.Post("/{segment}", s.handleCreate)
	r.Post("/{segment}/bulk", s.handleBulkCreate)
	r.Patch("/{segment}/bulk", s.handleBulkUpdate)
	r.Get("/{segment}/{id}", s.handleRead)
	r.Patch("/{segment}/{id}", s.handleUpdate)
	r.Delete("/{segment}/{id}", s.handleDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var one int
	if err := s.registry.Central().QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		s.logger.Error("Readiness probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "architect", "version": Version})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	strategies := map[store.TenantStrategy]int{}
	for _, e := range s.registry.Entries() {
		strategies[e.Strategy]++
	}
	writeData(w, http.StatusOK, map[string]any{
		"name":           "architect",
		"version":        Version,
		"defaultPackage": s.DefaultPackage(),
		"tenants":        strategies,
	}, nil)
}
