package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/core/sqlbuilder"
	"github.com/stokaro/architect/dbschema"
	"github.com/stokaro/architect/executor"
	"github.com/stokaro/architect/migration/migrator"
	"github.com/stokaro/architect/migration/planner"
	"github.com/stokaro/architect/store"
	"github.com/stokaro/architect/tenant"
)

// maxPackageSize caps an uploaded package archive at 32 MiB.
const maxPackageSize = 32 << 20

// handleInstallPackage ingests a multipart zip: unpack, load, validate,
// persist the config transactionally, apply DDL to the target pool, and
// register the package.
func (s *Server) handleInstallPackage(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)

	if err := r.ParseMultipartForm(maxPackageSize); err != nil {
		s.writeError(w, r, apperr.NewBadRequest("malformed multipart request: %v", err))
		return
	}
	file, _, err := r.FormFile("package")
	if err != nil {
		s.writeError(w, r, apperr.NewBadRequest("multipart field %q is required", "package"))
		return
	}
	defer file.Close()
	archive, err := io.ReadAll(io.LimitReader(file, maxPackageSize))
	if err != nil {
		s.writeError(w, r, apperr.NewBadRequest("failed to read archive: %v", err))
		return
	}

	pkg, err := pkgschema.LoadZip(archive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	model, err := resolve.Resolve(pkg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.SavePackage(r.Context(), tc.Exec, pkg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := migrator.New(tc.Exec).WithLogger(s.logger).ApplyModel(r.Context(), model, planner.Options{
		SchemaOverride: tc.SchemaOverride,
		EnableRLS:      true,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.models.Put(pkg.Manifest.ID, model)
	if s.DefaultPackage() == "" {
		s.SetDefaultPackage(pkg.Manifest.ID)
		id, _ := json.Marshal(pkg.Manifest.ID)
		if err := s.store.SetKV(r.Context(), s.registry.Central(), store.DefaultPackageKey, id); err != nil {
			s.logger.Warn("Failed to persist default package selection", "error", err)
		}
	}
	s.logger.Info("Package installed", "package", pkg.Manifest.ID, "entities", len(model.Entities))
	writeData(w, http.StatusCreated, pkg.Manifest, nil)
}

// handleReplaceKind ingests a replace-set for one config kind: splice the
// posted array into the stored package, revalidate the whole set, then
// upsert the kind's rows in one transaction. Nothing is written on failure.
func (s *Server) handleReplaceKind(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)
	kind, ok := kindFromParam(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, r, apperr.NewNotFound("config kind", chi.URLParam(r, "kind")))
		return
	}
	packageID := s.DefaultPackage()
	if packageID == "" {
		s.writeError(w, r, apperr.NewNotFound("package", "(default)"))
		return
	}

	posted, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, apperr.NewBadRequest("failed to read body: %v", err))
		return
	}
	if !json.Valid(posted) {
		s.writeError(w, r, apperr.NewBadRequest("malformed JSON body"))
		return
	}

	current, err := s.store.LoadPackage(r.Context(), tc.Exec, packageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw, err := current.Raw()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw.Kinds[kind] = posted

	pkg, err := pkgschema.Decode(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	model, err := resolve.Resolve(pkg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := store.KindRecords(pkg, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = executor.InTx(r.Context(), tc.Exec, func(tx pgx.Tx) error {
		return s.store.UpsertKind(r.Context(), tx, packageID, kind, records)
	})
	if err != nil {
		s.writeError(w, r, executor.ClassifyError(err))
		return
	}

	s.models.Invalidate(packageID)
	s.models.Put(packageID, model)
	writeData(w, http.StatusOK, json.RawMessage(raw.Kinds[kind]), map[string]any{"count": len(records)})
}

// handleListKind returns the stored records of one config kind.
func (s *Server) handleListKind(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)
	kind, ok := kindFromParam(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, r, apperr.NewNotFound("config kind", chi.URLParam(r, "kind")))
		return
	}
	packageID := s.DefaultPackage()
	if packageID == "" {
		s.writeError(w, r, apperr.NewNotFound("package", "(default)"))
		return
	}

	records, err := s.store.ListKind(r.Context(), tc.Exec, packageID, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payloads := make([]json.RawMessage, len(records))
	for i, rec := range records {
		payloads[i] = rec.Payload
	}
	writeData(w, http.StatusOK, payloads, map[string]any{"count": len(payloads)})
}

func (s *Server) handleListTenants(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.Entries()
	if entries == nil {
		entries = []store.TenantEntry{}
	}
	writeData(w, http.StatusOK, entries, map[string]any{"count": len(entries)})
}

// handleRegisterTenant persists a tenant entry and refreshes the snapshot.
// Schema-strategy tenants get their schema provisioned from the default
// package immediately so their first request does not pay migration cost.
func (s *Server) handleRegisterTenant(w http.ResponseWriter, r *http.Request) {
	var entry store.TenantEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, r, apperr.NewBadRequest("malformed JSON body: %v", err))
		return
	}
	if err := s.store.UpsertTenant(r.Context(), s.registry.Central(), entry); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.Reload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	if entry.Strategy == store.StrategySchema {
		if err := s.provisionSchemaTenant(r, entry); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeData(w, http.StatusCreated, entry, nil)
}

func (s *Server) provisionSchemaTenant(r *http.Request, entry store.TenantEntry) error {
	packageID := s.DefaultPackage()
	if packageID == "" {
		// Nothing to provision yet. Config changes apply no DDL, so this
		// tenant's schema is built only by a package install sent with this
		// tenant's X-Tenant-ID (the install applies DDL with its override).
		s.logger.Warn("Schema tenant registered before any package install", "tenant", entry.ID)
		return nil
	}
	model, err := s.models.Get(r.Context(), &tenant.Context{Exec: s.registry.Central(), Pool: s.registry.Central()}, packageID)
	if err != nil {
		return err
	}
	return migrator.New(s.registry.Central()).WithLogger(s.logger).ApplyModel(r.Context(), model, planner.Options{
		SchemaOverride: entry.SchemaName,
	})
}

// handleInspectSchema reports the live shape of a namespace on the
// request's execution context, so provisioning results are verifiable per
// tenant.
func (s *Server) handleInspectSchema(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)
	schema := r.URL.Query().Get("schema")
	if schema == "" {
		schema = tc.SchemaOverride
	}
	if schema == "" {
		s.writeError(w, r, apperr.NewBadRequest("query parameter %q is required", "schema"))
		return
	}
	if _, err := sqlbuilder.QuoteIdent(schema); err != nil {
		s.writeError(w, r, apperr.NewBadRequest("invalid schema name %q", schema))
		return
	}
	snapshot, err := dbschema.NewReader(tc.Exec).ReadSchema(r.Context(), schema)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, snapshot, nil)
}

func (s *Server) handleReloadTenants(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reload(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"tenants": len(s.registry.Entries())}, nil)
}

func kindFromParam(raw string) (pkgschema.Kind, bool) {
	for _, kind := range pkgschema.AllKinds {
		if string(kind) == raw {
			return kind, true
		}
	}
	return "", false
}
