package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-extras/go-kit/ptr"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/crud"
	"github.com/stokaro/architect/tenant"
)

// entityRequest resolves the execution context, package model, entity and
// operation for one request. Missing operations are a 404, same as unknown
// entities.
func (s *Server) entityRequest(r *http.Request, op pkgschema.Operation) (*tenant.Context, *resolve.Entity, error) {
	tc := tenantFrom(r)

	packageID := chi.URLParam(r, "package_id")
	if packageID == "" {
		packageID = s.DefaultPackage()
	}
	if packageID == "" {
		return nil, nil, apperr.NewNotFound("package", "(default)")
	}

	model, err := s.models.Get(r.Context(), tc, packageID)
	if err != nil {
		return nil, nil, err
	}

	segment := chi.URLParam(r, "segment")
	entity := model.EntityByPath(segment)
	if entity == nil {
		return nil, nil, apperr.NewNotFound("entity", segment)
	}
	if !entity.Supports(op) {
		return nil, nil, apperr.NewNotFound("operation", string(op))
	}
	return tc, entity, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpList)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	opts := crud.ListOptions{Filters: map[string]string{}}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch key {
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				s.writeError(w, r, apperr.NewBadRequest("limit must be an integer"))
				return
			}
			opts.Limit = ptr.To(n)
		case "offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				s.writeError(w, r, apperr.NewBadRequest("offset must be an integer"))
				return
			}
			opts.Offset = n
		case "include":
			opts.Includes = splitIncludes(value)
		default:
			opts.Filters[key] = value
		}
	}

	rows, err := s.crud.List(r.Context(), tc.Exec, tc.SchemaOverride, entity, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []crud.Row{}
	}
	limit := crud.DefaultLimit
	if opts.Limit != nil {
		limit = *opts.Limit
		if limit > crud.MaxLimit {
			limit = crud.MaxLimit
		}
	}
	writeData(w, http.StatusOK, rows, map[string]any{
		"limit":  limit,
		"offset": opts.Offset,
		"count":  len(rows),
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpRead)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.crud.Read(r.Context(), tc.Exec, tc.SchemaOverride, entity,
		chi.URLParam(r, "id"), splitIncludes(r.URL.Query().Get("include")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, row, nil)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpCreate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.crud.Create(r.Context(), tc.Exec, tc.SchemaOverride, entity, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, row, nil)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpUpdate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.crud.Update(r.Context(), tc.Exec, tc.SchemaOverride, entity, chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, row, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpDelete)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.crud.Delete(r.Context(), tc.Exec, tc.SchemaOverride, entity, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpBulkCreate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bodies, err := decodeArray(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.crud.BulkCreate(r.Context(), tc.Exec, tc.SchemaOverride, entity, bodies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, rows, map[string]any{"count": len(rows)})
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	tc, entity, err := s.entityRequest(r, pkgschema.OpBulkUpdate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := decodeArray(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.crud.BulkUpdate(r.Context(), tc.Exec, tc.SchemaOverride, entity, items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rows, map[string]any{"count": len(rows)})
}

func decodeObject(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apperr.NewBadRequest("malformed JSON body: %v", err)
	}
	return body, nil
}

func decodeArray(r *http.Request) ([]map[string]any, error) {
	var bodies []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&bodies); err != nil {
		return nil, apperr.NewBadRequest("malformed JSON body: expected an array of objects: %v", err)
	}
	return bodies, nil
}

func splitIncludes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
