package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stokaro/architect/core/apperr"
)

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeData writes the success envelope {"data": ..., "meta": ...}.
func writeData(w http.ResponseWriter, status int, data any, meta map[string]any) {
	body := map[string]any{"data": data}
	if meta != nil {
		body["meta"] = meta
	}
	writeJSON(w, status, body)
}

// writeError maps an error onto the error envelope and status code per the
// engine taxonomy. Cancelled requests produce no body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; there is nobody to respond to.
		return
	}

	var (
		configErr *apperr.ConfigError
		valErr    *apperr.ValidationError
		notFound  *apperr.NotFoundError
		badReq    *apperr.BadRequestError
		conflict  *apperr.ConflictError
		unsafeID  *apperr.UnsafeIdentifierError
	)
	switch {
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": errorBody{Code: configErr.Kind, Message: configErr.Msg, Details: map[string]string{"path": configErr.Path}},
		})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": errorBody{Code: apperr.CodeValidation, Message: "validation failed", Details: map[string]any{"fields": valErr.Fields}},
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": errorBody{Code: apperr.CodeNotFound, Message: notFound.Error()},
		})
	case errors.As(err, &badReq):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": errorBody{Code: apperr.CodeBadRequest, Message: badReq.Msg},
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": errorBody{Code: apperr.CodeConflict, Message: conflict.Error()},
		})
	case errors.As(err, &unsafeID):
		s.logger.Error("Unsafe identifier reached the SQL builder", "identifier", unsafeID.Identifier)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Code: apperr.CodeUnsafeIdentifier, Message: "internal error"},
		})
	case errors.Is(err, apperr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"error": errorBody{Code: apperr.CodeTimeout, Message: "database call timed out"},
		})
	case errors.Is(err, apperr.ErrTransientDatabase):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": errorBody{Code: apperr.CodeTransientDatabase, Message: "temporary database failure"},
		})
	default:
		s.logger.Error("Request failed", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Code: apperr.CodeInternal, Message: "internal error"},
		})
	}
}
