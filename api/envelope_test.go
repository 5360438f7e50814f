package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/architect/core/apperr"
)

func testServer() *Server {
	return &Server{logger: slog.Default()}
}

func doWriteError(c *qt.C, err error) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	testServer().writeError(rec, req, err)

	var body map[string]any
	if rec.Body.Len() > 0 {
		c.Assert(json.Unmarshal(rec.Body.Bytes(), &body), qt.IsNil)
	}
	return rec, body
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"config error", apperr.NewConfigReference("tables[0]", "unknown schema"), http.StatusUnprocessableEntity, "config_invalid_reference"},
		{"validation error", &apperr.ValidationError{Fields: []apperr.FieldError{{Field: "email", Msg: "is required"}}}, http.StatusUnprocessableEntity, "validation_failed"},
		{"not found", apperr.NewNotFound("tenant", "ghost"), http.StatusNotFound, "not_found"},
		{"bad request", apperr.NewBadRequest("unknown column"), http.StatusBadRequest, "bad_request"},
		{"conflict", &apperr.ConflictError{Constraint: "users_email_key"}, http.StatusConflict, "conflict"},
		{"unsafe identifier", &apperr.UnsafeIdentifierError{Identifier: "x;y"}, http.StatusInternalServerError, "unsafe_identifier"},
		{"timeout", fmt.Errorf("query: %w", apperr.ErrTimeout), http.StatusGatewayTimeout, "timeout"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"transient", fmt.Errorf("exec: %w", apperr.ErrTransientDatabase), http.StatusServiceUnavailable, "transient_database"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			rec, body := doWriteError(c, tt.err)
			c.Assert(rec.Code, qt.Equals, tt.status)
			c.Assert(errorCode(body), qt.Equals, tt.code)
		})
	}
}

func TestWriteError_ValidationDetails(t *testing.T) {
	c := qt.New(t)

	verr := &apperr.ValidationError{}
	verr.Add("email", "is required")
	_, body := doWriteError(c, verr)

	e := body["error"].(map[string]any)
	details := e["details"].(map[string]any)
	fields := details["fields"].([]any)
	c.Assert(fields, qt.HasLen, 1)
	first := fields[0].(map[string]any)
	c.Assert(first["field"], qt.Equals, "email")
}

func TestWriteData_Envelope(t *testing.T) {
	c := qt.New(t)

	rec := httptest.NewRecorder()
	writeData(rec, http.StatusOK, []string{"a"}, map[string]any{"count": 1})

	var body map[string]any
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &body), qt.IsNil)
	c.Assert(body["data"], qt.DeepEquals, []any{"a"})
	meta := body["meta"].(map[string]any)
	c.Assert(meta["count"], qt.Equals, float64(1))
	c.Assert(rec.Header().Get("Content-Type"), qt.Equals, "application/json")
}

func TestSplitIncludes(t *testing.T) {
	c := qt.New(t)

	c.Assert(splitIncludes(""), qt.IsNil)
	c.Assert(splitIncludes("orders"), qt.DeepEquals, []string{"orders"})
	c.Assert(splitIncludes("orders, users"), qt.DeepEquals, []string{"orders", "users"})
	c.Assert(splitIncludes("orders,,"), qt.DeepEquals, []string{"orders"})
}

func TestKindFromParam(t *testing.T) {
	c := qt.New(t)

	kind, ok := kindFromParam("tables")
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(kind), qt.Equals, "tables")

	_, ok = kindFromParam("views")
	c.Assert(ok, qt.IsFalse)
}
