package sqlbuilder_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/go-extras/go-kit/ptr"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/core/sqlbuilder"
)

// usersEntity resolves a users entity with one sensitive column.
func usersEntity(c *qt.C) *resolve.Entity {
	pkg := &pkgschema.Package{
		Manifest: pkgschema.Manifest{ID: "app", Schema: "app"},
		Schemas:  []pkgschema.Schema{{ID: "default", Name: "app"}},
		Tables: []pkgschema.Table{
			{ID: "users", SchemaID: "default", Name: "users", PrimaryKey: pkgschema.StringList{"id"}},
		},
		Columns: []pkgschema.Column{
			{ID: "c1", TableID: "users", Name: "id", Type: pkgschema.ColumnType{Name: "uuid"}, Nullable: ptr.To(false)},
			{ID: "c2", TableID: "users", Name: "email", Type: pkgschema.ColumnType{Name: "text"}, Nullable: ptr.To(false)},
			{ID: "c3", TableID: "users", Name: "password_hash", Type: pkgschema.ColumnType{Name: "text"}},
		},
		APIEntities: []pkgschema.APIEntity{
			{EntityID: "users", PathSegment: "users", Operations: []pkgschema.Operation{pkgschema.OpList},
				SensitiveColumns: []string{"password_hash"}},
		},
	}
	m, err := resolve.Resolve(pkg)
	c.Assert(err, qt.IsNil)
	return m.EntityByPath("users")
}

const visibleCols = `"id", "email", "created_at", "updated_at", "archived_at"`

func TestSelectByID(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.SelectByID(e, "", "u1")
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals, `SELECT `+visibleCols+` FROM "app"."users" WHERE "id" = $1`)
	c.Assert(stmt.Args, qt.DeepEquals, []any{"u1"})
}

func TestSelectByID_SchemaOverride(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.SelectByID(e, "tenant_a", "u1")
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals, `SELECT `+visibleCols+` FROM "tenant_a"."users" WHERE "id" = $1`)
}

func TestSelectList(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.SelectList(e, "", sqlbuilder.ListParams{Limit: 100, Offset: 20})
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals,
		`SELECT `+visibleCols+` FROM "app"."users" ORDER BY "created_at" DESC LIMIT $1 OFFSET $2`)
	c.Assert(stmt.Args, qt.DeepEquals, []any{100, 20})
}

func TestSelectList_Filters(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.SelectList(e, "", sqlbuilder.ListParams{
		Filters: map[string]any{"email": "a@b.co", "archived_at": nil},
		Limit:   10,
	})
	c.Assert(err, qt.IsNil)
	// Filter columns are ordered lexically for deterministic SQL.
	c.Assert(stmt.SQL, qt.Equals,
		`SELECT `+visibleCols+` FROM "app"."users" WHERE "archived_at" = $1 AND "email" = $2 ORDER BY "created_at" DESC LIMIT $3 OFFSET $4`)
	c.Assert(stmt.Args, qt.DeepEquals, []any{nil, "a@b.co", 10, 0})
}

func TestSelectList_UnknownFilter(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	_, err := sqlbuilder.SelectList(e, "", sqlbuilder.ListParams{Filters: map[string]any{"ghost": 1}})
	var badReq *apperr.BadRequestError
	c.Assert(errors.As(err, &badReq), qt.IsTrue)
}

func TestSelectByColumnIn(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.SelectByColumnIn(e, "", "id", []any{"a", "b"})
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals,
		`SELECT `+visibleCols+` FROM "app"."users" WHERE "id" = ANY($1) ORDER BY "created_at" DESC`)
	c.Assert(stmt.Args, qt.HasLen, 1)
}

func TestInsert(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.Insert(e, "", map[string]any{"email": "a@b.co", "id": "u1"})
	c.Assert(err, qt.IsNil)
	// Insert columns follow declared order, not body order.
	c.Assert(stmt.SQL, qt.Equals,
		`INSERT INTO "app"."users" ("id", "email") VALUES ($1, $2) RETURNING `+visibleCols)
	c.Assert(stmt.Args, qt.DeepEquals, []any{"u1", "a@b.co"})
}

func TestInsert_EmptyBody(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	_, err := sqlbuilder.Insert(e, "", map[string]any{})
	var badReq *apperr.BadRequestError
	c.Assert(errors.As(err, &badReq), qt.IsTrue)
}

func TestUpdate(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.Update(e, "", "u1", map[string]any{"email": "new@b.co"})
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals,
		`UPDATE "app"."users" SET "email" = $1, "updated_at" = now() WHERE "id" = $2 RETURNING `+visibleCols)
	c.Assert(stmt.Args, qt.DeepEquals, []any{"new@b.co", "u1"})
}

func TestUpdate_IgnoresPrimaryKeyInBody(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.Update(e, "", "u1", map[string]any{"id": "other", "email": "x@b.co"})
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals,
		`UPDATE "app"."users" SET "email" = $1, "updated_at" = now() WHERE "id" = $2 RETURNING `+visibleCols)
}

func TestDelete(t *testing.T) {
	c := qt.New(t)
	e := usersEntity(c)

	stmt, err := sqlbuilder.Delete(e, "tenant_b", "u1")
	c.Assert(err, qt.IsNil)
	c.Assert(stmt.SQL, qt.Equals, `DELETE FROM "tenant_b"."users" WHERE "id" = $1`)
	c.Assert(stmt.Args, qt.DeepEquals, []any{"u1"})
}

func TestQuoteIdent(t *testing.T) {
	c := qt.New(t)

	q, err := sqlbuilder.QuoteIdent("users")
	c.Assert(err, qt.IsNil)
	c.Assert(q, qt.Equals, `"users"`)

	_, err = sqlbuilder.QuoteIdent(`users"; DROP TABLE users; --`)
	var unsafe *apperr.UnsafeIdentifierError
	c.Assert(errors.As(err, &unsafe), qt.IsTrue)

	_, err = sqlbuilder.QuoteIdent("1starts_with_digit")
	c.Assert(errors.As(err, &unsafe), qt.IsTrue)
}
