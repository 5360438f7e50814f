package planner_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/go-extras/go-kit/ptr"

	"github.com/stokaro/architect/core/ast"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/migration/planner"
)

// shopModel resolves a package with an enum, two related tables (one
// tenant-scoped) and an index.
func shopModel(c *qt.C) *resolve.Model {
	pkg := &pkgschema.Package{
		Manifest: pkgschema.Manifest{ID: "shop", Schema: "shop"},
		Schemas:  []pkgschema.Schema{{ID: "default", Name: "shop"}},
		Enums: []pkgschema.Enum{
			{ID: "order_status", SchemaID: "default", Name: "order_status", Values: []string{"new", "shipped"}},
		},
		Tables: []pkgschema.Table{
			{ID: "users", SchemaID: "default", Name: "users", PrimaryKey: pkgschema.StringList{"id"}},
			{ID: "orders", SchemaID: "default", Name: "orders", PrimaryKey: pkgschema.StringList{"id"}},
		},
		Columns: []pkgschema.Column{
			{ID: "users.id", TableID: "users", Name: "id", Type: pkgschema.ColumnType{Name: "uuid"}, Nullable: ptr.To(false)},
			{ID: "orders.id", TableID: "orders", Name: "id", Type: pkgschema.ColumnType{Name: "uuid"}, Nullable: ptr.To(false)},
			{ID: "orders.user_id", TableID: "orders", Name: "user_id", Type: pkgschema.ColumnType{Name: "uuid"}, Nullable: ptr.To(false)},
			{ID: "orders.status", TableID: "orders", Name: "status", Type: pkgschema.ColumnType{Name: "shop.order_status"}, Nullable: ptr.To(false),
				Default: &pkgschema.DefaultValue{Literal: "new"}},
			{ID: "orders.tenant_id", TableID: "orders", Name: "tenant_id", Type: pkgschema.ColumnType{Name: "text"}},
		},
		Indexes: []pkgschema.Index{
			{ID: "i1", SchemaID: "default", TableID: "orders", Name: "idx_orders_user_id", Columns: []pkgschema.IndexColumn{{Name: "user_id"}}},
		},
		Relationships: []pkgschema.Relationship{
			{ID: "orders_user", FromSchemaID: "default", FromTableID: "orders", FromColumnID: "orders.user_id",
				ToSchemaID: "default", ToTableID: "users", ToColumnID: "users.id", OnDelete: "CASCADE"},
		},
		APIEntities: []pkgschema.APIEntity{
			{EntityID: "orders", PathSegment: "orders", Operations: []pkgschema.Operation{pkgschema.OpList}},
		},
	}
	m, err := resolve.Resolve(pkg)
	c.Assert(err, qt.IsNil)
	return m
}

// nodeKinds maps a plan to coarse statement kinds in order.
func nodeKinds(nodes []ast.Node) []string {
	var out []string
	for _, n := range nodes {
		switch n.(type) {
		case *ast.CommentNode:
			out = append(out, "comment")
		case *ast.CreateSchemaNode:
			out = append(out, "schema")
		case *ast.CreateEnumNode:
			out = append(out, "enum")
		case *ast.CreateTableNode:
			out = append(out, "table")
		case *ast.IndexNode:
			out = append(out, "index")
		case *ast.AddForeignKeyNode:
			out = append(out, "fk")
		case *ast.EnableRLSNode:
			out = append(out, "rls")
		case *ast.CreatePolicyNode:
			out = append(out, "policy")
		}
	}
	return out
}

func TestPlan_StatementOrder(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{})
	c.Assert(nodeKinds(nodes), qt.DeepEquals,
		[]string{"comment", "schema", "enum", "table", "table", "index", "fk"})
}

func TestPlan_SystemColumnsAppended(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{})
	var users *ast.CreateTableNode
	for _, n := range nodes {
		if tbl, ok := n.(*ast.CreateTableNode); ok && tbl.Name == "users" {
			users = tbl
		}
	}
	c.Assert(users, qt.IsNotNil)

	names := make([]string, len(users.Columns))
	for i, col := range users.Columns {
		names[i] = col.Name
	}
	c.Assert(names, qt.DeepEquals, []string{"id", "created_at", "updated_at", "archived_at"})

	byName := map[string]*ast.ColumnNode{}
	for _, col := range users.Columns {
		byName[col.Name] = col
	}
	c.Assert(byName["created_at"].Type, qt.Equals, "timestamptz")
	c.Assert(byName["created_at"].NotNull, qt.IsTrue)
	c.Assert(byName["created_at"].DefaultExpr, qt.Equals, "now()")
	c.Assert(byName["updated_at"].DefaultExpr, qt.Equals, "now()")
	c.Assert(byName["archived_at"].NotNull, qt.IsFalse)
}

func TestPlan_EnumColumnQualified(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{})
	for _, n := range nodes {
		if tbl, ok := n.(*ast.CreateTableNode); ok && tbl.Name == "orders" {
			for _, col := range tbl.Columns {
				if col.Name == "status" {
					c.Assert(col.Type, qt.Equals, `"shop"."order_status"`)
					c.Assert(col.Default, qt.Equals, "new")
					return
				}
			}
		}
	}
	c.Fatal("orders.status column not planned")
}

func TestPlan_SchemaOverride(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{SchemaOverride: "tenant_a"})

	var schemas []string
	for _, n := range nodes {
		switch node := n.(type) {
		case *ast.CreateSchemaNode:
			schemas = append(schemas, node.Name)
		case *ast.CreateTableNode:
			c.Assert(node.Schema, qt.Equals, "tenant_a")
		case *ast.IndexNode:
			c.Assert(node.Schema, qt.Equals, "tenant_a")
		case *ast.AddForeignKeyNode:
			c.Assert(node.Schema, qt.Equals, "tenant_a")
			c.Assert(node.RefSchema, qt.Equals, "tenant_a")
		case *ast.CreateEnumNode:
			// Enum types keep their declared namespace under an override.
			c.Assert(node.Schema, qt.Equals, "shop")
		}
	}
	c.Assert(schemas, qt.DeepEquals, []string{"shop", "tenant_a"})
}

func TestPlan_RLS(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{EnableRLS: true})
	kinds := nodeKinds(nodes)
	c.Assert(kinds, qt.DeepEquals,
		[]string{"comment", "schema", "enum", "table", "table", "index", "fk", "rls", "policy"})

	for _, n := range nodes {
		if policy, ok := n.(*ast.CreatePolicyNode); ok {
			// Only the tenant-scoped table gets a policy.
			c.Assert(policy.Table, qt.Equals, "orders")
			c.Assert(policy.Using, qt.Equals, "current_setting('app.tenant_id', true)::text = tenant_id")
			c.Assert(policy.WithCheck, qt.Equals, policy.Using)
		}
	}
}

func TestPlan_ForeignKeyDefaults(t *testing.T) {
	c := qt.New(t)

	nodes := planner.New().Plan(shopModel(c), planner.Options{})
	for _, n := range nodes {
		if fk, ok := n.(*ast.AddForeignKeyNode); ok {
			c.Assert(fk.ConstraintName, qt.Equals, "fk_orders_user_id")
			c.Assert(fk.OnUpdate, qt.Equals, "NO ACTION")
			c.Assert(fk.OnDelete, qt.Equals, "CASCADE")
			return
		}
	}
	c.Fatal("foreign key not planned")
}
