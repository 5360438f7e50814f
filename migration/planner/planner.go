// Package planner converts a resolved package model into a dependency-
// ordered DDL statement plan.
//
// # Statement order
//
// The plan is generated in a fixed order so that every object exists before
// anything references it:
//  1. CREATE SCHEMA for every referenced namespace
//  2. CREATE TYPE ... AS ENUM for each enum
//  3. CREATE TABLE for each table (columns, PK, UNIQUE, CHECK, system columns)
//  4. CREATE INDEX for each index
//  5. ALTER TABLE ... ADD CONSTRAINT ... FOREIGN KEY for each relationship
//  6. RLS enablement and policies for tenant-scoped tables, when requested
//
// # Schema override
//
// Provisioning a schema-strategy tenant passes a schema override that
// replaces the namespace of every application object: tables, indexes and
// both sides of foreign keys. Enum types keep their declared namespace —
// they carry no rows, so tenants share them. The architect schema is never
// part of a plan and therefore never overridden.
//
// # Thread safety
//
// The Planner is stateless and safe for concurrent use.
package planner

import (
	"fmt"

	"github.com/stokaro/architect/core/ast"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/resolve"
)

// TenantColumn is the column RLS policies pin to. Tables carrying it are
// considered tenant-scoped.
const TenantColumn = "tenant_id"

// Options controls plan generation.
type Options struct {
	// SchemaOverride replaces the namespace of every application object.
	SchemaOverride string
	// EnableRLS emits ENABLE ROW LEVEL SECURITY plus policies for every
	// tenant-scoped table.
	EnableRLS bool
}

// Planner builds DDL plans from resolved models.
type Planner struct {
}

// New creates a new Planner.
func New() *Planner {
	return &Planner{}
}

// Plan generates the full DDL node list for a resolved model.
func (p *Planner) Plan(m *resolve.Model, opts Options) []ast.Node {
	var result []ast.Node

	result = append(result, ast.NewComment(fmt.Sprintf("package %s", m.PackageID)))
	result = p.addSchemas(result, m, opts)
	result = p.addEnums(result, m)
	result = p.addTables(result, m, opts)
	result = p.addIndexes(result, m, opts)
	result = p.addForeignKeys(result, m, opts)
	if opts.EnableRLS {
		result = p.addRLS(result, m, opts)
	}
	return result
}

func (p *Planner) addSchemas(result []ast.Node, m *resolve.Model, opts Options) []ast.Node {
	seen := map[string]bool{}
	for _, s := range m.SchemaList {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		result = append(result, ast.NewCreateSchema(s.Name))
	}
	if opts.SchemaOverride != "" && !seen[opts.SchemaOverride] {
		result = append(result, ast.NewCreateSchema(opts.SchemaOverride))
	}
	return result
}

func (p *Planner) addEnums(result []ast.Node, m *resolve.Model) []ast.Node {
	for _, e := range m.EnumList {
		schemaName, _ := m.SchemaName(e.SchemaID)
		result = append(result, ast.NewCreateEnum(schemaName, e.Name, e.Values...))
	}
	return result
}

func (p *Planner) addTables(result []ast.Node, m *resolve.Model, opts Options) []ast.Node {
	for _, t := range m.TableList {
		schemaName := p.schemaFor(m, t.SchemaID, opts)

		node := ast.NewCreateTable(schemaName, t.Name)
		declared := map[string]bool{}
		for _, c := range m.TableColumns[t.ID] {
			node.AddColumn(columnNode(m, c))
			declared[c.Name] = true
		}
		for _, sc := range resolve.SystemColumns {
			if declared[sc.Name] {
				continue
			}
			col := ast.NewColumn(sc.Name, sc.Type.String())
			if !sc.Nullable {
				col.SetNotNull()
			}
			if sc.Default != nil {
				col.SetDefaultExpression(sc.Default.Expression)
			}
			node.AddColumn(col)
		}

		node.SetPrimaryKey([]string(t.PrimaryKey)...)
		for _, set := range t.Unique {
			node.AddUnique(set...)
		}
		for _, check := range t.Check {
			node.AddCheck(check.Name, check.Expression)
		}
		result = append(result, node)
	}
	return result
}

func columnNode(m *resolve.Model, c pkgschema.Column) *ast.ColumnNode {
	node := ast.NewColumn(c.Name, columnTypeSQL(c.Type))
	if !c.IsNullable() {
		node.SetNotNull()
	}
	if c.Default != nil {
		if c.Default.Expression != "" {
			node.SetDefaultExpression(c.Default.Expression)
		} else {
			node.SetDefault(c.Default.Literal)
		}
	}
	if c.Generated != nil {
		node.SetGenerated(c.Generated.Expression, c.Generated.Stored)
	}
	return node
}

// columnTypeSQL renders a column type: enum references become quoted
// qualified type names, built-ins are emitted verbatim with parameters.
func columnTypeSQL(t pkgschema.ColumnType) string {
	if schema, enum, ok := t.EnumRef(); ok {
		return fmt.Sprintf("%q.%q", schema, enum)
	}
	return t.String()
}

func (p *Planner) addIndexes(result []ast.Node, m *resolve.Model, opts Options) []ast.Node {
	for _, idx := range m.IndexList {
		table, ok := m.Tables[idx.TableID]
		if !ok {
			continue
		}
		schemaName := p.schemaFor(m, idx.SchemaID, opts)

		node := ast.NewIndex(schemaName, table.Name, idx.Name).SetMethod(idx.EffectiveMethod())
		if idx.Unique {
			node.SetUnique()
		}
		for _, ic := range idx.Columns {
			node.AddColumn(ast.IndexColumn{
				Name:       ic.Name,
				Expression: ic.Expression,
				Direction:  ic.Direction,
				Nulls:      ic.Nulls,
			})
		}
		if len(idx.Include) > 0 {
			node.SetInclude(idx.Include...)
		}
		if idx.Where != "" {
			node.SetWhere(idx.Where)
		}
		result = append(result, node)
	}
	return result
}

func (p *Planner) addForeignKeys(result []ast.Node, m *resolve.Model, opts Options) []ast.Node {
	for _, r := range m.RelationshipList {
		fromTable := m.Tables[r.FromTableID]
		toTable := m.Tables[r.ToTableID]
		fromCol := m.Columns[r.FromColumnID]
		toCol := m.Columns[r.ToColumnID]

		name := r.Name
		if name == "" {
			name = fmt.Sprintf("fk_%s_%s", fromTable.Name, fromCol.Name)
		}

		node := ast.NewAddForeignKey(p.schemaFor(m, r.FromSchemaID, opts), fromTable.Name, name).
			SetColumns(fromCol.Name, p.schemaFor(m, r.ToSchemaID, opts), toTable.Name, toCol.Name).
			SetActions(pkgschema.EffectiveAction(r.OnUpdate), pkgschema.EffectiveAction(r.OnDelete))
		result = append(result, node)
	}
	return result
}

// addRLS enables row level security and installs tenant policies on every
// table carrying the tenant column. The policy pins rows to the session's
// app.tenant_id setting for both reads (USING) and writes (WITH CHECK).
func (p *Planner) addRLS(result []ast.Node, m *resolve.Model, opts Options) []ast.Node {
	expr := fmt.Sprintf("current_setting('app.tenant_id', true)::text = %s", TenantColumn)
	for _, t := range m.TableList {
		if !p.tenantScoped(m, t.ID) {
			continue
		}
		schemaName := p.schemaFor(m, t.SchemaID, opts)
		result = append(result, ast.NewEnableRLS(schemaName, t.Name))
		result = append(result, ast.NewCreatePolicy(t.Name+"_tenant_isolation", schemaName, t.Name).
			SetUsing(expr).
			SetWithCheck(expr))
	}
	return result
}

func (p *Planner) tenantScoped(m *resolve.Model, tableID string) bool {
	for _, c := range m.TableColumns[tableID] {
		if c.Name == TenantColumn {
			return true
		}
	}
	return false
}

func (p *Planner) schemaFor(m *resolve.Model, schemaID string, opts Options) string {
	if opts.SchemaOverride != "" {
		return opts.SchemaOverride
	}
	name, _ := m.SchemaName(schemaID)
	return name
}
