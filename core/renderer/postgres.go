// Package renderer turns DDL AST nodes into executable PostgreSQL.
//
// The renderer is the only component that serializes identifiers into DDL
// text. Identifiers were validated during resolution; quoting here doubles
// embedded double quotes as defense in depth. Every statement that
// PostgreSQL supports with IF NOT EXISTS is rendered with it, which is what
// makes re-provisioning idempotent. Foreign keys are the exception — those
// are guarded at apply time by the migrator's constraint-name check.
package renderer

import (
	"fmt"
	"strings"

	"github.com/stokaro/architect/core/ast"
)

var _ ast.Visitor = (*Renderer)(nil)

// Renderer provides PostgreSQL-specific SQL rendering of DDL AST nodes.
type Renderer struct {
	out strings.Builder
}

// New creates a new PostgreSQL renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render renders a single AST node to SQL and returns the result.
func (r *Renderer) Render(node ast.Node) (string, error) {
	r.out.Reset()
	if err := node.Accept(r); err != nil {
		return "", err
	}
	return strings.TrimRight(r.out.String(), "\n"), nil
}

// RenderAll renders a node list into one statement string per node.
// Comment nodes render as SQL comments and are kept so that generated
// migration scripts stay readable.
func (r *Renderer) RenderAll(nodes []ast.Node) ([]string, error) {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		sql, err := r.Render(node)
		if err != nil {
			return nil, err
		}
		out = append(out, sql)
	}
	return out, nil
}

// VisitCreateSchema renders CREATE SCHEMA IF NOT EXISTS.
func (r *Renderer) VisitCreateSchema(node *ast.CreateSchemaNode) error {
	fmt.Fprintf(&r.out, "CREATE SCHEMA IF NOT EXISTS %s", quote(node.Name))
	return nil
}

// VisitCreateEnum renders CREATE TYPE ... AS ENUM. PostgreSQL has no
// IF NOT EXISTS for CREATE TYPE, so the statement is wrapped in a DO block
// that swallows duplicate_object.
func (r *Renderer) VisitCreateEnum(node *ast.CreateEnumNode) error {
	labels := make([]string, len(node.Values))
	for i, v := range node.Values {
		labels[i] = quoteLiteral(v)
	}
	fmt.Fprintf(&r.out,
		"DO $$ BEGIN\n    CREATE TYPE %s.%s AS ENUM (%s);\nEXCEPTION WHEN duplicate_object THEN NULL;\nEND $$",
		quote(node.Schema), quote(node.Name), strings.Join(labels, ", "))
	return nil
}

// VisitCreateTable renders CREATE TABLE IF NOT EXISTS with columns, primary
// key, unique sets and named checks.
func (r *Renderer) VisitCreateTable(node *ast.CreateTableNode) error {
	fmt.Fprintf(&r.out, "CREATE TABLE IF NOT EXISTS %s.%s (\n", quote(node.Schema), quote(node.Name))

	var lines []string
	for _, col := range node.Columns {
		lines = append(lines, "    "+renderColumn(col))
	}
	if len(node.PrimaryKey) > 0 {
		lines = append(lines, fmt.Sprintf("    PRIMARY KEY (%s)", quoteList(node.PrimaryKey)))
	}
	for _, set := range node.Unique {
		lines = append(lines, fmt.Sprintf("    UNIQUE (%s)", quoteList(set)))
	}
	for _, check := range node.Checks {
		lines = append(lines, fmt.Sprintf("    CONSTRAINT %s CHECK (%s)", quote(check.Name), check.Expression))
	}

	r.out.WriteString(strings.Join(lines, ",\n"))
	r.out.WriteString("\n)")
	return nil
}

func renderColumn(col *ast.ColumnNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quote(col.Name), col.Type)
	if col.GeneratedExpr != "" {
		fmt.Fprintf(&b, " GENERATED ALWAYS AS (%s)", col.GeneratedExpr)
		if col.GeneratedStored {
			b.WriteString(" STORED")
		}
	}
	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	switch {
	case col.DefaultExpr != "":
		fmt.Fprintf(&b, " DEFAULT %s", col.DefaultExpr)
	case col.Default != "":
		fmt.Fprintf(&b, " DEFAULT %s", quoteLiteral(col.Default))
	}
	return b.String()
}

// VisitIndex renders CREATE [UNIQUE] INDEX IF NOT EXISTS with method,
// ordered columns, INCLUDE list and partial predicate.
func (r *Renderer) VisitIndex(node *ast.IndexNode) error {
	r.out.WriteString("CREATE ")
	if node.Unique {
		r.out.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&r.out, "INDEX IF NOT EXISTS %s ON %s.%s USING %s (%s)",
		quote(node.Name), quote(node.Schema), quote(node.Table), node.Method, renderIndexColumns(node.Columns))
	if len(node.Include) > 0 {
		fmt.Fprintf(&r.out, " INCLUDE (%s)", quoteList(node.Include))
	}
	if node.Where != "" {
		fmt.Fprintf(&r.out, " WHERE %s", node.Where)
	}
	return nil
}

func renderIndexColumns(cols []ast.IndexColumn) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		var b strings.Builder
		if c.Expression != "" {
			fmt.Fprintf(&b, "(%s)", c.Expression)
		} else {
			b.WriteString(quote(c.Name))
		}
		if c.Direction != "" {
			b.WriteString(" " + strings.ToUpper(c.Direction))
		}
		if c.Nulls != "" {
			b.WriteString(" NULLS " + strings.ToUpper(c.Nulls))
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, ", ")
}

// VisitAddForeignKey renders ALTER TABLE ... ADD CONSTRAINT ... FOREIGN KEY.
func (r *Renderer) VisitAddForeignKey(node *ast.AddForeignKeyNode) error {
	fmt.Fprintf(&r.out,
		"ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s (%s) ON UPDATE %s ON DELETE %s",
		quote(node.Schema), quote(node.Table), quote(node.ConstraintName), quote(node.Column),
		quote(node.RefSchema), quote(node.RefTable), quote(node.RefColumn),
		node.OnUpdate, node.OnDelete)
	return nil
}

// VisitEnableRLS renders ALTER TABLE ... ENABLE ROW LEVEL SECURITY.
func (r *Renderer) VisitEnableRLS(node *ast.EnableRLSNode) error {
	fmt.Fprintf(&r.out, "ALTER TABLE %s.%s ENABLE ROW LEVEL SECURITY", quote(node.Schema), quote(node.Table))
	return nil
}

// VisitCreatePolicy renders CREATE POLICY with USING / WITH CHECK. DROP
// POLICY IF EXISTS precedes it so re-provisioning replaces the policy.
func (r *Renderer) VisitCreatePolicy(node *ast.CreatePolicyNode) error {
	fmt.Fprintf(&r.out, "DROP POLICY IF EXISTS %s ON %s.%s;\n",
		quote(node.Name), quote(node.Schema), quote(node.Table))
	fmt.Fprintf(&r.out, "CREATE POLICY %s ON %s.%s", quote(node.Name), quote(node.Schema), quote(node.Table))
	if node.Using != "" {
		fmt.Fprintf(&r.out, " USING (%s)", node.Using)
	}
	if node.WithCheck != "" {
		fmt.Fprintf(&r.out, " WITH CHECK (%s)", node.WithCheck)
	}
	return nil
}

// VisitComment renders a SQL comment line.
func (r *Renderer) VisitComment(node *ast.CommentNode) error {
	fmt.Fprintf(&r.out, "-- %s", node.Text)
	return nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
