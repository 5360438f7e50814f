// Package ast defines the SQL DDL AST nodes the migration planner emits.
//
// All nodes implement the visitor pattern: a renderer traverses the node
// list and produces executable SQL. Nodes carry schema-qualified object
// references because the planner may substitute a tenant's schema for the
// package default; the renderer never rewrites names.
package ast

// Node represents any DDL AST node that can be visited by a Visitor.
type Node interface {
	// Accept implements the visitor pattern for rendering
	Accept(visitor Visitor) error
}

// Visitor renders AST nodes into dialect SQL.
type Visitor interface {
	VisitCreateSchema(node *CreateSchemaNode) error
	VisitCreateEnum(node *CreateEnumNode) error
	VisitCreateTable(node *CreateTableNode) error
	VisitIndex(node *IndexNode) error
	VisitAddForeignKey(node *AddForeignKeyNode) error
	VisitEnableRLS(node *EnableRLSNode) error
	VisitCreatePolicy(node *CreatePolicyNode) error
	VisitComment(node *CommentNode) error
}

// CreateSchemaNode represents CREATE SCHEMA IF NOT EXISTS.
type CreateSchemaNode struct {
	Name    string
	Comment string
}

// NewCreateSchema creates a new CREATE SCHEMA node.
func NewCreateSchema(name string) *CreateSchemaNode {
	return &CreateSchemaNode{Name: name}
}

// Accept implements the Node interface.
func (n *CreateSchemaNode) Accept(visitor Visitor) error {
	return visitor.VisitCreateSchema(n)
}

// CreateEnumNode represents CREATE TYPE ... AS ENUM. Value order is
// significant and preserved verbatim.
type CreateEnumNode struct {
	Schema  string
	Name    string
	Values  []string
	Comment string
}

// NewCreateEnum creates a new enum type node.
func NewCreateEnum(schema, name string, values ...string) *CreateEnumNode {
	return &CreateEnumNode{Schema: schema, Name: name, Values: values}
}

// Accept implements the Node interface.
func (n *CreateEnumNode) Accept(visitor Visitor) error {
	return visitor.VisitCreateEnum(n)
}

// ColumnNode is one column definition inside CREATE TABLE.
type ColumnNode struct {
	Name            string
	Type            string // rendered verbatim; enum types arrive pre-qualified
	NotNull         bool
	Default         string // literal, rendered as a quoted value
	DefaultExpr     string // raw expression, rendered verbatim
	GeneratedExpr   string
	GeneratedStored bool
	Comment         string
}

// NewColumn creates a new column node with the given name and type.
func NewColumn(name, dataType string) *ColumnNode {
	return &ColumnNode{Name: name, Type: dataType}
}

// SetNotNull marks the column NOT NULL.
func (n *ColumnNode) SetNotNull() *ColumnNode {
	n.NotNull = true
	return n
}

// SetDefault sets a literal default value.
func (n *ColumnNode) SetDefault(value string) *ColumnNode {
	n.Default = value
	return n
}

// SetDefaultExpression sets a raw default expression such as now().
func (n *ColumnNode) SetDefaultExpression(expr string) *ColumnNode {
	n.DefaultExpr = expr
	return n
}

// SetGenerated marks the column as generated from an expression.
func (n *ColumnNode) SetGenerated(expr string, stored bool) *ColumnNode {
	n.GeneratedExpr = expr
	n.GeneratedStored = stored
	return n
}

// CheckConstraint is a named CHECK inside CREATE TABLE.
type CheckConstraint struct {
	Name       string
	Expression string
}

// CreateTableNode represents CREATE TABLE IF NOT EXISTS with columns,
// primary key, unique sets and check constraints.
type CreateTableNode struct {
	Schema     string
	Name       string
	Columns    []*ColumnNode
	PrimaryKey []string
	Unique     [][]string
	Checks     []CheckConstraint
	Comment    string
}

// NewCreateTable creates a new CREATE TABLE node.
func NewCreateTable(schema, name string) *CreateTableNode {
	return &CreateTableNode{Schema: schema, Name: name}
}

// AddColumn appends a column definition.
func (n *CreateTableNode) AddColumn(column *ColumnNode) *CreateTableNode {
	n.Columns = append(n.Columns, column)
	return n
}

// SetPrimaryKey sets the primary key column list.
func (n *CreateTableNode) SetPrimaryKey(columns ...string) *CreateTableNode {
	n.PrimaryKey = columns
	return n
}

// AddUnique appends a unique column set.
func (n *CreateTableNode) AddUnique(columns ...string) *CreateTableNode {
	n.Unique = append(n.Unique, columns)
	return n
}

// AddCheck appends a named check constraint.
func (n *CreateTableNode) AddCheck(name, expression string) *CreateTableNode {
	n.Checks = append(n.Checks, CheckConstraint{Name: name, Expression: expression})
	return n
}

// Accept implements the Node interface.
func (n *CreateTableNode) Accept(visitor Visitor) error {
	return visitor.VisitCreateTable(n)
}

// IndexColumn is one indexed column or expression with optional ordering.
type IndexColumn struct {
	Name       string
	Expression string
	Direction  string // asc | desc | ""
	Nulls      string // first | last | ""
}

// IndexNode represents CREATE [UNIQUE] INDEX IF NOT EXISTS.
type IndexNode struct {
	Schema  string
	Table   string
	Name    string
	Method  string
	Unique  bool
	Columns []IndexColumn
	Include []string
	Where   string
	Comment string
}

// NewIndex creates a new index node on schema.table.
func NewIndex(schema, table, name string) *IndexNode {
	return &IndexNode{Schema: schema, Table: table, Name: name, Method: "btree"}
}

// SetMethod sets the index access method.
func (n *IndexNode) SetMethod(method string) *IndexNode {
	n.Method = method
	return n
}

// SetUnique marks the index unique.
func (n *IndexNode) SetUnique() *IndexNode {
	n.Unique = true
	return n
}

// AddColumn appends an indexed column.
func (n *IndexNode) AddColumn(col IndexColumn) *IndexNode {
	n.Columns = append(n.Columns, col)
	return n
}

// SetInclude sets the INCLUDE column list.
func (n *IndexNode) SetInclude(columns ...string) *IndexNode {
	n.Include = columns
	return n
}

// SetWhere sets the partial index predicate.
func (n *IndexNode) SetWhere(predicate string) *IndexNode {
	n.Where = predicate
	return n
}

// Accept implements the Node interface.
func (n *IndexNode) Accept(visitor Visitor) error {
	return visitor.VisitIndex(n)
}

// AddForeignKeyNode represents ALTER TABLE ... ADD CONSTRAINT ... FOREIGN
// KEY. Foreign keys are emitted only after every table and index exists,
// so the planner orders these last among structural statements.
type AddForeignKeyNode struct {
	Schema         string
	Table          string
	ConstraintName string
	Column         string
	RefSchema      string
	RefTable       string
	RefColumn      string
	OnUpdate       string
	OnDelete       string
}

// NewAddForeignKey creates a new foreign key node.
func NewAddForeignKey(schema, table, name string) *AddForeignKeyNode {
	return &AddForeignKeyNode{Schema: schema, Table: table, ConstraintName: name}
}

// SetColumns sets the local and referenced columns.
func (n *AddForeignKeyNode) SetColumns(column, refSchema, refTable, refColumn string) *AddForeignKeyNode {
	n.Column = column
	n.RefSchema = refSchema
	n.RefTable = refTable
	n.RefColumn = refColumn
	return n
}

// SetActions sets the ON UPDATE / ON DELETE actions.
func (n *AddForeignKeyNode) SetActions(onUpdate, onDelete string) *AddForeignKeyNode {
	n.OnUpdate = onUpdate
	n.OnDelete = onDelete
	return n
}

// Accept implements the Node interface.
func (n *AddForeignKeyNode) Accept(visitor Visitor) error {
	return visitor.VisitAddForeignKey(n)
}

// EnableRLSNode represents ALTER TABLE ... ENABLE ROW LEVEL SECURITY.
type EnableRLSNode struct {
	Schema  string
	Table   string
	Comment string
}

// NewEnableRLS creates a new RLS enablement node.
func NewEnableRLS(schema, table string) *EnableRLSNode {
	return &EnableRLSNode{Schema: schema, Table: table}
}

// Accept implements the Node interface.
func (n *EnableRLSNode) Accept(visitor Visitor) error {
	return visitor.VisitEnableRLS(n)
}

// CreatePolicyNode represents CREATE POLICY with USING and WITH CHECK
// expressions.
type CreatePolicyNode struct {
	Name      string
	Schema    string
	Table     string
	Using     string
	WithCheck string
}

// NewCreatePolicy creates a new policy node.
func NewCreatePolicy(name, schema, table string) *CreatePolicyNode {
	return &CreatePolicyNode{Name: name, Schema: schema, Table: table}
}

// SetUsing sets the USING expression.
func (n *CreatePolicyNode) SetUsing(expr string) *CreatePolicyNode {
	n.Using = expr
	return n
}

// SetWithCheck sets the WITH CHECK expression.
func (n *CreatePolicyNode) SetWithCheck(expr string) *CreatePolicyNode {
	n.WithCheck = expr
	return n
}

// Accept implements the Node interface.
func (n *CreatePolicyNode) Accept(visitor Visitor) error {
	return visitor.VisitCreatePolicy(n)
}

// CommentNode carries a rendered SQL comment line, used for warnings and
// section markers in generated migrations.
type CommentNode struct {
	Text string
}

// NewComment creates a new comment node.
func NewComment(text string) *CommentNode {
	return &CommentNode{Text: text}
}

// Accept implements the Node interface.
func (n *CommentNode) Accept(visitor Visitor) error {
	return visitor.VisitComment(n)
}
