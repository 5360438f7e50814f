// Package resolve validates a decoded package and produces the resolved
// model: the immutable, id-indexed structure every downstream component
// works from. The resolved model is the single source of truth for SQL
// identifiers — the SQL builder and the DDL planner never see raw config.
package resolve

import (
	"github.com/stokaro/architect/core/pkgschema"
)

// SystemColumns are implicitly part of every table. The DDL planner emits
// them and the CRUD service reads them whether or not the config mentions
// them.
var SystemColumns = []Column{
	{Name: "created_at", Type: pkgschema.ColumnType{Name: "timestamptz"}, Nullable: false,
		Default: &pkgschema.DefaultValue{Expression: "now()"}, System: true},
	{Name: "updated_at", Type: pkgschema.ColumnType{Name: "timestamptz"}, Nullable: false,
		Default: &pkgschema.DefaultValue{Expression: "now()"}, System: true},
	{Name: "archived_at", Type: pkgschema.ColumnType{Name: "timestamptz"}, Nullable: true, System: true},
}

// Column is a resolved column: config plus the enum resolution when the type
// refers to an enum.
type Column struct {
	ID         string
	Name       string
	Type       pkgschema.ColumnType
	Nullable   bool
	Default    *pkgschema.DefaultValue
	Generated  *pkgschema.Generated
	Comment    string
	EnumSchema string   // resolved schema name when Type is an enum reference
	EnumName   string   // resolved enum name
	EnumValues []string // allowed labels, order preserved
	System     bool
}

// IsEnum reports whether the column's type resolved to an enum.
func (c *Column) IsEnum() bool { return c.EnumName != "" }

// Include describes one expandable relationship from an entity, keyed by the
// related entity's path segment. For a to-one include the foreign key lives
// on this entity; for a to-many include it lives on the related one.
type Include struct {
	Path          string
	Related       *Entity
	LocalColumn   string // column on this entity holding the join value
	RelatedColumn string // column on the related entity matched against it
	ToMany        bool
}

// Entity is one exposed table with everything a request needs: identifiers,
// columns, keys, api projection and the include graph.
type Entity struct {
	ID          string // table id
	SchemaName  string
	TableName   string
	Columns     []Column // declared order, system columns last
	PrimaryKey  []string
	Unique      [][]string
	Checks      []pkgschema.CheckConstraint
	PathSegment string
	Operations  map[pkgschema.Operation]bool
	Sensitive   map[string]bool
	Rules       map[string]pkgschema.ColumnRule
	Includes    map[string]*Include

	columnByName map[string]*Column
	camelToSnake map[string]string
}

// Column returns the named column, nil when unknown.
func (e *Entity) Column(name string) *Column {
	return e.columnByName[name]
}

// SnakeName maps an incoming camelCase (or already snake_case) key to the
// column's snake_case name. ok is false when no column matches.
func (e *Entity) SnakeName(key string) (string, bool) {
	if _, direct := e.columnByName[key]; direct {
		return key, true
	}
	snake, ok := e.camelToSnake[key]
	return snake, ok
}

// ColumnNames returns the full ordered column name list.
func (e *Entity) ColumnNames() []string {
	out := make([]string, len(e.Columns))
	for i := range e.Columns {
		out[i] = e.Columns[i].Name
	}
	return out
}

// VisibleColumns returns the ordered column names minus sensitive ones —
// the outgoing projection.
func (e *Entity) VisibleColumns() []string {
	out := make([]string, 0, len(e.Columns))
	for i := range e.Columns {
		if e.Sensitive[e.Columns[i].Name] {
			continue
		}
		out = append(out, e.Columns[i].Name)
	}
	return out
}

// Supports reports whether the entity exposes the operation.
func (e *Entity) Supports(op pkgschema.Operation) bool {
	return e.Operations[op]
}

// SinglePK returns the primary key column for single-column keys. Composite
// keys are resolved but not addressable by the /:id routes.
func (e *Entity) SinglePK() (string, bool) {
	if len(e.PrimaryKey) != 1 {
		return "", false
	}
	return e.PrimaryKey[0], true
}

// TableKey addresses an entity by qualified table name.
type TableKey struct {
	Schema string
	Table  string
}

// Model is the resolved form of one package. It is immutable after Resolve
// returns; concurrent readers share it freely.
type Model struct {
	PackageID string
	Manifest  pkgschema.Manifest

	Schemas       map[string]pkgschema.Schema
	Enums         map[string]pkgschema.Enum
	Tables        map[string]pkgschema.Table
	Columns       map[string]pkgschema.Column
	Indexes       map[string]pkgschema.Index
	Relationships map[string]pkgschema.Relationship

	// Declared-order views, used by the DDL planner so generated statements
	// are deterministic and follow config order.
	SchemaList       []pkgschema.Schema
	EnumList         []pkgschema.Enum
	TableList        []pkgschema.Table
	IndexList        []pkgschema.Index
	RelationshipList []pkgschema.Relationship
	TableColumns     map[string][]pkgschema.Column // table id -> columns, declared order

	Entities []*Entity

	byPath    map[string]*Entity
	byTable   map[TableKey]*Entity
	byTableID map[string]*Entity
}

// EntityByPath returns the entity serving a path segment, nil when unknown.
func (m *Model) EntityByPath(segment string) *Entity {
	return m.byPath[segment]
}

// EntityByTable returns the entity behind a qualified table name.
func (m *Model) EntityByTable(schema, table string) *Entity {
	return m.byTable[TableKey{Schema: schema, Table: table}]
}

// EntityByTableID returns the entity for a table id.
func (m *Model) EntityByTableID(id string) *Entity {
	return m.byTableID[id]
}

// SchemaName resolves a schema id to its PostgreSQL name.
func (m *Model) SchemaName(id string) (string, bool) {
	s, ok := m.Schemas[id]
	if !ok {
		return "", false
	}
	return s.Name, true
}
