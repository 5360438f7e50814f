// Package pkgschema defines the declarative configuration records that
// describe a database package: schemas, enums, tables, columns, indexes,
// relationships and the api-entities exposed over HTTP.
//
// Records arrive as JSON — from a package directory, a zip archive, the
// system tables or an in-memory value — and several fields accept more than
// one JSON shape (a table's primary key may be a string or a list; a column
// type may be a bare name or an object with parameters). The flexible shapes
// are normalized at decode time so that downstream code only ever sees the
// canonical form.
package pkgschema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a config record family. The order of AllKinds is the forced
// load order: referenced kinds always load before their referrers.
type Kind string

const (
	KindSchemas       Kind = "schemas"
	KindEnums         Kind = "enums"
	KindTables        Kind = "tables"
	KindColumns       Kind = "columns"
	KindIndexes       Kind = "indexes"
	KindRelationships Kind = "relationships"
	KindAPIEntities   Kind = "api_entities"
)

// AllKinds lists every config kind in dependency order.
var AllKinds = []Kind{
	KindSchemas,
	KindEnums,
	KindTables,
	KindColumns,
	KindIndexes,
	KindRelationships,
	KindAPIEntities,
}

// Manifest identifies a package and the PostgreSQL namespace its objects
// default to.
type Manifest struct {
	ID          string `json:"id" validate:"required"`
	Schema      string `json:"schema" validate:"required"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema declares a PostgreSQL namespace.
type Schema struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Comment string `json:"comment,omitempty"`
}

// Enum declares a PostgreSQL enum type. Value order is significant.
type Enum struct {
	ID       string   `json:"id" validate:"required"`
	SchemaID string   `json:"schema_id,omitempty"`
	Name     string   `json:"name" validate:"required"`
	Values   []string `json:"values" validate:"required,min=1"`
	Comment  string   `json:"comment,omitempty"`
}

// CheckConstraint is a named CHECK expression on a table.
type CheckConstraint struct {
	Name       string `json:"name" validate:"required"`
	Expression string `json:"expression" validate:"required"`
}

// Table declares a table. PrimaryKey accepts either a single column name or
// a list of names in JSON.
type Table struct {
	ID         string            `json:"id" validate:"required"`
	SchemaID   string            `json:"schema_id,omitempty"`
	Name       string            `json:"name" validate:"required"`
	Comment    string            `json:"comment,omitempty"`
	PrimaryKey StringList        `json:"primary_key" validate:"required"`
	Unique     [][]string        `json:"unique,omitempty"`
	Check      []CheckConstraint `json:"check,omitempty"`
}

// Column declares a column on a table. Nullable defaults to true when the
// JSON omits it.
type Column struct {
	ID        string        `json:"id" validate:"required"`
	TableID   string        `json:"table_id" validate:"required"`
	Name      string        `json:"name" validate:"required"`
	Type      ColumnType    `json:"type" validate:"required"`
	Nullable  *bool         `json:"nullable,omitempty"`
	Default   *DefaultValue `json:"default,omitempty"`
	Generated *Generated    `json:"generated,omitempty"`
	Comment   string        `json:"comment,omitempty"`
}

// IsNullable applies the default: a column is nullable unless declared
// otherwise.
func (c *Column) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// Generated declares a generated column.
type Generated struct {
	Expression string `json:"expression" validate:"required"`
	Stored     bool   `json:"stored,omitempty"`
}

// Index declares an index. Method defaults to btree.
type Index struct {
	ID       string        `json:"id" validate:"required"`
	SchemaID string        `json:"schema_id,omitempty"`
	TableID  string        `json:"table_id" validate:"required"`
	Name     string        `json:"name" validate:"required"`
	Method   string        `json:"method,omitempty"`
	Unique   bool          `json:"unique,omitempty"`
	Columns  []IndexColumn `json:"columns" validate:"required,min=1"`
	Include  []string      `json:"include,omitempty"`
	Where    string        `json:"where,omitempty"`
	Comment  string        `json:"comment,omitempty"`
}

// IndexMethods enumerates the access methods the engine accepts.
var IndexMethods = map[string]bool{
	"btree":  true,
	"hash":   true,
	"gin":    true,
	"gist":   true,
	"brin":   true,
	"spgist": true,
}

// EffectiveMethod applies the btree default.
func (i *Index) EffectiveMethod() string {
	if i.Method == "" {
		return "btree"
	}
	return i.Method
}

// Relationship declares a foreign key between two columns.
type Relationship struct {
	ID           string `json:"id" validate:"required"`
	FromSchemaID string `json:"from_schema_id,omitempty"`
	FromTableID  string `json:"from_table_id" validate:"required"`
	FromColumnID string `json:"from_column_id" validate:"required"`
	ToSchemaID   string `json:"to_schema_id,omitempty"`
	ToTableID    string `json:"to_table_id" validate:"required"`
	ToColumnID   string `json:"to_column_id" validate:"required"`
	OnUpdate     string `json:"on_update,omitempty"`
	OnDelete     string `json:"on_delete,omitempty"`
	Name         string `json:"name,omitempty"`
}

// ReferentialActions enumerates the accepted ON UPDATE / ON DELETE actions.
var ReferentialActions = map[string]bool{
	"NO ACTION":   true,
	"RESTRICT":    true,
	"CASCADE":     true,
	"SET NULL":    true,
	"SET DEFAULT": true,
}

// EffectiveAction normalizes an action, applying the NO ACTION default.
func EffectiveAction(a string) string {
	if a == "" {
		return "NO ACTION"
	}
	return strings.ToUpper(a)
}

// Operation names a CRUD operation an api-entity may expose.
type Operation string

const (
	OpList       Operation = "list"
	OpRead       Operation = "read"
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpBulkCreate Operation = "bulk_create"
	OpBulkUpdate Operation = "bulk_update"
)

// KnownOperations is the closed set of operations.
var KnownOperations = map[Operation]bool{
	OpList: true, OpRead: true, OpCreate: true, OpUpdate: true,
	OpDelete: true, OpBulkCreate: true, OpBulkUpdate: true,
}

// ColumnRule is the per-column validation block of an api-entity.
type ColumnRule struct {
	Required  bool     `json:"required,omitempty"`
	Type      string   `json:"type,omitempty"`
	Format    string   `json:"format,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
}

// ValidationRules carries the validation blocks keyed by column name.
type ValidationRules struct {
	Columns map[string]ColumnRule `json:"columns,omitempty"`
}

// APIEntity exposes a table as an HTTP resource.
type APIEntity struct {
	EntityID         string          `json:"entity_id" validate:"required"`
	PathSegment      string          `json:"path_segment" validate:"required"`
	Operations       []Operation     `json:"operations" validate:"required,min=1"`
	SensitiveColumns []string        `json:"sensitive_columns,omitempty"`
	Validation       ValidationRules `json:"validation,omitempty"`
}

// Package is a manifest plus the full record set, the unit of install.
type Package struct {
	Manifest      Manifest
	Schemas       []Schema
	Enums         []Enum
	Tables        []Table
	Columns       []Column
	Indexes       []Index
	Relationships []Relationship
	APIEntities   []APIEntity
}

// StringList decodes from either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements the dual shape.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*s = StringList(many)
	return nil
}

// MarshalJSON keeps the canonical array form.
func (s StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(s))
}

// ColumnType is a built-in type name with optional parameters, or a
// schema-qualified enum reference such as "crm.order_status". JSON shapes:
// "text", "numeric(10,2)", or {"name":"numeric","params":[10,2]}.
type ColumnType struct {
	Name   string
	Params []string
}

// UnmarshalJSON implements the dual shape.
func (t *ColumnType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		name, params := splitTypeParams(raw)
		t.Name = name
		t.Params = params
		return nil
	}
	var obj struct {
		Name   string            `json:"name"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("expected type name or {name, params}: %w", err)
	}
	if obj.Name == "" {
		return fmt.Errorf("type object requires a name")
	}
	t.Name = obj.Name
	for _, p := range obj.Params {
		t.Params = append(t.Params, strings.Trim(string(p), `"`))
	}
	return nil
}

// MarshalJSON emits the canonical string form.
func (t ColumnType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// String renders the type as it appears in DDL, parameters included.
func (t ColumnType) String() string {
	if len(t.Params) == 0 {
		return t.Name
	}
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(t.Params, ","))
}

// EnumRef splits a schema-qualified enum reference. ok is false for
// built-in types.
func (t ColumnType) EnumRef() (schema, enum string, ok bool) {
	if len(t.Params) != 0 {
		return "", "", false
	}
	parts := strings.SplitN(t.Name, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func splitTypeParams(raw string) (string, []string) {
	open := strings.IndexByte(raw, '(')
	if open < 0 || !strings.HasSuffix(raw, ")") {
		return raw, nil
	}
	name := strings.TrimSpace(raw[:open])
	inner := raw[open+1 : len(raw)-1]
	if inner == "" {
		return name, nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return name, parts
}

// DefaultValue is either a literal (rendered as a quoted value) or a raw
// SQL expression. JSON shapes: "draft" or {"expression":"gen_random_uuid()"}.
type DefaultValue struct {
	Literal    string
	Expression string
}

// UnmarshalJSON implements the dual shape.
func (d *DefaultValue) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err == nil {
		d.Literal = lit
		return nil
	}
	var obj struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("expected literal string or {expression}: %w", err)
	}
	if obj.Expression == "" {
		return fmt.Errorf("default object requires an expression")
	}
	d.Expression = obj.Expression
	return nil
}

// MarshalJSON preserves whichever form was set.
func (d DefaultValue) MarshalJSON() ([]byte, error) {
	if d.Expression != "" {
		return json.Marshal(map[string]string{"expression": d.Expression})
	}
	return json.Marshal(d.Literal)
}

// IndexColumn is one entry of an index column list: a plain column, a column
// with direction/null ordering, or a raw expression.
type IndexColumn struct {
	Name       string
	Direction  string
	Nulls      string
	Expression string
}

// UnmarshalJSON accepts "col", {"name":..,"direction":..,"nulls":..} or
// {"expression":..}.
func (ic *IndexColumn) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		ic.Name = name
		return nil
	}
	var obj struct {
		Name       string `json:"name"`
		Direction  string `json:"direction"`
		Nulls      string `json:"nulls"`
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("expected column name, column object or {expression}: %w", err)
	}
	if obj.Name == "" && obj.Expression == "" {
		return fmt.Errorf("index column requires a name or an expression")
	}
	if obj.Name != "" && obj.Expression != "" {
		return fmt.Errorf("index column takes a name or an expression, not both")
	}
	ic.Name = obj.Name
	ic.Direction = strings.ToLower(obj.Direction)
	ic.Nulls = strings.ToLower(obj.Nulls)
	ic.Expression = obj.Expression
	return nil
}

// MarshalJSON emits the most compact faithful form.
func (ic IndexColumn) MarshalJSON() ([]byte, error) {
	if ic.Expression != "" {
		return json.Marshal(map[string]string{"expression": ic.Expression})
	}
	if ic.Direction == "" && ic.Nulls == "" {
		return json.Marshal(ic.Name)
	}
	obj := map[string]string{"name": ic.Name}
	if ic.Direction != "" {
		obj["direction"] = ic.Direction
	}
	if ic.Nulls != "" {
		obj["nulls"] = ic.Nulls
	}
	return json.Marshal(obj)
}
