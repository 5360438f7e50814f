// Package dbschema reads the live shape of a PostgreSQL schema: tables,
// columns, enums and indexes. The admin surface exposes it so operators can
// verify what the DDL generator actually materialized for a package or a
// tenant schema.
package dbschema

import (
	"context"
	"fmt"

	"github.com/stokaro/architect/executor"
)

// DBColumn is one column as reported by information_schema.
type DBColumn struct {
	Name       string  `json:"name"`
	DataType   string  `json:"dataType"`
	UDTName    string  `json:"udtName"`
	IsNullable bool    `json:"isNullable"`
	Default    *string `json:"default,omitempty"`
}

// DBTable is one table with its columns.
type DBTable struct {
	Name    string     `json:"name"`
	Columns []DBColumn `json:"columns"`
}

// DBEnum is one enum type with its labels in sort order.
type DBEnum struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// DBIndex is one index definition.
type DBIndex struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	IsUnique   bool   `json:"isUnique"`
	Definition string `json:"definition"`
}

// DBSchema is the full snapshot of one namespace.
type DBSchema struct {
	Schema  string    `json:"schema"`
	Tables  []DBTable `json:"tables"`
	Enums   []DBEnum  `json:"enums"`
	Indexes []DBIndex `json:"indexes"`
}

// Reader reads schema snapshots through an executor.
type Reader struct {
	exec executor.Executor
}

// NewReader creates a reader over an executor.
func NewReader(exec executor.Executor) *Reader {
	return &Reader{exec: exec}
}

// ReadSchema reads the complete snapshot of one namespace.
func (r *Reader) ReadSchema(ctx context.Context, schema string) (*DBSchema, error) {
	out := &DBSchema{Schema: schema}

	tables, err := r.readTables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	out.Tables = tables

	enums, err := r.readEnums(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read enums: %w", err)
	}
	out.Enums = enums

	indexes, err := r.readIndexes(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	out.Indexes = indexes

	return out, nil
}

func (r *Reader) readTables(ctx context.Context, schema string) ([]DBTable, error) {
	const tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := r.exec.Query(ctx, tablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var tables []DBTable
	for rows.Next() {
		var t DBTable
		if err := rows.Scan(&t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		columns, err := r.readColumns(ctx, schema, tables[i].Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns for table %s: %w", tables[i].Name, err)
		}
		tables[i].Columns = columns
	}
	return tables, nil
}

func (r *Reader) readColumns(ctx context.Context, schema, table string) ([]DBColumn, error) {
	const columnsQuery = `
		SELECT column_name, data_type, udt_name, is_nullable = 'YES', column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := r.exec.Query(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var columns []DBColumn
	for rows.Next() {
		var col DBColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.UDTName, &col.IsNullable, &col.Default); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (r *Reader) readEnums(ctx context.Context, schema string) ([]DBEnum, error) {
	const enumsQuery = `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder`

	rows, err := r.exec.Query(ctx, enumsQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query enums: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var enums []DBEnum
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return nil, fmt.Errorf("failed to scan enum label: %w", err)
		}
		if len(enums) == 0 || enums[len(enums)-1].Name != name {
			enums = append(enums, DBEnum{Name: name})
		}
		enums[len(enums)-1].Values = append(enums[len(enums)-1].Values, label)
	}
	return enums, rows.Err()
}

func (r *Reader) readIndexes(ctx context.Context, schema string) ([]DBIndex, error) {
	const indexesQuery = `
		SELECT i.indexname, i.tablename, idx.indisunique, i.indexdef
		FROM pg_indexes i
		JOIN pg_class c ON c.relname = i.indexname
		JOIN pg_index idx ON idx.indexrelid = c.oid
		WHERE i.schemaname = $1
		ORDER BY i.indexname`

	rows, err := r.exec.Query(ctx, indexesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var indexes []DBIndex
	for rows.Next() {
		var idx DBIndex
		if err := rows.Scan(&idx.Name, &idx.Table, &idx.IsUnique, &idx.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
