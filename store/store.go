// Package store persists package configuration, package registrations and
// tenant entries into the _sys_* tables of the architect schema.
//
// Every config kind shares one layout: (package_id, id, payload JSONB,
// updated_at), primary-keyed on (package_id, id). Writes are replace-by-id
// upserts and always run inside a transaction supplied by the caller, so a
// rejected replace-set never partially updates the tables.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/core/sqlbuilder"
	"github.com/stokaro/architect/executor"
)

// DefaultSchema is the architect schema used when none is configured.
const DefaultSchema = "architect"

// Store reads and writes the system tables. It is stateless apart from the
// schema name and safe for concurrent use.
type Store struct {
	schema string
	logger *slog.Logger
}

// New creates a store for the given architect schema name. The name is
// identifier-validated; an empty name selects DefaultSchema.
func New(schema string) (*Store, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if _, err := sqlbuilder.QuoteIdent(schema); err != nil {
		return nil, fmt.Errorf("invalid architect schema name: %w", err)
	}
	return &Store{schema: schema, logger: slog.Default()}, nil
}

// WithLogger sets the logger for the store.
func (s *Store) WithLogger(l *slog.Logger) *Store {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// Schema returns the architect schema name.
func (s *Store) Schema() string { return s.schema }

func (s *Store) table(name string) string {
	// Both parts passed identifier validation in New; quoting keeps the
	// defense-in-depth guarantee of the builder.
	q, _ := sqlbuilder.QuoteIdent(s.schema)
	t, _ := sqlbuilder.QuoteIdent(name)
	return q + "." + t
}

func (s *Store) kindTable(kind pkgschema.Kind) string {
	return s.table("_sys_" + string(kind))
}

// EnsureSystemTables creates the architect schema and every _sys_* table.
// All statements are idempotent; this runs on the central pool at startup
// and on each tenant pool the first time a database-strategy tenant is
// seen.
func (s *Store) EnsureSystemTables(ctx context.Context, exec executor.Executor) error {
	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", s.schema),
	}
	for _, kind := range pkgschema.AllKinds {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
    package_id TEXT NOT NULL,
    id TEXT NOT NULL,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (package_id, id)
)`, s.kindTable(kind)))
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table("_sys_packages")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table("_sys_tenants")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table("_sys_kv_data")),
	)

	for _, stmt := range stmts {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure system tables: %w", executor.ClassifyError(err))
		}
	}
	return nil
}

// Record is one row of a kind table.
type Record struct {
	ID        string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// UpsertKind replaces records by id within (package_id, kind). The caller
// supplies the executor — pass a transaction to make a replace-set atomic.
func (s *Store) UpsertKind(ctx context.Context, exec executor.Executor, packageID string, kind pkgschema.Kind, records []Record) error {
	sql := fmt.Sprintf(
		`INSERT INTO %s (package_id, id, payload, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (package_id, id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		s.kindTable(kind))
	for _, rec := range records {
		if _, err := exec.Exec(ctx, sql, packageID, rec.ID, rec.Payload); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", kind, rec.ID, executor.ClassifyError(err))
		}
	}
	return nil
}

// ListKind returns every record of a kind for a package, ordered by id for
// stable listings.
func (s *Store) ListKind(ctx context.Context, exec executor.Executor, packageID string, kind pkgschema.Kind) ([]Record, error) {
	sql := fmt.Sprintf("SELECT id, payload, updated_at FROM %s WHERE package_id = $1 ORDER BY id", s.kindTable(kind))
	rows, err := exec.Query(ctx, sql, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, executor.ClassifyError(err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", kind, executor.ClassifyError(err))
	}
	return out, nil
}

// LoadPackage reassembles a package from the system tables: manifest from
// _sys_packages, records from the kind tables. Returns NotFound when the
// package is not installed.
func (s *Store) LoadPackage(ctx context.Context, exec executor.Executor, packageID string) (*pkgschema.Package, error) {
	var manifest json.RawMessage
	sql := fmt.Sprintf("SELECT payload FROM %s WHERE id = $1", s.table("_sys_packages"))
	if err := exec.QueryRow(ctx, sql, packageID).Scan(&manifest); err != nil {
		if isNoRows(err) {
			return nil, apperr.NewNotFound("package", packageID)
		}
		return nil, fmt.Errorf("failed to load package manifest: %w", executor.ClassifyError(err))
	}

	raw := pkgschema.RawPackage{Manifest: manifest, Kinds: map[pkgschema.Kind]json.RawMessage{}}
	for _, kind := range pkgschema.AllKinds {
		records, err := s.ListKind(ctx, exec, packageID, kind)
		if err != nil {
			return nil, err
		}
		payloads := make([]json.RawMessage, len(records))
		for i, rec := range records {
			payloads[i] = rec.Payload
		}
		data, err := json.Marshal(payloads)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble %s payloads: %w", kind, err)
		}
		raw.Kinds[kind] = data
	}
	return pkgschema.Decode(raw)
}

// SavePackage persists a full package — manifest plus every kind — inside
// one transaction.
func (s *Store) SavePackage(ctx context.Context, exec executor.Executor, pkg *pkgschema.Package) error {
	return executor.InTx(ctx, exec, func(tx pgx.Tx) error {
		manifest, err := json.Marshal(pkg.Manifest)
		if err != nil {
			return fmt.Errorf("failed to marshal manifest: %w", err)
		}
		sql := fmt.Sprintf(
			`INSERT INTO %s (id, payload, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			s.table("_sys_packages"))
		if _, err := tx.Exec(ctx, sql, pkg.Manifest.ID, manifest); err != nil {
			return fmt.Errorf("failed to upsert package row: %w", executor.ClassifyError(err))
		}

		for _, kind := range pkgschema.AllKinds {
			records, err := KindRecords(pkg, kind)
			if err != nil {
				return err
			}
			if err := s.UpsertKind(ctx, tx, pkg.Manifest.ID, kind, records); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPackages returns the manifests of every installed package.
func (s *Store) ListPackages(ctx context.Context, exec executor.Executor) ([]pkgschema.Manifest, error) {
	sql := fmt.Sprintf("SELECT payload FROM %s ORDER BY id", s.table("_sys_packages"))
	rows, err := exec.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var out []pkgschema.Manifest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		var m pkgschema.Manifest
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("failed to decode package manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// KindRecords marshals the typed records of one kind back into store rows.
func KindRecords(pkg *pkgschema.Package, kind pkgschema.Kind) ([]Record, error) {
	marshal := func(id string, v any) (Record, error) {
		payload, err := json.Marshal(v)
		if err != nil {
			return Record{}, fmt.Errorf("failed to marshal %s record %s: %w", kind, id, err)
		}
		return Record{ID: id, Payload: payload}, nil
	}

	var out []Record
	var err error
	appendRec := func(id string, v any) {
		if err != nil {
			return
		}
		var rec Record
		rec, err = marshal(id, v)
		out = append(out, rec)
	}

	switch kind {
	case pkgschema.KindSchemas:
		for _, r := range pkg.Schemas {
			appendRec(r.ID, r)
		}
	case pkgschema.KindEnums:
		for _, r := range pkg.Enums {
			appendRec(r.ID, r)
		}
	case pkgschema.KindTables:
		for _, r := range pkg.Tables {
			appendRec(r.ID, r)
		}
	case pkgschema.KindColumns:
		for _, r := range pkg.Columns {
			appendRec(r.ID, r)
		}
	case pkgschema.KindIndexes:
		for _, r := range pkg.Indexes {
			appendRec(r.ID, r)
		}
	case pkgschema.KindRelationships:
		for _, r := range pkg.Relationships {
			appendRec(r.ID, r)
		}
	case pkgschema.KindAPIEntities:
		for _, r := range pkg.APIEntities {
			appendRec(r.EntityID, r)
		}
	}
	return out, err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
