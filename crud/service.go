// Package crud executes the uniform CRUD operations for resolved entities.
//
// The service is a thin orchestrator over the SQL builder, an executor and
// response shaping. It owns the case conversion boundary: bodies and filter
// keys arrive camelCase and are converted to snake_case before touching the
// resolved column set; outgoing rows are emitted camelCase. Every operation
// takes the executor and schema override from the request's execution
// context, so all statements of one request — main query and includes —
// observe the same database, schema and RLS session.
package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/core/sqlbuilder"
	"github.com/stokaro/architect/executor"
)

const (
	// DefaultLimit applies when a list request carries no limit.
	DefaultLimit = 100
	// MaxLimit caps the limit a client may request.
	MaxLimit = 1000
	// BulkCap caps the number of items in one bulk request.
	BulkCap = 100
)

// Row is one shaped response row, keys in camelCase.
type Row map[string]any

// Service executes CRUD operations. It is stateless and safe for
// concurrent use.
type Service struct {
	logger *slog.Logger
}

// New creates a CRUD service.
func New() *Service {
	return &Service{logger: slog.Default()}
}

// WithLogger sets the logger for the service.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// ListOptions carries the list inputs. Filter keys may be camelCase.
type ListOptions struct {
	Filters  map[string]string
	Limit    *int
	Offset   int
	Includes []string
}

// List returns entity rows matching the equality filters, newest first.
func (s *Service) List(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, opts ListOptions) ([]Row, error) {
	limit := DefaultLimit
	if opts.Limit != nil {
		limit = *opts.Limit
		if limit < 0 {
			return nil, apperr.NewBadRequest("limit must not be negative")
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}
	if opts.Offset < 0 {
		return nil, apperr.NewBadRequest("offset must not be negative")
	}

	filters := map[string]any{}
	for key, value := range opts.Filters {
		snake, ok := e.SnakeName(key)
		if !ok {
			return nil, apperr.NewBadRequest("unknown filter column %q", key)
		}
		filters[snake] = value
	}

	stmt, err := sqlbuilder.SelectList(e, override, sqlbuilder.ListParams{
		Filters: filters,
		Limit:   limit,
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, exec, stmt)
	if err != nil {
		return nil, err
	}
	if err := s.expandIncludes(ctx, exec, override, e, rows, opts.Includes); err != nil {
		return nil, err
	}
	return shapeRows(e, rows), nil
}

// Read returns one row by primary key, with optional includes.
func (s *Service) Read(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, id string, includes []string) (Row, error) {
	stmt, err := sqlbuilder.SelectByID(e, override, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, exec, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NewNotFound("row", id)
	}
	if err := s.expandIncludes(ctx, exec, override, e, rows[:1], includes); err != nil {
		return nil, err
	}
	return shapeRows(e, rows[:1])[0], nil
}

// Create validates and inserts one row, returning the stored form.
func (s *Service) Create(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, body map[string]any) (Row, error) {
	record, err := s.prepareCreate(e, body)
	if err != nil {
		return nil, err
	}
	stmt, err := sqlbuilder.Insert(e, override, record)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, exec, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert returned no row for entity %q", e.PathSegment)
	}
	return shapeRows(e, rows)[0], nil
}

// Update validates and applies a partial update by primary key.
func (s *Service) Update(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, id string, body map[string]any) (Row, error) {
	record, err := s.prepareUpdate(e, body)
	if err != nil {
		return nil, err
	}
	stmt, err := sqlbuilder.Update(e, override, id, record)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(ctx, exec, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NewNotFound("row", id)
	}
	return shapeRows(e, rows)[0], nil
}

// Delete removes one row by primary key.
func (s *Service) Delete(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, id string) error {
	stmt, err := sqlbuilder.Delete(e, override, id)
	if err != nil {
		return err
	}
	tag, err := exec.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return executor.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("row", id)
	}
	return nil
}

// BulkCreate inserts up to BulkCap rows atomically: every body is validated
// before the transaction opens, and any failure aborts the whole batch.
func (s *Service) BulkCreate(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, bodies []map[string]any) ([]Row, error) {
	if len(bodies) > BulkCap {
		return nil, apperr.NewBadRequest("bulk request exceeds %d items", BulkCap)
	}
	records := make([]map[string]any, len(bodies))
	for i, body := range bodies {
		record, err := s.prepareCreate(e, body)
		if err != nil {
			return nil, err
		}
		records[i] = record
	}

	return s.bulkTx(ctx, exec, func(tx pgx.Tx) ([]Row, error) {
		var out []Row
		for _, record := range records {
			stmt, err := sqlbuilder.Insert(e, override, record)
			if err != nil {
				return nil, err
			}
			rows, err := s.queryRows(ctx, tx, stmt)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, fmt.Errorf("insert returned no row for entity %q", e.PathSegment)
			}
			out = append(out, shapeRows(e, rows)[0])
		}
		return out, nil
	})
}

// bulkTx runs a bulk operation in one transaction. A transient failure is
// retried once: the rollback guarantees no partial state became visible.
func (s *Service) bulkTx(ctx context.Context, exec executor.Executor, fn func(tx pgx.Tx) ([]Row, error)) ([]Row, error) {
	run := func() ([]Row, error) {
		var out []Row
		err := executor.InTx(ctx, exec, func(tx pgx.Tx) error {
			var ferr error
			out, ferr = fn(tx)
			return ferr
		})
		if err != nil {
			return nil, executor.ClassifyError(err)
		}
		return out, nil
	}

	out, err := run()
	if errors.Is(err, apperr.ErrTransientDatabase) {
		s.logger.Warn("Retrying bulk operation after transient failure", "error", err)
		out, err = run()
	}
	return out, err
}

// BulkUpdate applies up to BulkCap partial updates atomically. Every item
// carries its primary key under "id" (or the camelCase pk name).
func (s *Service) BulkUpdate(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, items []map[string]any) ([]Row, error) {
	if len(items) > BulkCap {
		return nil, apperr.NewBadRequest("bulk request exceeds %d items", BulkCap)
	}
	pk, ok := e.SinglePK()
	if !ok {
		return nil, apperr.NewBadRequest("entity %q has a composite primary key", e.PathSegment)
	}

	type update struct {
		id     string
		record map[string]any
	}
	updates := make([]update, len(items))
	for i, item := range items {
		record, err := s.toSnakeBody(e, item)
		if err != nil {
			return nil, err
		}
		idValue, present := record[pk]
		if !present {
			return nil, apperr.NewBadRequest("bulk update item %d is missing %q", i, pk)
		}
		idStr, isString := idValue.(string)
		if !isString {
			return nil, apperr.NewBadRequest("bulk update item %d has a non-string id", i)
		}
		delete(record, pk)
		if err := e.ValidateBody(record, true); err != nil {
			return nil, err
		}
		updates[i] = update{id: idStr, record: record}
	}

	return s.bulkTx(ctx, exec, func(tx pgx.Tx) ([]Row, error) {
		var out []Row
		for _, u := range updates {
			stmt, err := sqlbuilder.Update(e, override, u.id, u.record)
			if err != nil {
				return nil, err
			}
			rows, err := s.queryRows(ctx, tx, stmt)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, apperr.NewNotFound("row", u.id)
			}
			out = append(out, shapeRows(e, rows)[0])
		}
		return out, nil
	})
}

// prepareCreate converts keys, validates, and fills a generated primary key
// for uuid-typed keys the body omits.
func (s *Service) prepareCreate(e *resolve.Entity, body map[string]any) (map[string]any, error) {
	record, err := s.toSnakeBody(e, body)
	if err != nil {
		return nil, err
	}
	if err := e.ValidateBody(record, false); err != nil {
		return nil, err
	}
	if pk, ok := e.SinglePK(); ok {
		if _, present := record[pk]; !present {
			col := e.Column(pk)
			if col != nil && col.Default == nil && strings.EqualFold(col.Type.Name, "uuid") {
				record[pk] = uuid.NewString()
			}
		}
	}
	return record, nil
}

func (s *Service) prepareUpdate(e *resolve.Entity, body map[string]any) (map[string]any, error) {
	record, err := s.toSnakeBody(e, body)
	if err != nil {
		return nil, err
	}
	if err := e.ValidateBody(record, true); err != nil {
		return nil, err
	}
	return record, nil
}

// toSnakeBody rewrites body keys to the resolved snake_case column names.
// Unknown keys are rejected rather than silently dropped.
func (s *Service) toSnakeBody(e *resolve.Entity, body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(body))
	for key, value := range body {
		snake, ok := e.SnakeName(key)
		if !ok {
			return nil, apperr.NewBadRequest("unknown column %q", key)
		}
		out[snake] = value
	}
	return out, nil
}
