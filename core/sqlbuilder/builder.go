// Package sqlbuilder emits the fixed parameterized statement shapes the CRUD
// service executes. It is a pure function of (entity, schema override,
// operation parameters): no user-supplied value is ever interpolated as
// text. The only strings spliced into SQL are identifiers drawn from the
// resolved model, and those are quoted — identifier validation already
// happened at resolve time, so quoting here is defense in depth.
package sqlbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/resolve"
)

// Statement is a parameterized SQL statement ready for execution.
type Statement struct {
	SQL  string
	Args []any
}

// ListParams carries the select_list inputs. Filters are equality matches on
// configured columns, keys already snake_case.
type ListParams struct {
	Filters map[string]any
	Limit   int
	Offset  int
}

// SelectByID builds SELECT <cols> FROM "S"."T" WHERE "pk" = $1.
func SelectByID(e *resolve.Entity, schemaOverride string, id any) (Statement, error) {
	pk, ok := e.SinglePK()
	if !ok {
		return Statement{}, apperr.NewBadRequest("entity %q has a composite primary key", e.PathSegment)
	}
	cols, err := columnList(e.VisibleColumns())
	if err != nil {
		return Statement{}, err
	}
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}
	pkIdent, err := QuoteIdent(pk)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", cols, table, pkIdent),
		Args: []any{id},
	}, nil
}

// SelectList builds the list query with equality filters, fixed ordering by
// created_at DESC, and positional limit/offset parameters. Unknown filter
// columns are rejected.
func SelectList(e *resolve.Entity, schemaOverride string, p ListParams) (Statement, error) {
	cols, err := columnList(e.VisibleColumns())
	if err != nil {
		return Statement{}, err
	}
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)

	args := make([]any, 0, len(p.Filters)+2)
	if len(p.Filters) > 0 {
		names := make([]string, 0, len(p.Filters))
		for name := range p.Filters {
			if e.Column(name) == nil {
				return Statement{}, apperr.NewBadRequest("unknown filter column %q", name)
			}
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString(" WHERE ")
		for i, name := range names {
			if i > 0 {
				b.WriteString(" AND ")
			}
			ident, err := QuoteIdent(name)
			if err != nil {
				return Statement{}, err
			}
			args = append(args, p.Filters[name])
			fmt.Fprintf(&b, "%s = $%d", ident, len(args))
		}
	}

	args = append(args, p.Limit)
	fmt.Fprintf(&b, ` ORDER BY "created_at" DESC LIMIT $%d`, len(args))
	args = append(args, p.Offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	return Statement{SQL: b.String(), Args: args}, nil
}

// SelectByColumnIn builds SELECT <cols> FROM "S"."T" WHERE "col" = ANY($1)
// ORDER BY "created_at" DESC, the batched lookup used by include expansion.
func SelectByColumnIn(e *resolve.Entity, schemaOverride, column string, values []any) (Statement, error) {
	if e.Column(column) == nil {
		return Statement{}, apperr.NewBadRequest("unknown column %q", column)
	}
	cols, err := columnList(e.VisibleColumns())
	if err != nil {
		return Statement{}, err
	}
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}
	ident, err := QuoteIdent(column)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1) ORDER BY "created_at" DESC`, cols, table, ident),
		Args: []any{values},
	}, nil
}

// Insert builds INSERT INTO "S"."T" (<cols>) VALUES (...) RETURNING <cols>.
// The inserted column set is the intersection of body keys and configured
// columns, in declared column order so statements are deterministic.
func Insert(e *resolve.Entity, schemaOverride string, body map[string]any) (Statement, error) {
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}
	returning, err := columnList(e.VisibleColumns())
	if err != nil {
		return Statement{}, err
	}

	var names []string
	var placeholders []string
	var args []any
	for _, name := range e.ColumnNames() {
		value, present := body[name]
		if !present {
			continue
		}
		ident, err := QuoteIdent(name)
		if err != nil {
			return Statement{}, err
		}
		args = append(args, value)
		names = append(names, ident)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if len(names) == 0 {
		return Statement{}, apperr.NewBadRequest("body contains no insertable columns")
	}

	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			table, strings.Join(names, ", "), strings.Join(placeholders, ", "), returning),
		Args: args,
	}, nil
}

// Update builds UPDATE "S"."T" SET <col = $n, ...>, "updated_at" = now()
// WHERE "pk" = $last RETURNING <cols>. updated_at is always touched so that
// concurrent updates are last-write-wins on it.
func Update(e *resolve.Entity, schemaOverride string, id any, body map[string]any) (Statement, error) {
	pk, ok := e.SinglePK()
	if !ok {
		return Statement{}, apperr.NewBadRequest("entity %q has a composite primary key", e.PathSegment)
	}
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}
	returning, err := columnList(e.VisibleColumns())
	if err != nil {
		return Statement{}, err
	}

	var sets []string
	var args []any
	for _, name := range e.ColumnNames() {
		value, present := body[name]
		if !present || name == pk {
			continue
		}
		ident, err := QuoteIdent(name)
		if err != nil {
			return Statement{}, err
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", ident, len(args)))
	}
	if len(sets) == 0 {
		return Statement{}, apperr.NewBadRequest("body contains no updatable columns")
	}
	sets = append(sets, `"updated_at" = now()`)

	pkIdent, err := QuoteIdent(pk)
	if err != nil {
		return Statement{}, err
	}
	args = append(args, id)

	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
			table, strings.Join(sets, ", "), pkIdent, len(args), returning),
		Args: args,
	}, nil
}

// Delete builds DELETE FROM "S"."T" WHERE "pk" = $1.
func Delete(e *resolve.Entity, schemaOverride string, id any) (Statement, error) {
	pk, ok := e.SinglePK()
	if !ok {
		return Statement{}, apperr.NewBadRequest("entity %q has a composite primary key", e.PathSegment)
	}
	table, err := qualifiedTable(e, schemaOverride)
	if err != nil {
		return Statement{}, err
	}
	pkIdent, err := QuoteIdent(pk)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, pkIdent),
		Args: []any{id},
	}, nil
}

// qualifiedTable renders "schema"."table", with the override replacing the
// entity's schema when set. Column identifiers are never overridden.
func qualifiedTable(e *resolve.Entity, schemaOverride string) (string, error) {
	schema := e.SchemaName
	if schemaOverride != "" {
		schema = schemaOverride
	}
	qs, err := QuoteIdent(schema)
	if err != nil {
		return "", err
	}
	qt, err := QuoteIdent(e.TableName)
	if err != nil {
		return "", err
	}
	return qs + "." + qt, nil
}

func columnList(names []string) (string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		q, err := QuoteIdent(name)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}
