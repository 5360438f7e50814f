package crud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stokaro/architect/core/inflect"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/core/sqlbuilder"
	"github.com/stokaro/architect/executor"
)

// rawRow is a scanned row before case shaping, keys snake_case.
type rawRow map[string]any

// queryRows executes a statement and scans every row into a snake-keyed
// map using the result's field descriptions.
func (s *Service) queryRows(ctx context.Context, exec executor.Executor, stmt sqlbuilder.Statement) ([]rawRow, error) {
	rows, err := exec.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, executor.ClassifyError(err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, executor.ClassifyError(err)
		}
		fields := rows.FieldDescriptions()
		row := make(rawRow, len(fields))
		for i, fd := range fields {
			row[fd.Name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, executor.ClassifyError(err)
	}
	return out, nil
}

// normalizeValue rewrites driver-native values into JSON-friendly forms:
// uuid bytes become their canonical string, timestamps stay time.Time and
// serialize as RFC 3339.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return val
	}
	return v
}

// shapeRows converts raw rows to the outgoing camelCase projection.
// Sensitive columns never reach this point: the SELECT list already
// excludes them.
func shapeRows(e *resolve.Entity, rows []rawRow) []Row {
	out := make([]Row, len(rows))
	for i, raw := range rows {
		row := make(Row, len(raw))
		for key, value := range raw {
			row[inflect.ToCamel(key)] = value
		}
		out[i] = row
	}
	return out
}
