package crud

import (
	"context"
	"fmt"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/core/sqlbuilder"
	"github.com/stokaro/architect/executor"
)

// expandIncludes attaches related rows for each include path: collect the
// join values across the parent rows, issue one batched query per include
// on the same executor, group by join value and attach. Depth is fixed at
// one — included rows are never expanded further.
func (s *Service) expandIncludes(ctx context.Context, exec executor.Executor, override string, e *resolve.Entity, rows []rawRow, includes []string) error {
	if len(includes) == 0 || len(rows) == 0 {
		return nil
	}
	for _, path := range includes {
		inc, ok := e.Includes[path]
		if !ok {
			return apperr.NewBadRequest("unknown include %q", path)
		}
		if err := s.expandOne(ctx, exec, override, inc, rows); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) expandOne(ctx context.Context, exec executor.Executor, override string, inc *resolve.Include, rows []rawRow) error {
	// Deduplicated join values across the parent rows; NULL keys join
	// nothing.
	var values []any
	seen := map[string]bool{}
	for _, row := range rows {
		v := row[inc.LocalColumn]
		if v == nil {
			continue
		}
		key := groupKey(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
	}

	// Attach under the snake-form path; shapeRows converts the key along
	// with the column keys.
	attachKey := inc.Path
	if len(values) == 0 {
		for _, row := range rows {
			row[attachKey] = emptyAttachment(inc)
		}
		return nil
	}

	stmt, err := sqlbuilder.SelectByColumnIn(inc.Related, override, inc.RelatedColumn, values)
	if err != nil {
		return err
	}
	related, err := s.queryRows(ctx, exec, stmt)
	if err != nil {
		return err
	}

	groups := map[string][]Row{}
	for _, rel := range related {
		key := groupKey(rel[inc.RelatedColumn])
		groups[key] = append(groups[key], shapeRows(inc.Related, []rawRow{rel})[0])
	}

	for _, row := range rows {
		v := row[inc.LocalColumn]
		if v == nil {
			row[attachKey] = emptyAttachment(inc)
			continue
		}
		matches := groups[groupKey(v)]
		if inc.ToMany {
			if matches == nil {
				matches = []Row{}
			}
			row[attachKey] = matches
			continue
		}
		if len(matches) > 0 {
			row[attachKey] = matches[0]
		} else {
			row[attachKey] = nil
		}
	}
	return nil
}

func emptyAttachment(inc *resolve.Include) any {
	if inc.ToMany {
		return []Row{}
	}
	return nil
}

// groupKey renders a join value into a comparable string. Values were
// normalized during scanning, so equal database values render equally.
func groupKey(v any) string {
	return fmt.Sprintf("%v", v)
}
