// Package migrator applies generated DDL plans to a database.
package migrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stokaro/architect/core/ast"
	"github.com/stokaro/architect/core/renderer"
	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/executor"
	"github.com/stokaro/architect/migration/planner"
)

// Migrator renders a plan and executes it statement by statement. Every
// structural statement is idempotent (IF NOT EXISTS); foreign keys have no
// IF NOT EXISTS form, so they are guarded by a constraint-name lookup
// against pg_constraint before being applied.
type Migrator struct {
	exec     executor.Executor
	planner  *planner.Planner
	renderer *renderer.Renderer
	logger   *slog.Logger
}

// New creates a migrator bound to an executor.
func New(exec executor.Executor) *Migrator {
	return &Migrator{
		exec:     exec,
		planner:  planner.New(),
		renderer: renderer.New(),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the migrator.
func (m *Migrator) WithLogger(l *slog.Logger) *Migrator {
	tmp := *m
	tmp.logger = l
	return &tmp
}

// ApplyModel plans, renders and applies the DDL for a resolved model.
func (m *Migrator) ApplyModel(ctx context.Context, model *resolve.Model, opts planner.Options) error {
	nodes := m.planner.Plan(model, opts)
	return m.ApplyNodes(ctx, nodes)
}

// ApplyNodes renders and applies an explicit node list.
func (m *Migrator) ApplyNodes(ctx context.Context, nodes []ast.Node) error {
	for _, node := range nodes {
		if _, isComment := node.(*ast.CommentNode); isComment {
			continue
		}
		if fk, isFK := node.(*ast.AddForeignKeyNode); isFK {
			if err := m.applyForeignKey(ctx, fk); err != nil {
				return err
			}
			continue
		}
		sql, err := m.renderer.Render(node)
		if err != nil {
			return fmt.Errorf("failed to render ddl statement: %w", err)
		}
		m.logger.Debug("Applying DDL", "sql", sql)
		if _, err := m.exec.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to apply ddl %q: %w", sql, executor.ClassifyError(err))
		}
	}
	return nil
}

// applyForeignKey adds the constraint only when no constraint of that name
// exists on the target table yet.
func (m *Migrator) applyForeignKey(ctx context.Context, fk *ast.AddForeignKeyNode) error {
	const existsSQL = `
		SELECT EXISTS (
			SELECT 1
			FROM pg_constraint con
			JOIN pg_class rel ON rel.oid = con.conrelid
			JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
			WHERE con.conname = $1 AND rel.relname = $2 AND nsp.nspname = $3
		)`

	var exists bool
	if err := m.exec.QueryRow(ctx, existsSQL, fk.ConstraintName, fk.Table, fk.Schema).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check constraint %s: %w", fk.ConstraintName, executor.ClassifyError(err))
	}
	if exists {
		m.logger.Debug("Skipping existing foreign key", "constraint", fk.ConstraintName)
		return nil
	}

	sql, err := m.renderer.Render(fk)
	if err != nil {
		return fmt.Errorf("failed to render foreign key %s: %w", fk.ConstraintName, err)
	}
	m.logger.Debug("Applying DDL", "sql", sql)
	if _, err := m.exec.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to add foreign key %s: %w", fk.ConstraintName, executor.ClassifyError(err))
	}
	return nil
}
