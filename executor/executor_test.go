package executor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/executor"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(c *qt.C, got error)
	}{
		{
			name: "nil stays nil",
			err:  nil,
			check: func(c *qt.C, got error) {
				c.Assert(got, qt.IsNil)
			},
		},
		{
			name: "unique violation becomes conflict",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"},
			check: func(c *qt.C, got error) {
				var conflict *apperr.ConflictError
				c.Assert(errors.As(got, &conflict), qt.IsTrue)
				c.Assert(conflict.Constraint, qt.Equals, "users_email_key")
			},
		},
		{
			name: "not null violation becomes validation error",
			err:  &pgconn.PgError{Code: "23502", ColumnName: "email"},
			check: func(c *qt.C, got error) {
				var verr *apperr.ValidationError
				c.Assert(errors.As(got, &verr), qt.IsTrue)
				c.Assert(verr.Fields[0].Field, qt.Equals, "email")
			},
		},
		{
			name: "foreign key violation becomes validation error",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "fk_orders_user_id"},
			check: func(c *qt.C, got error) {
				var verr *apperr.ValidationError
				c.Assert(errors.As(got, &verr), qt.IsTrue)
			},
		},
		{
			name: "serialization failure is transient",
			err:  &pgconn.PgError{Code: "40001"},
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, apperr.ErrTransientDatabase), qt.IsTrue)
			},
		},
		{
			name: "deadlock is transient",
			err:  &pgconn.PgError{Code: "40P01"},
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, apperr.ErrTransientDatabase), qt.IsTrue)
			},
		},
		{
			name: "connection exception is transient",
			err:  &pgconn.PgError{Code: "08006"},
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, apperr.ErrTransientDatabase), qt.IsTrue)
			},
		},
		{
			name: "statement timeout",
			err:  &pgconn.PgError{Code: "57014"},
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, apperr.ErrTimeout), qt.IsTrue)
			},
		},
		{
			name: "context deadline",
			err:  fmt.Errorf("query: %w", context.DeadlineExceeded),
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, apperr.ErrTimeout), qt.IsTrue)
			},
		},
		{
			name: "no rows passes through",
			err:  pgx.ErrNoRows,
			check: func(c *qt.C, got error) {
				c.Assert(errors.Is(got, pgx.ErrNoRows), qt.IsTrue)
			},
		},
		{
			name: "unclassified passes through",
			err:  errors.New("boom"),
			check: func(c *qt.C, got error) {
				c.Assert(got.Error(), qt.Equals, "boom")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			tt.check(c, executor.ClassifyError(tt.err))
		})
	}
}
