package crud_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeResult scripts one statement's outcome for the fake executor.
type fakeResult struct {
	cols []string
	rows [][]any
	tag  pgconn.CommandTag
	err  error
}

// fakeExec is a scripted executor: each Query/Exec consumes the next
// result and records the statement.
type fakeExec struct {
	results []fakeResult

	Statements []string
	Args       [][]any
	Begun      int
	Committed  int
	RolledBack int
}

func (f *fakeExec) push(res fakeResult) { f.results = append(f.results, res) }

func (f *fakeExec) pop() fakeResult {
	if len(f.results) == 0 {
		return fakeResult{}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeExec) record(sql string, args []any) {
	f.Statements = append(f.Statements, sql)
	f.Args = append(f.Args, args)
}

func (f *fakeExec) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	res := f.pop()
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{cols: res.cols, rows: res.rows}, nil
}

func (f *fakeExec) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := f.Query(ctx, sql, args...)
	if err != nil {
		return &fakeRow{err: err}
	}
	return &fakeRow{rows: rows.(*fakeRows)}
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	res := f.pop()
	return res.tag, res.err
}

func (f *fakeExec) Begin(_ context.Context) (pgx.Tx, error) {
	f.Begun++
	return &fakeTx{exec: f}, nil
}

// fakeRows implements pgx.Rows over scripted values.
type fakeRows struct {
	cols    []string
	rows    [][]any
	current int
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.cols))
	for i, name := range r.cols {
		out[i] = pgconn.FieldDescription{Name: name}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.current >= len(r.rows) {
		return false
	}
	r.current++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	values := r.rows[r.current-1]
	if len(dest) != len(values) {
		return fmt.Errorf("scan expects %d destinations, got %d", len(values), len(dest))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *any:
			*d = v
		default:
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.current-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeRow struct {
	rows *fakeRows
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

// fakeTx implements pgx.Tx by delegating to the fake executor.
type fakeTx struct {
	exec *fakeExec
	done bool
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx") }

func (t *fakeTx) Commit(_ context.Context) error {
	t.done = true
	t.exec.Committed++
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.done {
		t.done = true
		t.exec.RolledBack++
	}
	return nil
}

func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.exec.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.exec.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.exec.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }
