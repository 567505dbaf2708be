package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

func errRow(err error) rowStub {
	return rowStub{scan: func(_ ...any) error { return err }}
}

// rowsStub implements pgx.Rows over a sequence of per-row scan funcs.
// Shared helper so multiple *_test.go files can reuse it without redefs.
type rowsStub struct {
	scans []func(dest ...any) error
	i     int
	err   error
}

func (r *rowsStub) Next() bool {
	if r.i < len(r.scans) {
		r.i++
		return true
	}
	return false
}
func (r *rowsStub) Scan(dest ...any) error                   { return r.scans[r.i-1](dest...) }
func (r *rowsStub) Close()                                   {}
func (r *rowsStub) Err() error                               { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag            { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                   { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                      { return nil }
func (r *rowsStub) Conn() *pgx.Conn                          { return nil }

// poolStub implements postgres.PgxPool for tests. Behavior is supplied per
// test via the function fields; nil fields fail loudly.
type poolStub struct {
	exec     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRow func(sql string, args []any) pgx.Row
	query    func(sql string, args []any) (pgx.Rows, error)

	execSQL []string
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	if p.exec == nil {
		return pgconn.CommandTag{}, errors.New("no exec configured")
	}
	return p.exec(sql, args)
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRow == nil {
		return errRow(errors.New("no row configured"))
	}
	return p.queryRow(sql, args)
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.query == nil {
		return nil, errors.New("no query configured")
	}
	return p.query(sql, args)
}

func tagRows(n int) pgconn.CommandTag {
	if n == 0 {
		return pgconn.NewCommandTag("UPDATE 0")
	}
	return pgconn.NewCommandTag("UPDATE 1")
}
