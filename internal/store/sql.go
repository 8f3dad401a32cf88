package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect captures the differences between the Postgres and SQLite backends.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name       string
	numbered   bool
	timeLayout string
	mapErr     func(error) error
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeArg converts t into the bind value the backend stores.
func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.timeLayout == "" {
		return t
	}
	return t.Format(d.timeLayout)
}

func (d dialect) wrap(err error) error {
	if err == nil || d.mapErr == nil {
		return err
	}
	return d.mapErr(err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Repositories against either the pool or a transaction.
type queries struct {
	q execer
	d dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.q.ExecContext(ctx, q.d.rebind(query), args...)
	return res, q.d.wrap(err)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.q.QueryContext(ctx, q.d.rebind(query), args...)
	return rows, q.d.wrap(err)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.d.rebind(query), args...)
}

// sqlStore implements Store on database/sql.
type sqlStore struct {
	queries
	db *sql.DB
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{queries: queries{q: db, d: d}, db: db}
}

// Close closes the underlying database handle.
func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (s *sqlStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", s.d.wrap(err))
	}
	tx := &txStore{queries: queries{q: sqlTx, d: s.d}, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", s.d.wrap(err))
	}
	return nil
}

// DeleteProject wraps the multi-table delete in its own transaction.
func (s *sqlStore) DeleteProject(ctx context.Context, id int64) (*DeletedProject, error) {
	var deleted *DeletedProject
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		deleted, err = tx.DeleteProject(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

type txStore struct {
	queries
	tx  *sql.Tx
	seq int
}

// Savepoint isolates fn's writes inside the transaction.
func (t *txStore) Savepoint(ctx context.Context, fn func(Tx) error) error {
	t.seq++
	name := "sp_" + strconv.Itoa(t.seq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", t.d.wrap(err))
	}
	if err := fn(t); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		_, _ = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", t.d.wrap(err))
	}
	return nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
