package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using a PostgreSQL database.
type PostgresStore struct {
	*sqlStore
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database using the provided connection string.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	d := dialect{name: "postgres", numbered: true, mapErr: mapPgError}
	return &PostgresStore{sqlStore: newSQLStore(db, d), pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	err := s.sqlStore.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503", "23505", "23514":
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.Message)
	}
	return err
}
