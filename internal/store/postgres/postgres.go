// Package postgres binds the store contracts to PostgreSQL via pgx.
// SQL stays close to the store methods; every statement runs under the
// caller's deadline, with a 5-second default when none is set.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTimeout = 5 * time.Second

// Connect parses the URL, builds the pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "invalid database url")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "failed to create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(err, apperr.KindDatabase, "database unreachable")
	}
	return pool, nil
}

// withDeadline applies the default operation timeout when the caller did
// not propagate one.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// mapError converts driver failures into the core taxonomy.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Wrap(err, apperr.KindConflict, op)
	}
	return apperr.Wrap(err, apperr.KindDatabase, op)
}
