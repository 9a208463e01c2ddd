// Package storage holds the PostgreSQL implementations of the appointment, schedule and
// waitlist stores.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
)

// DB is the part of pgxpool.Pool the repositories use. pgxmock satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	codeExclusionViolation = "23P01"
	codeUniqueViolation    = "23505"
)

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeExclusionViolation
}

func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// notFound maps pgx.ErrNoRows to apperr.ErrNotFound and leaves other errors alone.
func notFound(err error, kind, id string) error {
	if IsNotFound(err) {
		return apperr.NotFound(kind, id)
	}
	return err
}

// inTx runs fn in a transaction, rolling back unless fn and the commit both succeed.
func inTx(ctx context.Context, db DB, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return fmt.Errorf("%w: overlapping appointment", apperr.ErrSlotUnavailable)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
