// Package inbox remembers consumed event ids so redelivered messages are handled once.
package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db Execer
}

func NewRepository(db Execer) *Repository {
	return &Repository{db: db}
}

// Record reports true the first time eventID is seen and false for duplicates.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// Forget releases eventID so a redelivery is handled again.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}
