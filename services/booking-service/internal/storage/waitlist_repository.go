package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
)

const waitlistColumns = `id, client_id, staff_id, service_id, desired_from, desired_to, created_at`

type WaitlistRepository struct {
	db     DB
	outbox *outbox.Repository
}

func NewWaitlistRepository(db DB, outboxRepo *outbox.Repository) *WaitlistRepository {
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository()
	}
	return &WaitlistRepository{db: db, outbox: outboxRepo}
}

func (r *WaitlistRepository) Insert(ctx context.Context, entry model.WaitlistEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO waitlist_entries (id, client_id, staff_id, service_id, desired_from, desired_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ClientID, entry.StaffID, entry.ServiceID, entry.From, entry.To, entry.CreatedAt)
	if IsDuplicate(err) {
		return apperr.Invalid("entry_id", "duplicate id")
	}
	return err
}

func (r *WaitlistRepository) Get(ctx context.Context, id string) (model.WaitlistEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id))
	if err != nil {
		return model.WaitlistEntry{}, notFound(err, "waitlist entry", id)
	}
	return entry, nil
}

func (r *WaitlistRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("waitlist entry", id)
	}
	return nil
}

func (r *WaitlistRepository) ListForStaff(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE staff_id = $1
			AND desired_from < $3
			AND desired_to > $2
		ORDER BY created_at, id
	`, staffID, iv.Start, iv.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Promoted deletes the entry and stages the promotion event in one transaction.
func (r *WaitlistRepository) Promoted(ctx context.Context, entry model.WaitlistEntry, appt model.Appointment) error {
	evt, err := waitlist.NewPromotedEvent(entry, appt)
	if err != nil {
		return err
	}
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, entry.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("waitlist entry", entry.ID)
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

func scanEntry(row pgx.Row) (model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	var from, to, created time.Time
	if err := row.Scan(&e.ID, &e.ClientID, &e.StaffID, &e.ServiceID, &from, &to, &created); err != nil {
		return model.WaitlistEntry{}, err
	}
	e.From, e.To, e.CreatedAt = from.UTC(), to.UTC(), created.UTC()
	return e, nil
}

var _ waitlist.Store = (*WaitlistRepository)(nil)
