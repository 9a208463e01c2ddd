package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

const appointmentColumns = `id, staff_id, client_id, service_id, start_time, end_time, status,
	COALESCE(waitlist_entry_id, ''), cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

// AppointmentRepository implements booking.Store. Staff transactions take a transaction-scoped
// advisory lock on the staff id; the appointments_no_overlap exclusion constraint backs it up.
type AppointmentRepository struct {
	db     DB
	outbox *outbox.Repository
}

func NewAppointmentRepository(db DB, outboxRepo *outbox.Repository) *AppointmentRepository {
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository()
	}
	return &AppointmentRepository{db: db, outbox: outboxRepo}
}

func (r *AppointmentRepository) InStaffTx(ctx context.Context, staffID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "staff:"+staffID); err != nil {
			return fmt.Errorf("lock staff %s: %w", staffID, err)
		}
		return fn(ctx, &appointmentTx{tx: tx, staffID: staffID, outbox: r.outbox})
	})
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", id)
	}
	return appt, nil
}

func (r *AppointmentRepository) ListOverlapping(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error) {
	return listOverlapping(ctx, r.db, staffID, iv)
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = booking.DefaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed',
			updated_at = $1
		WHERE status IN ('pending', 'confirmed')
			AND end_time <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listOverlapping(ctx context.Context, q queryer, staffID string, iv timegrid.Interval) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, staffID, iv.Start, iv.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type appointmentTx struct {
	tx      pgx.Tx
	staffID string
	outbox  *outbox.Repository
}

func (t *appointmentTx) ListOverlapping(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error) {
	return listOverlapping(ctx, t.tx, staffID, iv)
}

func (t *appointmentTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND staff_id = $2
		FOR UPDATE
	`, id, t.staffID))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", id)
	}
	return appt, nil
}

func (t *appointmentTx) Insert(ctx context.Context, appt model.Appointment) error {
	if appt.StaffID != t.staffID {
		return apperr.Invalid("staff_id", "transaction is scoped to another staff member")
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, staff_id, client_id, service_id, start_time, end_time, status, waitlist_entry_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, appt.ID, appt.StaffID, appt.ClientID, appt.ServiceID, appt.Start, appt.End(), string(appt.Status),
		appt.WaitlistEntryID, appt.CreatedAt, appt.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case IsConflict(err):
		return apperr.SlotUnavailable(appt.StaffID, appt.Start)
	case IsDuplicate(err):
		return apperr.Invalid("appointment_id", "duplicate id")
	default:
		return err
	}
}

func (t *appointmentTx) UpdateStatus(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			cancelled_at = $3,
			cancellation_reason = NULLIF($4, ''),
			updated_at = $5
		WHERE id = $1
	`, appt.ID, string(appt.Status), appt.CancelledAt, appt.CancelReason, appt.UpdatedAt)
	if err != nil {
		if IsConflict(err) {
			return apperr.SlotUnavailable(appt.StaffID, appt.Start)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment", appt.ID)
	}
	return nil
}

func (t *appointmentTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt        model.Appointment
		end         time.Time
		status      string
		cancelledAt *time.Time
	)
	if err := row.Scan(
		&appt.ID,
		&appt.StaffID,
		&appt.ClientID,
		&appt.ServiceID,
		&appt.Start,
		&end,
		&status,
		&appt.WaitlistEntryID,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	appt.Duration = end.Sub(appt.Start)
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

var _ booking.Store = (*AppointmentRepository)(nil)
