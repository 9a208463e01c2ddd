package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// Store persists appointments. Reads outside InStaffTx are not serialized with writers.
type Store interface {
	// InStaffTx runs fn atomically with respect to every other InStaffTx for staffID. Writes staged
	// through tx are applied only if fn returns nil.
	InStaffTx(ctx context.Context, staffID string, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListOverlapping(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error)
	// CompleteElapsed marks pending and confirmed appointments that ended at or before now as
	// completed and returns how many changed.
	CompleteElapsed(ctx context.Context, now time.Time) (int, error)
}

type Tx interface {
	ListOverlapping(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error)
	// GetForUpdate returns apperr.ErrNotFound when id is unknown.
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	UpdateStatus(ctx context.Context, appt model.Appointment) error
	AddEvent(ctx context.Context, evt outbox.Event) error
}

// Catalog is read-only reference data: staff schedules and the service menu.
type Catalog interface {
	Schedule(ctx context.Context, staffID string) (*timegrid.Schedule, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

// Locker serializes bookings for one staff member across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// WaitlistHook is told when a booking fills a waitlist entry.
type WaitlistHook interface {
	Fulfilled(ctx context.Context, entryID string, appt model.Appointment) error
}

// FreedListener is told when a cancellation frees time on a staff calendar. It must not block.
type FreedListener interface {
	SlotFreed(ctx context.Context, staffID string, freed timegrid.Interval)
}
