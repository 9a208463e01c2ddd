// Package waitlist queues clients for fully booked time and promotes the earliest compatible
// entry when a cancellation frees capacity.
package waitlist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("barberbook/waitlist")

type Store interface {
	Insert(ctx context.Context, entry model.WaitlistEntry) error
	// Get and Delete return apperr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (model.WaitlistEntry, error)
	Delete(ctx context.Context, id string) error
	// ListForStaff returns the staff member's entries whose window overlaps iv, ordered by
	// CreatedAt then ID.
	ListForStaff(ctx context.Context, staffID string, iv timegrid.Interval) ([]model.WaitlistEntry, error)
	// Promoted deletes entry and stages a NewPromotedEvent in one transaction.
	Promoted(ctx context.Context, entry model.WaitlistEntry, appt model.Appointment) error
}

type Booker interface {
	Book(ctx context.Context, req booking.Request) (model.Appointment, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(newID func() string) Option { return func(m *Manager) { m.newID = newID } }

func WithMetrics(bm *metrics.BookingMetrics) Option { return func(m *Manager) { m.metrics = bm } }

// WithLeadTime should match the booking service's lead time so promotions never aim at starts it rejects.
func WithLeadTime(d time.Duration) Option { return func(m *Manager) { m.leadTime = max(d, 0) } }

type Manager struct {
	store    Store
	booker   Booker
	catalog  booking.Catalog
	logger   *slog.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
	newID    func() string
	leadTime time.Duration
}

func NewManager(store Store, booker Booker, catalog booking.Catalog, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:   store,
		booker:  booker,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type EnqueueRequest struct {
	ClientID  string
	StaffID   string
	ServiceID string
	From      time.Time
	To        time.Time
}

// Enqueue records a client's standing request for any time in [From, To).
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	switch {
	case req.ClientID == "":
		return "", apperr.Invalid("client_id", "required")
	case req.StaffID == "":
		return "", apperr.Invalid("staff_id", "required")
	case req.ServiceID == "":
		return "", apperr.Invalid("service_id", "required")
	case req.From.IsZero() || req.To.IsZero():
		return "", apperr.Invalid("window", "from and to are required")
	case !req.To.After(req.From):
		return "", apperr.InvalidRange(req.From, req.To)
	}

	now := m.now()
	if !req.To.After(now) {
		return "", apperr.Invalid("to", "must be in the future")
	}
	svc, err := m.catalog.Service(ctx, req.ServiceID)
	if err != nil {
		return "", lookupError("service_id", "load service", err)
	}
	if req.To.Sub(req.From) < svc.Duration {
		return "", apperr.Invalid("window", "shorter than the service duration")
	}
	if _, err := m.catalog.Schedule(ctx, req.StaffID); err != nil {
		return "", lookupError("staff_id", "load schedule", err)
	}

	entry := model.WaitlistEntry{
		ID:        m.newID(),
		ClientID:  req.ClientID,
		StaffID:   req.StaffID,
		ServiceID: req.ServiceID,
		From:      req.From.UTC(),
		To:        req.To.UTC(),
		CreatedAt: now,
	}
	if err := m.store.Insert(ctx, entry); err != nil {
		return "", apperr.Storage("insert waitlist entry", err)
	}
	m.logger.Info("waitlist entry queued", "entry_id", entry.ID, "staff_id", entry.StaffID, "client_id", entry.ClientID)
	return entry.ID, nil
}

// Withdraw deletes an entry at the client's request.
func (m *Manager) Withdraw(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Invalid("entry_id", "required")
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return apperr.Storage("delete waitlist entry", err)
	}
	return nil
}

// Fulfilled removes the entry a committed booking was made for and emits the promotion event.
func (m *Manager) Fulfilled(ctx context.Context, entryID string, appt model.Appointment) error {
	entry, err := m.store.Get(ctx, entryID)
	if err != nil {
		return apperr.Storage("load waitlist entry", err)
	}
	if entry.ClientID != appt.ClientID || entry.StaffID != appt.StaffID {
		return apperr.Invalid("waitlist_entry_id", "belongs to a different client or staff member")
	}
	if err := m.store.Promoted(ctx, entry, appt); err != nil {
		return apperr.Storage("promote waitlist entry", err)
	}
	return nil
}

// PromoteNext tries entries for staffID in queue order and books the first one that fits inside
// the part of freed that is still bookable. It reports false when no entry could be booked. A
// concurrent booker taking the time first is not an error; the next entry is tried.
func (m *Manager) PromoteNext(ctx context.Context, staffID string, freed timegrid.Interval) (model.Appointment, bool, error) {
	ctx, span := tracer.Start(ctx, "waitlist.PromoteNext", trace.WithAttributes(attribute.String("staff_id", staffID)))
	defer span.End()

	freed, err := m.bookable(ctx, staffID, freed)
	if err != nil {
		m.metrics.ObservePromotion("error")
		return model.Appointment{}, false, err
	}
	if freed.IsEmpty() {
		return model.Appointment{}, false, nil
	}
	entries, err := m.store.ListForStaff(ctx, staffID, freed)
	if err != nil {
		m.metrics.ObservePromotion("error")
		return model.Appointment{}, false, apperr.Storage("list waitlist", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return model.Appointment{}, false, err
		}
		svc, err := m.catalog.Service(ctx, entry.ServiceID)
		if errors.Is(err, apperr.ErrNotFound) {
			m.logger.Warn("waitlist entry names an unknown service", "entry_id", entry.ID, "service_id", entry.ServiceID)
			continue
		}
		if err != nil {
			m.metrics.ObservePromotion("error")
			return model.Appointment{}, false, apperr.Storage("load service", err)
		}

		start, ok := fit(entry, freed, svc.Duration)
		if !ok {
			continue
		}
		appt, err := m.booker.Book(ctx, booking.Request{
			StaffID:         entry.StaffID,
			ClientID:        entry.ClientID,
			ServiceID:       entry.ServiceID,
			Start:           start,
			WaitlistEntryID: entry.ID,
		})
		switch {
		case err == nil:
			m.metrics.ObservePromotion("promoted")
			m.logger.Info("waitlist entry promoted", "entry_id", entry.ID, "appointment_id", appt.ID, "staff_id", staffID)
			return appt, true, nil
		case errors.Is(err, apperr.ErrSlotUnavailable), errors.Is(err, apperr.ErrValidation):
			m.metrics.ObservePromotion("skipped")
			m.logger.Debug("waitlist candidate skipped", "entry_id", entry.ID, "err", err)
		default:
			m.metrics.ObservePromotion("error")
			return model.Appointment{}, false, err
		}
	}
	m.metrics.ObservePromotion("exhausted")
	return model.Appointment{}, false, nil
}

// bookable trims the part of freed that starts before now plus the lead time. The new start is
// rounded up onto the staff member's slot grid when it falls inside an open interval.
func (m *Manager) bookable(ctx context.Context, staffID string, freed timegrid.Interval) (timegrid.Interval, error) {
	earliest := m.now().Add(m.leadTime)
	if !freed.Start.Before(earliest) || freed.IsEmpty() {
		return freed, nil
	}
	schedule, err := m.catalog.Schedule(ctx, staffID)
	if err != nil {
		return timegrid.Interval{}, apperr.Storage("load schedule", err)
	}
	freed.Start = earliest
	step := schedule.Granularity()
	for _, open := range schedule.OpenIntervals(schedule.DateOf(earliest)) {
		if earliest.Before(open.Start) || !earliest.Before(open.End) {
			continue
		}
		if rem := earliest.Sub(open.Start) % step; rem != 0 {
			freed.Start = earliest.Add(step - rem)
		}
		break
	}
	return freed, nil
}

// fit places the service at the earliest instant inside both the freed interval and the
// entry's desired window.
func fit(entry model.WaitlistEntry, freed timegrid.Interval, duration time.Duration) (time.Time, bool) {
	if duration <= 0 {
		return time.Time{}, false
	}
	start := freed.Start
	if entry.From.After(start) {
		start = entry.From
	}
	end := start.Add(duration)
	if end.After(freed.End) || end.After(entry.To) {
		return time.Time{}, false
	}
	return start, true
}

func lookupError(field, op string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(field, "unknown "+strings.TrimSuffix(field, "_id"))
	}
	return apperr.Storage(op, err)
}
