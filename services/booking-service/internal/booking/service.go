// Package booking is the transactional entry point of the engine: it validates requests, re-checks
// conflicts inside a staff-scoped store transaction, persists appointment state changes together
// with their outbox events, and hands freed time to the waitlist.
package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHorizon          = 90 * 24 * time.Hour
	DefaultMaxSlotRangeDays = 62
	DefaultListLimit        = 50
	MaxListLimit            = 200
)

var tracer = otel.Tracer("barberbook/booking")

type Config struct {
	// Horizon is how far ahead a booking may start. Zero means DefaultHorizon.
	Horizon time.Duration
	// LeadTime is the minimum notice between now and a booking's start.
	LeadTime time.Duration
	// MaxSlotRangeDays caps the inclusive date span of one slot query. Zero means DefaultMaxSlotRangeDays.
	MaxSlotRangeDays int
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(newID func() string) Option { return func(s *Service) { s.newID = newID } }

type Service struct {
	store    Store
	catalog  Catalog
	logger   *slog.Logger
	cfg      Config
	locker   Locker
	metrics  *metrics.BookingMetrics
	now      func() time.Time
	newID    func() string
	waitlist WaitlistHook
	freed    FreedListener
}

func NewService(store Store, catalog Catalog, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.LeadTime < 0 {
		cfg.LeadTime = 0
	}
	if cfg.MaxSlotRangeDays <= 0 {
		cfg.MaxSlotRangeDays = DefaultMaxSlotRangeDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   store,
		catalog: catalog,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWaitlistHook and SetFreedListener close the loop with the waitlist after both sides are built.
// Call them before serving traffic.
func (s *Service) SetWaitlistHook(h WaitlistHook) { s.waitlist = h }

func (s *Service) SetFreedListener(l FreedListener) { s.freed = l }

// Request asks for an appointment. A zero Duration means the service's own duration.
type Request struct {
	StaffID         string
	ClientID        string
	ServiceID       string
	Start           time.Time
	Duration        time.Duration
	WaitlistEntryID string
}

func (r Request) normalized() Request {
	r.StaffID = strings.TrimSpace(r.StaffID)
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.WaitlistEntryID = strings.TrimSpace(r.WaitlistEntryID)
	return r
}

// Book commits a pending appointment if and only if it conflicts with nothing on the staff
// member's calendar at commit time.
func (s *Service) Book(ctx context.Context, req Request) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("staff_id", req.StaffID),
		attribute.String("service_id", req.ServiceID),
	))
	defer span.End()

	appt, err := s.book(ctx, req.normalized())
	s.metrics.ObserveAction("book", resultLabel(err))
	if err != nil {
		recordSpanError(span, err)
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"staff_id", appt.StaffID,
		"client_id", appt.ClientID,
		"start", appt.Start.Format(time.RFC3339),
		"duration", appt.Duration.String(),
	)

	if appt.WaitlistEntryID != "" && s.waitlist != nil {
		if err := s.waitlist.Fulfilled(ctx, appt.WaitlistEntryID, appt); err != nil {
			s.logger.Warn("waitlist entry not cleared after booking", "appointment_id", appt.ID, "entry_id", appt.WaitlistEntryID, "err", err)
		}
	}
	return appt, nil
}

func (s *Service) book(ctx context.Context, req Request) (model.Appointment, error) {
	if req.StaffID == "" {
		return model.Appointment{}, apperr.Invalid("staff_id", "required")
	}
	if req.ClientID == "" {
		return model.Appointment{}, apperr.Invalid("client_id", "required")
	}
	if req.ServiceID == "" {
		return model.Appointment{}, apperr.Invalid("service_id", "required")
	}
	if req.Start.IsZero() {
		return model.Appointment{}, apperr.Invalid("start", "required")
	}
	if req.Duration < 0 {
		return model.Appointment{}, apperr.Invalid("duration", "must be positive")
	}

	svc, err := s.catalog.Service(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, referenceError("service_id", "load service", err)
	}
	duration := req.Duration
	if duration == 0 {
		duration = svc.Duration
	}
	if duration <= 0 {
		return model.Appointment{}, apperr.Invalid("duration", "must be positive")
	}

	now := s.now()
	if req.Start.Before(now.Add(s.cfg.LeadTime)) {
		if s.cfg.LeadTime > 0 {
			return model.Appointment{}, apperr.Invalid("start", fmt.Sprintf("must be at least %s from now", s.cfg.LeadTime))
		}
		return model.Appointment{}, apperr.Invalid("start", "must be in the future")
	}
	if req.Start.After(now.Add(s.cfg.Horizon)) {
		return model.Appointment{}, apperr.Invalid("start", "beyond the booking horizon")
	}

	schedule, err := s.catalog.Schedule(ctx, req.StaffID)
	if err != nil {
		return model.Appointment{}, referenceError("staff_id", "load schedule", err)
	}

	appt := model.Appointment{
		ID:              s.newID(),
		StaffID:         req.StaffID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		Start:           req.Start.UTC(),
		Duration:        duration,
		Status:          model.StatusPending,
		WaitlistEntryID: req.WaitlistEntryID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !schedule.Covers(appt.Interval()) {
		return model.Appointment{}, apperr.Invalid("start", "outside the staff member's working hours")
	}

	unlock, err := s.lock(ctx, appt.StaffID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer unlock()

	err = s.store.InStaffTx(ctx, appt.StaffID, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ListOverlapping(ctx, appt.StaffID, appt.Interval())
		if err != nil {
			return err
		}
		if _, clash := conflict.FirstConflict(appt, existing); clash {
			return apperr.SlotUnavailable(appt.StaffID, appt.Start)
		}
		if err := tx.Insert(ctx, appt); err != nil {
			return err
		}
		evt, err := appointmentEvent(EventAppointmentBooked, appt)
		if err != nil {
			return err
		}
		return tx.AddEvent(ctx, evt)
	})
	if err != nil {
		return model.Appointment{}, apperr.Storage("book appointment", err)
	}
	return appt, nil
}

// Cancel moves an appointment to cancelled. Cancelling twice is rejected with
// apperr.ErrAlreadyCancelled and changes nothing.
func (s *Service) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	appt, err := s.transition(ctx, strings.TrimSpace(id), func(appt *model.Appointment, now time.Time) (bool, error) {
		switch appt.Status {
		case model.StatusCancelled:
			return false, apperr.AlreadyCancelled(appt.ID)
		case model.StatusCompleted:
			return false, apperr.Invalid("status", "completed appointments cannot be cancelled")
		}
		appt.Status = model.StatusCancelled
		appt.CancelledAt = &now
		appt.CancelReason = strings.TrimSpace(reason)
		return true, nil
	}, EventAppointmentCancelled)
	s.metrics.ObserveAction("cancel", resultLabel(err))
	if err != nil {
		recordSpanError(span, err)
		return model.Appointment{}, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "staff_id", appt.StaffID, "reason", appt.CancelReason)

	if s.freed != nil && appt.End().After(s.now()) {
		s.freed.SlotFreed(context.WithoutCancel(ctx), appt.StaffID, appt.Interval())
	}
	return appt, nil
}

// Confirm moves a pending appointment to confirmed. Confirming a confirmed appointment is a no-op.
func (s *Service) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Confirm", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	appt, err := s.transition(ctx, strings.TrimSpace(id), func(appt *model.Appointment, _ time.Time) (bool, error) {
		switch appt.Status {
		case model.StatusConfirmed:
			return false, nil
		case model.StatusCancelled:
			return false, apperr.AlreadyCancelled(appt.ID)
		case model.StatusCompleted:
			return false, apperr.Invalid("status", "completed appointments cannot be confirmed")
		}
		appt.Status = model.StatusConfirmed
		return true, nil
	}, EventAppointmentConfirmed)
	s.metrics.ObserveAction("confirm", resultLabel(err))
	if err != nil {
		recordSpanError(span, err)
		return model.Appointment{}, err
	}
	return appt, nil
}

// transition applies mutate to the current row inside the staff transaction. mutate reports
// whether anything changed; unchanged rows write neither state nor events.
func (s *Service) transition(ctx context.Context, id string, mutate func(*model.Appointment, time.Time) (bool, error), eventType string) (model.Appointment, error) {
	if id == "" {
		return model.Appointment{}, apperr.Invalid("appointment_id", "required")
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, apperr.Storage("load appointment", err)
	}

	unlock, err := s.lock(ctx, current.StaffID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer unlock()

	var out model.Appointment
	err = s.store.InStaffTx(ctx, current.StaffID, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		changed, err := mutate(&appt, now)
		if err != nil {
			return err
		}
		out = appt
		if !changed {
			return nil
		}
		appt.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, appt); err != nil {
			return err
		}
		evt, err := appointmentEvent(eventType, appt)
		if err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, evt); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, apperr.Storage("update appointment", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, apperr.Invalid("appointment_id", "required")
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, apperr.Storage("load appointment", err)
	}
	return appt, nil
}

// ListForClient returns a client's appointments, most recent start first.
func (s *Service) ListForClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, apperr.Invalid("client_id", "required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	appts, err := s.store.ListByClient(ctx, clientID, limit)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	return appts, nil
}

type SlotQuery struct {
	StaffID   string
	ServiceID string
	From      civil.Date
	To        civil.Date
}

// Slots loads the staff schedule, the service and the appointments in range, then returns the lazy
// slot sequence. Slots already in the past (or inside the lead time) and slots starting beyond
// the booking horizon are left out.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (iter.Seq[availability.Slot], error) {
	started := time.Now()
	seq, err := s.slots(ctx, q)
	s.metrics.ObserveSlotQuery(resultLabel(err), time.Since(started).Seconds())
	return seq, err
}

func (s *Service) slots(ctx context.Context, q SlotQuery) (iter.Seq[availability.Slot], error) {
	q.StaffID = strings.TrimSpace(q.StaffID)
	q.ServiceID = strings.TrimSpace(q.ServiceID)
	if q.StaffID == "" {
		return nil, apperr.Invalid("staff_id", "required")
	}
	if q.ServiceID == "" {
		return nil, apperr.Invalid("service_id", "required")
	}
	if !q.From.IsValid() || !q.To.IsValid() {
		return nil, apperr.Invalid("date_range", "from and to must be valid dates")
	}
	if q.To.Before(q.From) {
		return nil, apperr.InvalidRange(q.From.In(time.UTC), q.To.In(time.UTC))
	}
	if days := q.To.DaysSince(q.From) + 1; days > s.cfg.MaxSlotRangeDays {
		return nil, apperr.Invalid("date_range", fmt.Sprintf("at most %d days per query", s.cfg.MaxSlotRangeDays))
	}

	svc, err := s.catalog.Service(ctx, q.ServiceID)
	if err != nil {
		return nil, referenceError("service_id", "load service", err)
	}
	schedule, err := s.catalog.Schedule(ctx, q.StaffID)
	if err != nil {
		return nil, referenceError("staff_id", "load schedule", err)
	}

	loc := schedule.Location()
	window := timegrid.Interval{Start: q.From.In(loc), End: q.To.AddDays(1).In(loc)}
	existing, err := s.store.ListOverlapping(ctx, q.StaffID, window)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	now := s.now()
	return availability.Compute(ctx, schedule, existing, svc.Duration, q.From, q.To,
		availability.WithNow(now),
		availability.WithLeadTime(s.cfg.LeadTime),
		availability.WithLatestStart(now.Add(s.cfg.Horizon)),
	)
}

// CompleteElapsed marks every pending or confirmed appointment that has ended as completed.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	n, err := s.store.CompleteElapsed(ctx, s.now())
	if err != nil {
		return 0, apperr.Storage("complete elapsed appointments", err)
	}
	s.metrics.ObserveCompleted(n)
	return n, nil
}

// Schedule exposes the staff schedule so callers outside the package (the waitlist) reuse one catalog.
func (s *Service) Schedule(ctx context.Context, staffID string) (*timegrid.Schedule, error) {
	schedule, err := s.catalog.Schedule(ctx, staffID)
	if err != nil {
		return nil, apperr.Storage("load schedule", err)
	}
	return schedule, nil
}

func (s *Service) lock(ctx context.Context, staffID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, "staff:"+staffID)
	if err != nil {
		return nil, apperr.Storage("lock staff calendar", err)
	}
	return unlock, nil
}

// referenceError turns a missing staff member or service into a validation error on the request
// field that named it; anything else is a storage failure.
func referenceError(field, op string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid(field, "unknown "+strings.TrimSuffix(field, "_id"))
	}
	return apperr.Storage(op, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, apperr.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidRange):
		return "invalid"
	default:
		return "error"
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	if !apperr.IsDomain(err) {
		span.SetStatus(codes.Error, err.Error())
	}
}
