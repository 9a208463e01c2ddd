// Package memstore keeps appointments, reference data, waitlist entries and staged events in
// memory. It backs STORE_DRIVER=memory and the tests of the packages above it.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// DefaultEventRetention bounds the event log; there is no publisher draining it.
const DefaultEventRetention = 1000

type Store struct {
	mu        sync.RWMutex
	appts     map[string]model.Appointment
	schedules map[string]*timegrid.Schedule
	services  map[string]model.Service
	entries   map[string]model.WaitlistEntry
	events    []outbox.Event
	retention int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		appts:     make(map[string]model.Appointment),
		schedules: make(map[string]*timegrid.Schedule),
		services:  make(map[string]model.Service),
		entries:   make(map[string]model.WaitlistEntry),
		retention: DefaultEventRetention,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) PutSchedule(schedule *timegrid.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.StaffID()] = schedule
}

func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *Store) Schedule(_ context.Context, staffID string) (*timegrid.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[staffID]
	if !ok {
		return nil, apperr.NotFound("staff", staffID)
	}
	return schedule, nil
}

func (s *Store) Service(_ context.Context, serviceID string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return model.Service{}, apperr.NotFound("service", serviceID)
	}
	return svc, nil
}

// Events returns a copy of the staged events, oldest first.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *Store) EventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.EventType)
	}
	return out
}

func (s *Store) staffLock(staffID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[staffID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[staffID] = l
	}
	return l
}

// appendEventsLocked requires s.mu held for writing.
func (s *Store) appendEventsLocked(evts ...outbox.Event) {
	s.events = append(s.events, evts...)
	if over := len(s.events) - s.retention; over > 0 {
		s.events = slices.Delete(s.events, 0, over)
	}
}

func (s *Store) InStaffTx(ctx context.Context, staffID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.staffLock(staffID)
	l.Lock()
	defer l.Unlock()

	tx := &staffTx{store: s, staffID: staffID, staged: make(map[string]model.Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, appt := range tx.staged {
		s.appts[id] = appt
	}
	s.appendEventsLocked(tx.events...)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment", id)
	}
	return appt, nil
}

func (s *Store) ListOverlapping(_ context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlappingLocked(staffID, iv, nil), nil
}

// overlappingLocked merges committed rows with staged ones, staged taking precedence.
func (s *Store) overlappingLocked(staffID string, iv timegrid.Interval, staged map[string]model.Appointment) []model.Appointment {
	var out []model.Appointment
	for id, appt := range s.appts {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		if appt.StaffID == staffID && appt.Interval().Overlaps(iv) {
			out = append(out, appt)
		}
	}
	for _, appt := range staged {
		if appt.StaffID == staffID && appt.Interval().Overlaps(iv) {
			out = append(out, appt)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return a.Start.Compare(b.Start) })
	return out
}

func (s *Store) ListByClient(_ context.Context, clientID string, limit int) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.ClientID == clientID {
			out = append(out, appt)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int { return b.Start.Compare(a.Start) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	staff := make(map[string]struct{})
	for _, appt := range s.appts {
		if isElapsed(appt, now) {
			staff[appt.StaffID] = struct{}{}
		}
	}
	s.mu.RUnlock()

	total := 0
	for staffID := range staff {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		l := s.staffLock(staffID)
		l.Lock()
		s.mu.Lock()
		for id, appt := range s.appts {
			if appt.StaffID == staffID && isElapsed(appt, now) {
				appt.Status = model.StatusCompleted
				appt.UpdatedAt = now
				s.appts[id] = appt
				total++
			}
		}
		s.mu.Unlock()
		l.Unlock()
	}
	return total, nil
}

func isElapsed(appt model.Appointment, now time.Time) bool {
	return (appt.Status == model.StatusPending || appt.Status == model.StatusConfirmed) && !appt.End().After(now)
}

type staffTx struct {
	store   *Store
	staffID string
	staged  map[string]model.Appointment
	events  []outbox.Event
}

func (t *staffTx) ListOverlapping(_ context.Context, staffID string, iv timegrid.Interval) ([]model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.overlappingLocked(staffID, iv, t.staged), nil
}

func (t *staffTx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if appt, ok := t.staged[id]; ok {
		return appt, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	appt, ok := t.store.appts[id]
	if !ok || appt.StaffID != t.staffID {
		return model.Appointment{}, apperr.NotFound("appointment", id)
	}
	return appt, nil
}

func (t *staffTx) Insert(_ context.Context, appt model.Appointment) error {
	if appt.StaffID != t.staffID {
		return apperr.Invalid("staff_id", "transaction is scoped to another staff member")
	}
	if _, ok := t.staged[appt.ID]; ok {
		return apperr.Invalid("appointment_id", "duplicate id")
	}
	t.store.mu.RLock()
	_, exists := t.store.appts[appt.ID]
	t.store.mu.RUnlock()
	if exists {
		return apperr.Invalid("appointment_id", "duplicate id")
	}
	t.staged[appt.ID] = appt
	return nil
}

func (t *staffTx) UpdateStatus(ctx context.Context, appt model.Appointment) error {
	current, err := t.GetForUpdate(ctx, appt.ID)
	if err != nil {
		return err
	}
	current.Status = appt.Status
	current.CancelledAt = appt.CancelledAt
	current.CancelReason = appt.CancelReason
	current.UpdatedAt = appt.UpdatedAt
	t.staged[appt.ID] = current
	return nil
}

func (t *staffTx) AddEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

var (
	_ booking.Store   = (*Store)(nil)
	_ booking.Catalog = (*Store)(nil)
)
