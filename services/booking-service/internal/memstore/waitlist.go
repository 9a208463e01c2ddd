package memstore

import (
	"context"
	"slices"
	"strings"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
)

// WaitlistStore is a view of Store that satisfies waitlist.Store. Entries and events share the
// parent's lock and event log.
type WaitlistStore struct {
	s *Store
}

func (s *Store) Waitlist() *WaitlistStore { return &WaitlistStore{s: s} }

func (w *WaitlistStore) Insert(_ context.Context, entry model.WaitlistEntry) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.entries[entry.ID]; ok {
		return apperr.Invalid("entry_id", "duplicate id")
	}
	w.s.entries[entry.ID] = entry
	return nil
}

func (w *WaitlistStore) Get(_ context.Context, id string) (model.WaitlistEntry, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	entry, ok := w.s.entries[id]
	if !ok {
		return model.WaitlistEntry{}, apperr.NotFound("waitlist entry", id)
	}
	return entry, nil
}

func (w *WaitlistStore) Delete(_ context.Context, id string) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.entries[id]; !ok {
		return apperr.NotFound("waitlist entry", id)
	}
	delete(w.s.entries, id)
	return nil
}

func (w *WaitlistStore) ListForStaff(_ context.Context, staffID string, iv timegrid.Interval) ([]model.WaitlistEntry, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	var out []model.WaitlistEntry
	for _, entry := range w.s.entries {
		if entry.StaffID == staffID && entry.Window().Overlaps(iv) {
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b model.WaitlistEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (w *WaitlistStore) Promoted(_ context.Context, entry model.WaitlistEntry, appt model.Appointment) error {
	evt, err := waitlist.NewPromotedEvent(entry, appt)
	if err != nil {
		return err
	}
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.entries[entry.ID]; !ok {
		return apperr.NotFound("waitlist entry", entry.ID)
	}
	delete(w.s.entries, entry.ID)
	w.s.appendEventsLocked(evt)
	return nil
}

var _ waitlist.Store = (*WaitlistStore)(nil)
