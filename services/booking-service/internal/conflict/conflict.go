// Package conflict is the only place that decides whether two appointments collide.
// The availability calculator and the booking orchestrator both go through it.
package conflict

import (
	"sort"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// Blocks reports whether an appointment in this status occupies its interval.
func Blocks(status model.Status) bool {
	return status == model.StatusPending || status == model.StatusConfirmed
}

// Blocking returns the intervals of staffID's appointments that can cause a conflict, sorted by start.
func Blocking(staffID string, existing []model.Appointment) []timegrid.Interval {
	var out []timegrid.Interval
	for _, a := range existing {
		if a.StaffID != staffID || !Blocks(a.Status) || a.Duration <= 0 {
			continue
		}
		out = append(out, a.Interval())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// HasConflict reports whether candidate overlaps any blocking appointment of the same staff member.
func HasConflict(candidate model.Appointment, existing []model.Appointment) bool {
	_, ok := FirstConflict(candidate, existing)
	return ok
}

// FirstConflict returns the earliest-starting appointment that collides with candidate.
// An appointment never conflicts with itself (same ID).
func FirstConflict(candidate model.Appointment, existing []model.Appointment) (model.Appointment, bool) {
	want := candidate.Interval()
	var (
		found model.Appointment
		ok    bool
	)
	for _, a := range existing {
		if a.StaffID != candidate.StaffID || !Blocks(a.Status) || a.Duration <= 0 {
			continue
		}
		if candidate.ID != "" && a.ID == candidate.ID {
			continue
		}
		if !a.Interval().Overlaps(want) {
			continue
		}
		if !ok || a.Start.Before(found.Start) {
			found, ok = a, true
		}
	}
	return found, ok
}
