package waitlist

import (
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
)

const EventEntryPromoted = "waitlist.entry.promoted.v1"

type PromotedEvent struct {
	EntryID       string `json:"entry_id"`
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	QueuedAt      string `json:"queued_at"`
}

// NewPromotedEvent builds the outbox event stores stage when they delete a fulfilled entry.
func NewPromotedEvent(entry model.WaitlistEntry, appt model.Appointment) (outbox.Event, error) {
	return outbox.NewEvent("waitlist_entry", entry.ID, EventEntryPromoted, PromotedEvent{
		EntryID:       entry.ID,
		AppointmentID: appt.ID,
		ClientID:      entry.ClientID,
		StaffID:       entry.StaffID,
		ServiceID:     entry.ServiceID,
		StartTime:     appt.Start.UTC().Format(time.RFC3339Nano),
		EndTime:       appt.End().UTC().Format(time.RFC3339Nano),
		QueuedAt:      entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}
