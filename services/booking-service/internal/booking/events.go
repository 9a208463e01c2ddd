package booking

import (
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
)

const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentConfirmed = "booking.appointment.confirmed.v1"

	aggregateAppointment = "appointment"
)

// AppointmentEvent is the payload of every booking.appointment.* event.
type AppointmentEvent struct {
	AppointmentID   string `json:"appointment_id"`
	StaffID         string `json:"staff_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	Status          string `json:"status"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	WaitlistEntryID string `json:"waitlist_entry_id,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func NewAppointmentEvent(appt model.Appointment) AppointmentEvent {
	evt := AppointmentEvent{
		AppointmentID:   appt.ID,
		StaffID:         appt.StaffID,
		ClientID:        appt.ClientID,
		ServiceID:       appt.ServiceID,
		Status:          string(appt.Status),
		StartTime:       appt.Start.UTC().Format(time.RFC3339Nano),
		EndTime:         appt.End().UTC().Format(time.RFC3339Nano),
		WaitlistEntryID: appt.WaitlistEntryID,
		Reason:          appt.CancelReason,
	}
	if appt.CancelledAt != nil {
		evt.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339Nano)
	}
	return evt
}

// Times parses the event's start and end back into times.
func (e AppointmentEvent) Times() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339Nano, e.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(time.RFC3339Nano, e.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func appointmentEvent(eventType string, appt model.Appointment) (outbox.Event, error) {
	return outbox.NewEvent(aggregateAppointment, appt.ID, eventType, NewAppointmentEvent(appt))
}
