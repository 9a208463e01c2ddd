package model

import (
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Appointment struct {
	ID              string
	StaffID         string
	ClientID        string
	ServiceID       string
	Start           time.Time
	Duration        time.Duration
	Status          Status
	WaitlistEntryID string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time { return a.Start.Add(a.Duration) }

func (a Appointment) Interval() timegrid.Interval {
	return timegrid.Interval{Start: a.Start, End: a.End()}
}

// Service is a treatment offered by the shop.
type Service struct {
	ID         string
	Name       string
	Duration   time.Duration
	PriceCents int64
}

// WaitlistEntry is a client's standing request for any time in [From, To) with a staff member.
type WaitlistEntry struct {
	ID        string
	ClientID  string
	StaffID   string
	ServiceID string
	From      time.Time
	To        time.Time
	CreatedAt time.Time
}

func (e WaitlistEntry) Window() timegrid.Interval {
	return timegrid.Interval{Start: e.From, End: e.To}
}
