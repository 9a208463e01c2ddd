package conflict

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func appt(id, staff string, h, m, mins int, status model.Status) model.Appointment {
	return model.Appointment{
		ID:       id,
		StaffID:  staff,
		Start:    time.Date(2026, 1, 28, h, m, 0, 0, time.UTC),
		Duration: time.Duration(mins) * time.Minute,
		Status:   status,
	}
}

func TestHasConflict(t *testing.T) {
	existing := []model.Appointment{
		appt("1", "A", 10, 0, 30, model.StatusConfirmed),
		appt("2", "A", 12, 0, 60, model.StatusPending),
		appt("3", "A", 14, 0, 60, model.StatusCancelled),
		appt("4", "A", 15, 0, 60, model.StatusCompleted),
		appt("5", "B", 9, 0, 60, model.StatusConfirmed),
	}

	tests := []struct {
		name      string
		candidate model.Appointment
		want      bool
	}{
		{"same slot", appt("", "A", 10, 0, 30, model.StatusPending), true},
		{"ends where existing starts", appt("", "A", 9, 30, 30, model.StatusPending), false},
		{"starts where existing ends", appt("", "A", 10, 30, 30, model.StatusPending), false},
		{"straddles start", appt("", "A", 9, 45, 30, model.StatusPending), true},
		{"inside pending", appt("", "A", 12, 15, 15, model.StatusPending), true},
		{"cancelled never blocks", appt("", "A", 14, 0, 60, model.StatusPending), false},
		{"completed never blocks", appt("", "A", 15, 30, 30, model.StatusPending), false},
		{"other staff ignored", appt("", "A", 9, 0, 30, model.StatusPending), false},
		{"self ignored", appt("1", "A", 10, 0, 30, model.StatusConfirmed), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasConflict(tt.candidate, existing))
		})
	}
}

func TestFirstConflictReturnsEarliest(t *testing.T) {
	existing := []model.Appointment{
		appt("late", "A", 11, 0, 30, model.StatusConfirmed),
		appt("early", "A", 10, 0, 30, model.StatusConfirmed),
	}
	got, ok := FirstConflict(appt("", "A", 9, 0, 180, model.StatusPending), existing)
	assert.True(t, ok)
	assert.Equal(t, "early", got.ID)
}

func TestBlockingFiltersAndSorts(t *testing.T) {
	existing := []model.Appointment{
		appt("2", "A", 12, 0, 60, model.StatusPending),
		appt("1", "A", 10, 0, 30, model.StatusConfirmed),
		appt("3", "A", 11, 0, 30, model.StatusCancelled),
		appt("4", "B", 9, 0, 30, model.StatusConfirmed),
	}
	got := Blocking("A", existing)
	if assert.Len(t, got, 2) {
		assert.Equal(t, 10, got[0].Start.Hour())
		assert.Equal(t, 12, got[1].Start.Hour())
	}
	assert.True(t, Blocks(model.StatusPending))
	assert.True(t, Blocks(model.StatusConfirmed))
	assert.False(t, Blocks(model.StatusCancelled))
	assert.False(t, Blocks(model.StatusCompleted))
}
