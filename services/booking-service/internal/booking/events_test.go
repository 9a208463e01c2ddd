package booking_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppointmentEventKeepsSubsecondTimes(t *testing.T) {
	start := time.Date(2026, 1, 28, 10, 0, 0, 250_000_000, time.UTC)
	appt := model.Appointment{
		ID: "appt-1", StaffID: "A", ClientID: "c1", ServiceID: "cut",
		Start: start, Duration: 30*time.Minute + 1500*time.Millisecond, Status: model.StatusCancelled,
	}

	body, err := json.Marshal(booking.NewAppointmentEvent(appt))
	require.NoError(t, err)
	var decoded booking.AppointmentEvent
	require.NoError(t, json.Unmarshal(body, &decoded))

	gotStart, gotEnd, err := decoded.Times()
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(appt.Start), "start %s", gotStart)
	assert.True(t, gotEnd.Equal(appt.End()), "end %s", gotEnd)
}
