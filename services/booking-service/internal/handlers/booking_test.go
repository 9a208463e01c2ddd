package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-01-26 is a Monday.
var monday = time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	var weekly []timegrid.WeeklyWindow
	for d := time.Monday; d <= time.Friday; d++ {
		weekly = append(weekly, timegrid.WeeklyWindow{Weekday: d, Window: timegrid.Window{Start: timegrid.Clock(9, 0), End: timegrid.Clock(17, 0)}})
	}
	schedule, err := timegrid.NewSchedule(timegrid.Config{StaffID: "A", Granularity: 30 * time.Minute, Weekly: weekly})
	require.NoError(t, err)

	store := memstore.New()
	store.PutSchedule(schedule)
	store.PutService(model.Service{ID: "cut", Name: "Haircut", Duration: 30 * time.Minute})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return monday }
	var ids atomic.Int64
	svc := booking.NewService(store, store, logger, booking.Config{},
		booking.WithClock(now),
		booking.WithIDGenerator(func() string { return fmt.Sprintf("appt-%d", ids.Add(1)) }),
	)
	wl := waitlist.NewManager(store.Waitlist(), svc, store, logger,
		waitlist.WithClock(now),
		waitlist.WithIDGenerator(func() string { return fmt.Sprintf("wl-%d", ids.Add(1)) }),
	)
	svc.SetWaitlistHook(wl)

	mux := http.NewServeMux()
	NewBookingHandler(svc, wl, logger, booking.DefaultRetryPolicy()).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBookAndSlots(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/api/v1/public/book", createBookingRequest{
		StaffID: "A", ClientID: "c1", ServiceID: "cut", StartTime: "2026-01-28T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[appointmentItem](t, rec)
	assert.Equal(t, "pending", appt.Status)
	assert.Equal(t, "2026-01-28T10:30:00Z", appt.EndTime)

	rec = do(t, mux, http.MethodGet, "/api/v1/public/slots?staff_id=A&service_id=cut&date=2026-01-28", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decode[struct {
		Slots []slotItem `json:"slots"`
	}](t, rec).Slots
	require.Len(t, slots, 15)
	for _, s := range slots {
		assert.NotEqual(t, "2026-01-28T10:00:00Z", s.StartTime)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/public/slots?staff_id=A&service_id=cut&date=2026-01-28&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Slots []slotItem `json:"slots"`
	}](t, rec).Slots, 2)
}

func TestErrorStatuses(t *testing.T) {
	mux := newTestMux(t)
	book := createBookingRequest{StaffID: "A", ClientID: "c1", ServiceID: "cut", StartTime: "2026-01-28T10:00:00Z"}
	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/api/v1/public/book", book).Code)

	cases := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"conflict", http.MethodPost, "/api/v1/public/book", createBookingRequest{StaffID: "A", ClientID: "c2", ServiceID: "cut", StartTime: "2026-01-28T10:15:00Z"}, http.StatusConflict},
		{"outside hours", http.MethodPost, "/api/v1/public/book", createBookingRequest{StaffID: "A", ClientID: "c2", ServiceID: "cut", StartTime: "2026-01-28T18:00:00Z"}, http.StatusBadRequest},
		{"bad time", http.MethodPost, "/api/v1/public/book", createBookingRequest{StaffID: "A", ClientID: "c2", ServiceID: "cut", StartTime: "tomorrow"}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/v1/public/book", nil, http.StatusMethodNotAllowed},
		{"unknown appointment", http.MethodGet, "/api/v1/appointments/get?appointment_id=nope", nil, http.StatusNotFound},
		{"inverted range", http.MethodGet, "/api/v1/public/slots?staff_id=A&service_id=cut&from=2026-01-29&to=2026-01-28", nil, http.StatusBadRequest},
		{"bad date", http.MethodGet, "/api/v1/public/slots?staff_id=A&service_id=cut&from=28-01-2026", nil, http.StatusBadRequest},
		{"missing client", http.MethodGet, "/api/v1/appointments", nil, http.StatusBadRequest},
		{"cancel unknown", http.MethodPost, "/api/v1/appointments/cancel", appointmentIDRequest{AppointmentID: "nope"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCancelConfirmAndList(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/public/book", createBookingRequest{
		StaffID: "A", ClientID: "c1", ServiceID: "cut", StartTime: "2026-01-28T11:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[appointmentItem](t, rec).AppointmentID

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/confirm", appointmentIDRequest{AppointmentID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[appointmentItem](t, rec).Status)

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", appointmentIDRequest{AppointmentID: id, Reason: "sick"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[appointmentItem](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "sick", cancelled.CancelReason)
	assert.NotEmpty(t, cancelled.CancelledAt)

	rec = do(t, mux, http.MethodPost, "/api/v1/appointments/cancel", appointmentIDRequest{AppointmentID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/v1/appointments?client_id=c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Appointments []appointmentItem `json:"appointments"`
	}](t, rec).Appointments
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].AppointmentID)
}

func TestBookEarliest(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/public/book/earliest", earliestBookingRequest{
		StaffID: "A", ClientID: "c1", ServiceID: "cut", NotBefore: "2026-01-28T09:10:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2026-01-28T09:30:00Z", decode[appointmentItem](t, rec).StartTime)
}

func TestWaitlistEnqueueAndWithdraw(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/waitlist", enqueueRequest{
		ClientID: "c9", StaffID: "A", ServiceID: "cut", From: "2026-01-28T09:00:00Z", To: "2026-01-28T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["entry_id"]
	require.NotEmpty(t, id)

	rec = do(t, mux, http.MethodPost, "/api/v1/waitlist", enqueueRequest{
		ClientID: "c9", StaffID: "A", ServiceID: "cut", From: "2026-01-28T12:00:00Z", To: "2026-01-28T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, do(t, mux, http.MethodPost, "/api/v1/waitlist/withdraw", waitlistIDRequest{EntryID: id}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodPost, "/api/v1/waitlist/withdraw", waitlistIDRequest{EntryID: id}).Code)
}
