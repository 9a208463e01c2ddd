package waitlist_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	monday    = time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)
	wednesday = civil.Date{Year: 2026, Month: 1, Day: 28}
)

func at(h, m int) time.Time {
	return time.Date(wednesday.Year, wednesday.Month, wednesday.Day, h, m, 0, 0, time.UTC)
}

type fixture struct {
	store   *memstore.Store
	booking *booking.Service
	manager *waitlist.Manager
}

// tickingClock advances one second per call so queue order follows call order.
func tickingClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time { return monday.Add(time.Duration(n.Add(1)) * time.Second) }
}

func newFixture(t *testing.T) fixture {
	return newFixtureWith(t, fixtureConfig{
		bookingNow:  func() time.Time { return monday },
		waitlistNow: tickingClock(),
	})
}

type fixtureConfig struct {
	bookingNow  func() time.Time
	waitlistNow func() time.Time
	leadTime    time.Duration
}

func newFixtureWith(t *testing.T, cfg fixtureConfig) fixture {
	t.Helper()
	var weekly []timegrid.WeeklyWindow
	for d := time.Monday; d <= time.Friday; d++ {
		weekly = append(weekly, timegrid.WeeklyWindow{Weekday: d, Window: timegrid.Window{Start: timegrid.Clock(9, 0), End: timegrid.Clock(17, 0)}})
	}
	schedule, err := timegrid.NewSchedule(timegrid.Config{StaffID: "A", Granularity: 30 * time.Minute, Weekly: weekly})
	require.NoError(t, err)

	store := memstore.New()
	store.PutSchedule(schedule)
	store.PutService(model.Service{ID: "cut", Duration: 30 * time.Minute})
	store.PutService(model.Service{ID: "beard", Duration: 45 * time.Minute})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var ids atomic.Int64
	svc := booking.NewService(store, store, logger, booking.Config{LeadTime: cfg.leadTime},
		booking.WithClock(cfg.bookingNow),
		booking.WithIDGenerator(func() string { return fmt.Sprintf("appt-%d", ids.Add(1)) }),
	)
	var entryIDs atomic.Int64
	mgr := waitlist.NewManager(store.Waitlist(), svc, store, logger,
		waitlist.WithClock(cfg.waitlistNow),
		waitlist.WithLeadTime(cfg.leadTime),
		waitlist.WithIDGenerator(func() string { return fmt.Sprintf("wl-%d", entryIDs.Add(1)) }),
	)
	svc.SetWaitlistHook(mgr)
	return fixture{store: store, booking: svc, manager: mgr}
}

func (f fixture) enqueue(t *testing.T, client, service string, from, to time.Time) string {
	t.Helper()
	id, err := f.manager.Enqueue(context.Background(), waitlist.EnqueueRequest{
		ClientID: client, StaffID: "A", ServiceID: service, From: from, To: to,
	})
	require.NoError(t, err)
	return id
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  waitlist.EnqueueRequest
		want error
	}{
		{"missing client", waitlist.EnqueueRequest{StaffID: "A", ServiceID: "cut", From: at(9, 0), To: at(12, 0)}, apperr.ErrValidation},
		{"missing window", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "cut"}, apperr.ErrValidation},
		{"end before start", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "cut", From: at(12, 0), To: at(9, 0)}, apperr.ErrInvalidRange},
		{"empty window", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "cut", From: at(9, 0), To: at(9, 0)}, apperr.ErrInvalidRange},
		{"in the past", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "cut", From: monday.Add(-2 * time.Hour), To: monday.Add(-time.Hour)}, apperr.ErrValidation},
		{"unknown service", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "perm", From: at(9, 0), To: at(12, 0)}, apperr.ErrValidation},
		{"unknown staff", waitlist.EnqueueRequest{ClientID: "c", StaffID: "Z", ServiceID: "cut", From: at(9, 0), To: at(12, 0)}, apperr.ErrValidation},
		{"window shorter than service", waitlist.EnqueueRequest{ClientID: "c", StaffID: "A", ServiceID: "beard", From: at(9, 0), To: at(9, 30)}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Enqueue(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPromoteNextIsFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taken, err := f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "c0", ServiceID: "cut", Start: at(10, 0)})
	require.NoError(t, err)

	first := f.enqueue(t, "c1", "cut", at(9, 0), at(12, 0))
	second := f.enqueue(t, "c2", "cut", at(9, 0), at(12, 0))
	third := f.enqueue(t, "c3", "cut", at(10, 0), at(11, 0))

	_, err = f.booking.Cancel(ctx, taken.ID, "")
	require.NoError(t, err)

	appt, ok, err := f.manager.PromoteNext(ctx, "A", taken.Interval())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", appt.ClientID)
	assert.Equal(t, at(10, 0), appt.Start)
	assert.Equal(t, first, appt.WaitlistEntryID)

	wl := f.store.Waitlist()
	_, err = wl.Get(ctx, first)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "promoted entry is removed")
	for _, id := range []string{second, third} {
		_, err = wl.Get(ctx, id)
		assert.NoError(t, err)
	}
	assert.Contains(t, f.store.EventTypes(), waitlist.EventEntryPromoted)
}

func TestPromoteNextSkipsWhatDoesNotFit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	freed := timegrid.Interval{Start: at(10, 0), End: at(10, 30)}

	f.enqueue(t, "beard-fan", "beard", at(9, 0), at(12, 0))
	f.enqueue(t, "late", "cut", at(10, 15), at(12, 0))
	f.enqueue(t, "elsewhere", "cut", at(14, 0), at(16, 0))
	fits := f.enqueue(t, "fits", "cut", at(9, 30), at(10, 30))

	appt, ok, err := f.manager.PromoteNext(ctx, "A", freed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fits", appt.ClientID)
	assert.Equal(t, fits, appt.WaitlistEntryID)
}

func TestPromoteNextMovesOnWhenSlotTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	freed := timegrid.Interval{Start: at(10, 0), End: at(11, 0)}

	f.enqueue(t, "c1", "cut", at(10, 0), at(10, 30))
	f.enqueue(t, "c2", "cut", at(10, 30), at(11, 0))

	// Someone books 10:00 directly before promotion runs.
	_, err := f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "walk-in", ServiceID: "cut", Start: at(10, 0)})
	require.NoError(t, err)

	appt, ok, err := f.manager.PromoteNext(ctx, "A", freed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", appt.ClientID)
	assert.Equal(t, at(10, 30), appt.Start)

	_, err = f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "walk-in", ServiceID: "cut", Start: at(14, 0)})
	require.NoError(t, err)
	_, ok, err = f.manager.PromoteNext(ctx, "A", timegrid.Interval{Start: at(14, 0), End: at(14, 30)})
	require.NoError(t, err)
	assert.False(t, ok, "nobody waits for 14:00")
}

func TestPromoteNextFillsRemainderOfStartedAppointment(t *testing.T) {
	tests := []struct {
		name      string
		leadTime  time.Duration
		wantStart time.Time
	}{
		{"next grid start after now", 0, at(10, 0)},
		{"lead time pushes to a later grid start", 45 * time.Minute, at(10, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nowNanos atomic.Int64
			nowNanos.Store(monday.UnixNano())
			clock := func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() }
			f := newFixtureWith(t, fixtureConfig{bookingNow: clock, waitlistNow: clock, leadTime: tt.leadTime})
			ctx := context.Background()

			long, err := f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "c0", ServiceID: "cut", Start: at(9, 0), Duration: 2 * time.Hour})
			require.NoError(t, err)
			tooEarly := f.enqueue(t, "early", "cut", at(9, 0), at(9, 45))
			waiting := f.enqueue(t, "c1", "cut", at(9, 0), at(11, 0))

			// The appointment is 40 minutes in when it is cancelled.
			nowNanos.Store(at(9, 40).UnixNano())
			_, err = f.booking.Cancel(ctx, long.ID, "")
			require.NoError(t, err)

			appt, ok, err := f.manager.PromoteNext(ctx, "A", long.Interval())
			require.NoError(t, err)
			require.True(t, ok, "the rest of the freed time is still bookable")
			assert.Equal(t, "c1", appt.ClientID)
			assert.Equal(t, waiting, appt.WaitlistEntryID)
			assert.Equal(t, tt.wantStart, appt.Start)

			_, err = f.store.Waitlist().Get(ctx, tooEarly)
			assert.NoError(t, err, "an entry whose window has passed stays queued")
		})
	}
}

func TestPromoteNextIgnoresFullyElapsedTime(t *testing.T) {
	var nowNanos atomic.Int64
	nowNanos.Store(monday.UnixNano())
	clock := func() time.Time { return time.Unix(0, nowNanos.Load()).UTC() }
	f := newFixtureWith(t, fixtureConfig{bookingNow: clock, waitlistNow: clock})
	ctx := context.Background()

	f.enqueue(t, "c1", "cut", at(9, 0), at(11, 0))
	nowNanos.Store(at(12, 0).UnixNano())

	_, ok, err := f.manager.PromoteNext(ctx, "A", timegrid.Interval{Start: at(9, 0), End: at(10, 0)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.enqueue(t, "c1", "cut", at(9, 0), at(12, 0))
	require.NoError(t, f.manager.Withdraw(ctx, id))
	assert.ErrorIs(t, f.manager.Withdraw(ctx, id), apperr.ErrNotFound)
	assert.ErrorIs(t, f.manager.Withdraw(ctx, ""), apperr.ErrValidation)
}

func TestClientBookingFromEntryClearsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.enqueue(t, "c1", "cut", at(9, 0), at(12, 0))
	other := f.enqueue(t, "c2", "cut", at(9, 0), at(12, 0))

	_, err := f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "c1", ServiceID: "cut", Start: at(11, 0), WaitlistEntryID: id})
	require.NoError(t, err)
	_, err = f.store.Waitlist().Get(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// A booking that names someone else's entry leaves it queued.
	_, err = f.booking.Book(ctx, booking.Request{StaffID: "A", ClientID: "c1", ServiceID: "cut", Start: at(11, 30), WaitlistEntryID: other})
	require.NoError(t, err)
	_, err = f.store.Waitlist().Get(ctx, other)
	assert.NoError(t, err)
}
