package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// ScheduleRepository reads staff schedules and the service menu. It implements booking.Catalog.
type ScheduleRepository struct {
	db DB
}

func NewScheduleRepository(db DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Service(ctx context.Context, serviceID string) (model.Service, error) {
	var (
		svc     model.Service
		minutes int
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.Name, &minutes, &svc.PriceCents)
	if err != nil {
		return model.Service{}, notFound(err, "service", serviceID)
	}
	svc.Duration = time.Duration(minutes) * time.Minute
	return svc, nil
}

func (r *ScheduleRepository) Schedule(ctx context.Context, staffID string) (*timegrid.Schedule, error) {
	var (
		tz          string
		granularity int
	)
	err := r.db.QueryRow(ctx, `
		SELECT time_zone, slot_granularity_minutes
		FROM staff
		WHERE id = $1
	`, staffID).Scan(&tz, &granularity)
	if err != nil {
		return nil, notFound(err, "staff", staffID)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("staff %s time zone %q: %w", staffID, tz, err)
	}

	weekly, err := r.weeklyWindows(ctx, staffID)
	if err != nil {
		return nil, err
	}
	exceptions, err := r.exceptions(ctx, staffID)
	if err != nil {
		return nil, err
	}

	schedule, err := timegrid.NewSchedule(timegrid.Config{
		StaffID:     staffID,
		Location:    loc,
		Granularity: time.Duration(granularity) * time.Minute,
		Weekly:      weekly,
		Exceptions:  exceptions,
	})
	if err != nil {
		// Stored schedules are validated on write; a bad row is a data problem, not a caller error.
		return nil, fmt.Errorf("stored schedule for staff %s: %v", staffID, err)
	}
	return schedule, nil
}

func (r *ScheduleRepository) weeklyWindows(ctx context.Context, staffID string) ([]timegrid.WeeklyWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM staff_weekly_windows
		WHERE staff_id = $1
		ORDER BY weekday, start_minute
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timegrid.WeeklyWindow
	for rows.Next() {
		var weekday, start, end int
		if err := rows.Scan(&weekday, &start, &end); err != nil {
			return nil, err
		}
		out = append(out, timegrid.WeeklyWindow{
			Weekday: time.Weekday(weekday),
			Window:  timegrid.Window{Start: timegrid.TimeOfDay(start), End: timegrid.TimeOfDay(end)},
		})
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) exceptions(ctx context.Context, staffID string) ([]timegrid.Exception, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.exception_date, e.closed, w.start_minute, w.end_minute
		FROM staff_exceptions e
		LEFT JOIN staff_exception_windows w
			ON w.staff_id = e.staff_id AND w.exception_date = e.exception_date
		WHERE e.staff_id = $1
		ORDER BY e.exception_date, w.start_minute
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timegrid.Exception
	for rows.Next() {
		var (
			day        time.Time
			closed     bool
			start, end *int
		)
		if err := rows.Scan(&day, &closed, &start, &end); err != nil {
			return nil, err
		}
		date := civil.DateOf(day)
		if n := len(out); n == 0 || out[n-1].Date != date {
			out = append(out, timegrid.Exception{Date: date, Closed: closed})
		}
		if start != nil && end != nil {
			last := &out[len(out)-1]
			last.Windows = append(last.Windows, timegrid.Window{Start: timegrid.TimeOfDay(*start), End: timegrid.TimeOfDay(*end)})
		}
	}
	return out, rows.Err()
}

var _ booking.Catalog = (*ScheduleRepository)(nil)
