// Package availability derives bookable slots from a staff schedule and the appointments
// already on it. Nothing here touches storage; callers pass the appointments in.
package availability

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// Slot is a computed candidate appointment window. It is never stored.
type Slot struct {
	StaffID  string
	Start    time.Time
	Duration time.Duration
}

func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

func (s Slot) Interval() timegrid.Interval {
	return timegrid.Interval{Start: s.Start, End: s.End()}
}

type options struct {
	now         time.Time
	leadTime    time.Duration
	latestStart time.Time
}

type Option func(*options)

// WithNow drops slots that start before now (plus any lead time).
func WithNow(now time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLeadTime sets the minimum notice between now and a slot's start. It only applies with WithNow.
func WithLeadTime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leadTime = d
		}
	}
}

// WithLatestStart ends the sequence at the first slot starting after t.
func WithLatestStart(t time.Time) Option {
	return func(o *options) { o.latestStart = t }
}

// Compute returns the bookable slots for schedule's staff member on the inclusive date range
// [from, to], ordered by start. Only existing appointments the conflict guard treats as blocking
// are subtracted. The sequence is lazy and can be ranged over more than once; cancelling ctx ends
// it early without error.
func Compute(ctx context.Context, schedule *timegrid.Schedule, existing []model.Appointment, serviceDuration time.Duration, from, to civil.Date, opts ...Option) (iter.Seq[Slot], error) {
	if schedule == nil {
		return nil, apperr.Invalid("schedule", "required")
	}
	if serviceDuration <= 0 {
		return nil, apperr.Invalid("service_duration", "must be positive")
	}
	if !from.IsValid() || !to.IsValid() {
		return nil, apperr.Invalid("date_range", fmt.Sprintf("%s..%s is not a valid date range", from, to))
	}
	if to.Before(from) {
		loc := schedule.Location()
		return nil, apperr.InvalidRange(from.In(loc), to.In(loc))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var earliest time.Time
	if !o.now.IsZero() {
		earliest = o.now.Add(o.leadTime)
	}

	busy := conflict.Blocking(schedule.StaffID(), existing)
	step := schedule.Granularity()
	staffID := schedule.StaffID()

	return func(yield func(Slot) bool) {
		for d := from; !d.After(to); d = d.AddDays(1) {
			if ctx.Err() != nil {
				return
			}
			for _, open := range schedule.OpenIntervals(d) {
				for _, free := range open.Subtract(busy) {
					more := walk(open.Start, free, serviceDuration, step, earliest, func(start time.Time) bool {
						if ctx.Err() != nil {
							return false
						}
						// Slots come out in start order, so nothing later can qualify either.
						if !o.latestStart.IsZero() && start.After(o.latestStart) {
							return false
						}
						return yield(Slot{StaffID: staffID, Start: start, Duration: serviceDuration})
					})
					if !more {
						return
					}
				}
			}
		}
	}, nil
}

// walk yields every start t on the grid anchored at anchor with t >= earliest such that
// [t, t+duration) fits inside free. It returns false if yield asked to stop.
func walk(anchor time.Time, free timegrid.Interval, duration, step time.Duration, earliest time.Time, yield func(time.Time) bool) bool {
	first := free.Start
	if earliest.After(first) {
		first = earliest
	}
	if rem := first.Sub(anchor) % step; rem != 0 {
		first = first.Add(step - rem)
	}
	for t := first; !t.Add(duration).After(free.End); t = t.Add(step) {
		if !yield(t) {
			return false
		}
	}
	return true
}
