// Package timegrid turns a staff member's weekly hours and date exceptions into concrete
// open intervals. Everything here is pure; a Schedule is immutable once built.
package timegrid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time as minutes since midnight. 24:00 (1440) is a valid window end.
type TimeOfDay int

func Clock(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

// ParseTimeOfDay accepts "HH:MM" in 24h form, including "24:00".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, apperr.Invalid("time", fmt.Sprintf("%q is not HH:MM", s))
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || m < 0 || m > 59 || len(mm) != 2 {
		return 0, apperr.Invalid("time", fmt.Sprintf("%q is not HH:MM", s))
	}
	t := Clock(h, m)
	if t > minutesPerDay {
		return 0, apperr.Invalid("time", fmt.Sprintf("%q is past 24:00", s))
	}
	return t, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Window is a wall-clock range [Start, End) within one day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

type WeeklyWindow struct {
	Weekday time.Weekday
	Window
}

// Exception replaces the weekly windows of one date. Closed and Windows are mutually exclusive.
type Exception struct {
	Date    civil.Date
	Closed  bool
	Windows []Window
}

type Config struct {
	StaffID     string
	Location    *time.Location
	Granularity time.Duration
	Weekly      []WeeklyWindow
	Exceptions  []Exception
}

type Schedule struct {
	staffID     string
	loc         *time.Location
	granularity time.Duration
	weekly      map[time.Weekday][]Window
	exceptions  map[civil.Date]Exception
}

// NewSchedule validates cfg and returns an immutable schedule. A nil Location means UTC.
func NewSchedule(cfg Config) (*Schedule, error) {
	if strings.TrimSpace(cfg.StaffID) == "" {
		return nil, apperr.Invalid("staff_id", "required")
	}
	if cfg.Granularity <= 0 || cfg.Granularity%time.Minute != 0 {
		return nil, apperr.Invalid("granularity", "must be a positive whole number of minutes")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Schedule{
		staffID:     cfg.StaffID,
		loc:         loc,
		granularity: cfg.Granularity,
		weekly:      make(map[time.Weekday][]Window),
		exceptions:  make(map[civil.Date]Exception, len(cfg.Exceptions)),
	}

	for _, ww := range cfg.Weekly {
		if ww.Weekday < time.Sunday || ww.Weekday > time.Saturday {
			return nil, apperr.Invalid("weekday", fmt.Sprintf("%d is not a weekday", ww.Weekday))
		}
		s.weekly[ww.Weekday] = append(s.weekly[ww.Weekday], ww.Window)
	}
	for day, windows := range s.weekly {
		sorted, err := normalizeWindows(windows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", day, err)
		}
		s.weekly[day] = sorted
	}

	for _, ex := range cfg.Exceptions {
		if !ex.Date.IsValid() {
			return nil, apperr.Invalid("exception_date", fmt.Sprintf("%s is not a valid date", ex.Date))
		}
		if _, dup := s.exceptions[ex.Date]; dup {
			return nil, apperr.Invalid("exception_date", fmt.Sprintf("%s has more than one exception", ex.Date))
		}
		if ex.Closed == (len(ex.Windows) > 0) {
			return nil, apperr.Invalid("exception", fmt.Sprintf("%s must be either closed or carry override windows", ex.Date))
		}
		sorted, err := normalizeWindows(ex.Windows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ex.Date, err)
		}
		s.exceptions[ex.Date] = Exception{Date: ex.Date, Closed: ex.Closed, Windows: sorted}
	}
	return s, nil
}

func normalizeWindows(in []Window) ([]Window, error) {
	out := append([]Window(nil), in...)
	for _, w := range out {
		if w.Start < 0 || w.End > minutesPerDay || w.Start >= w.End {
			return nil, apperr.Invalid("window", fmt.Sprintf("%s is not a valid window", w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			return nil, apperr.Invalid("window", fmt.Sprintf("%s overlaps %s", out[i], out[i-1]))
		}
	}
	return out, nil
}

func (s *Schedule) StaffID() string { return s.staffID }

func (s *Schedule) Location() *time.Location { return s.loc }

func (s *Schedule) Granularity() time.Duration { return s.granularity }

// DateOf is the calendar date of t in the schedule's location.
func (s *Schedule) DateOf(t time.Time) civil.Date { return civil.DateOf(t.In(s.loc)) }

// OpenIntervals returns the open intervals of date in the schedule's location, ordered by start.
// An exception for the date replaces the weekly windows; a closed date yields nil. Windows that
// touch are merged so a booking may run across the seam.
func (s *Schedule) OpenIntervals(date civil.Date) []Interval {
	windows := s.weekly[date.In(time.UTC).Weekday()]
	if ex, ok := s.exceptions[date]; ok {
		if ex.Closed {
			return nil
		}
		windows = ex.Windows
	}
	if len(windows) == 0 {
		return nil
	}

	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		iv := Interval{Start: s.at(date, w.Start), End: s.at(date, w.End)}
		if iv.IsEmpty() {
			// A DST gap can swallow a window entirely.
			continue
		}
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			out[n-1].End = iv.End
			continue
		}
		out = append(out, iv)
	}
	return out
}

func (s *Schedule) at(date civil.Date, t TimeOfDay) time.Time {
	return time.Date(date.Year, date.Month, date.Day, int(t)/60, int(t)%60, 0, 0, s.loc)
}

// Exceptions returns the configured exceptions ordered by date.
func (s *Schedule) Exceptions() []Exception {
	out := make([]Exception, 0, len(s.exceptions))
	for _, ex := range s.exceptions {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Weekly returns the recurring windows ordered by weekday then start.
func (s *Schedule) Weekly() []WeeklyWindow {
	var out []WeeklyWindow
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, w := range s.weekly[day] {
			out = append(out, WeeklyWindow{Weekday: day, Window: w})
		}
	}
	return out
}

// Covers reports whether iv lies entirely inside one open interval of the date iv starts on.
func (s *Schedule) Covers(iv Interval) bool {
	if iv.IsEmpty() {
		return false
	}
	for _, open := range s.OpenIntervals(s.DateOf(iv.Start)) {
		if open.Contains(iv) {
			return true
		}
	}
	return false
}
