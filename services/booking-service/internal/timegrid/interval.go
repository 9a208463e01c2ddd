package timegrid

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

func (i Interval) IsEmpty() bool { return !i.End.After(i.Start) }

// Overlaps uses half-open semantics: [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
// Touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Subtract removes every busy interval from i and returns the remaining pieces in order.
// busy does not need to be sorted and may overlap itself.
func (i Interval) Subtract(busy []Interval) []Interval {
	if i.IsEmpty() {
		return nil
	}
	sorted := make([]Interval, 0, len(busy))
	for _, b := range busy {
		if !b.IsEmpty() && b.Overlaps(i) {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start.Before(sorted[b].Start) })

	var free []Interval
	cursor := i.Start
	for _, b := range sorted {
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(i.End) {
			return free
		}
	}
	if cursor.Before(i.End) {
		free = append(free, Interval{Start: cursor, End: i.End})
	}
	return free
}
