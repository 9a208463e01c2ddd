package timegrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time { return time.Date(2026, 1, 28, h, m, 0, 0, time.UTC) }

func iv(h1, m1, h2, m2 int) Interval { return Interval{Start: at(h1, m1), End: at(h2, m2)} }

func TestOverlapsIsHalfOpen(t *testing.T) {
	assert.True(t, iv(9, 0, 10, 0).Overlaps(iv(9, 30, 10, 30)))
	assert.False(t, iv(9, 0, 10, 0).Overlaps(iv(10, 0, 11, 0)), "touching intervals must not overlap")
	assert.True(t, iv(9, 0, 12, 0).Overlaps(iv(10, 0, 11, 0)))
	assert.True(t, iv(9, 0, 12, 0).Contains(iv(10, 0, 12, 0)))
	assert.False(t, iv(9, 0, 12, 0).Contains(iv(11, 0, 12, 1)))
}

func TestSubtract(t *testing.T) {
	day := iv(9, 0, 17, 0)

	tests := []struct {
		name string
		busy []Interval
		want []Interval
	}{
		{"nothing busy", nil, []Interval{day}},
		{"middle", []Interval{iv(10, 0, 10, 30)}, []Interval{iv(9, 0, 10, 0), iv(10, 30, 17, 0)}},
		{"unsorted overlapping busy", []Interval{iv(13, 0, 14, 0), iv(10, 0, 11, 0), iv(10, 30, 11, 15)},
			[]Interval{iv(9, 0, 10, 0), iv(11, 15, 13, 0), iv(14, 0, 17, 0)}},
		{"spills over edges", []Interval{iv(8, 0, 9, 30), iv(16, 45, 18, 0)}, []Interval{iv(9, 30, 16, 45)}},
		{"fully covered", []Interval{iv(8, 0, 18, 0)}, nil},
		{"outside ignored", []Interval{iv(7, 0, 8, 0), iv(17, 0, 18, 0)}, []Interval{day}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, day.Subtract(tt.busy))
		})
	}
}
