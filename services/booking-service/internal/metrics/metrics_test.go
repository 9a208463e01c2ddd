package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveAction("book", "ok")
	m.ObserveAction("book", "ok")
	m.ObserveAction("book", "slot_unavailable")
	m.ObservePromotion("promoted")
	m.ObserveCompleted(3)
	m.ObserveCompleted(-1)
	m.ObserveSlotQuery("ok", 0.02)
	m.SetWaitlistQueueDepth(4)

	if got := testutil.ToFloat64(m.actions.WithLabelValues("book", "ok")); got != 2 {
		t.Fatalf("expected 2 ok bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.completed); got != 3 {
		t.Fatalf("expected 3 completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.waitlistQueued); got != 4 {
		t.Fatalf("expected queue depth 4, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveAction("book", "ok")
	m.ObservePromotion("promoted")
	m.ObserveCompleted(1)
	m.ObserveSlotQuery("ok", 0.1)
	m.SetWaitlistQueueDepth(1)
}
