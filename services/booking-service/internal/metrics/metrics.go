package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking engine. A nil *BookingMetrics is valid
// and records nothing, so tests and tools can skip registration.
type BookingMetrics struct {
	actions        *prometheus.CounterVec
	promotions     *prometheus.CounterVec
	completed      prometheus.Counter
	slotQuery      *prometheus.HistogramVec
	waitlistQueued prometheus.Gauge
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barberbook",
			Subsystem: "booking",
			Name:      "appointment_actions_total",
			Help:      "Book/cancel/confirm attempts by outcome",
		}, []string{"action", "result"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barberbook",
			Subsystem: "waitlist",
			Name:      "promotion_attempts_total",
			Help:      "Waitlist promotion attempts by outcome",
		}, []string{"result"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barberbook",
			Subsystem: "booking",
			Name:      "appointments_completed_total",
			Help:      "Appointments moved to completed after their end time passed",
		}),
		slotQuery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "barberbook",
			Subsystem: "booking",
			Name:      "slot_query_seconds",
			Help:      "Time spent loading schedule and appointments for a slot query",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		waitlistQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "barberbook",
			Subsystem: "waitlist",
			Name:      "dispatch_queue_depth",
			Help:      "Freed-slot notifications waiting for promotion",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.actions, m.promotions, m.completed, m.slotQuery, m.waitlistQueued)
	return m
}

func (m *BookingMetrics) ObserveAction(action, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *BookingMetrics) ObservePromotion(result string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.completed.Add(float64(n))
}

func (m *BookingMetrics) ObserveSlotQuery(result string, seconds float64) {
	if m == nil {
		return
	}
	m.slotQuery.WithLabelValues(result).Observe(seconds)
}

func (m *BookingMetrics) SetWaitlistQueueDepth(n int) {
	if m == nil {
		return
	}
	m.waitlistQueued.Set(float64(n))
}
