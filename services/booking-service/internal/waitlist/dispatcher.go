package waitlist

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"go.opentelemetry.io/otel/trace"
)

const DefaultQueueSize = 256

type Promoter interface {
	PromoteNext(ctx context.Context, staffID string, freed timegrid.Interval) (model.Appointment, bool, error)
}

type freedSlot struct {
	staffID string
	freed   timegrid.Interval
	link    trace.Link
}

// Dispatcher decouples promotion from the cancelling request. SlotFreed never blocks; when the
// queue is full the notification is dropped and the freed time stays open for ordinary booking.
type Dispatcher struct {
	promoter Promoter
	queue    chan freedSlot
	logger   *slog.Logger
	metrics  *metrics.BookingMetrics
}

func NewDispatcher(promoter Promoter, size int, logger *slog.Logger, m *metrics.BookingMetrics) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		promoter: promoter,
		queue:    make(chan freedSlot, size),
		logger:   logger,
		metrics:  m,
	}
}

func (d *Dispatcher) SlotFreed(ctx context.Context, staffID string, freed timegrid.Interval) {
	select {
	case d.queue <- freedSlot{staffID: staffID, freed: freed, link: trace.LinkFromContext(ctx)}:
		d.metrics.SetWaitlistQueueDepth(len(d.queue))
	default:
		d.logger.Warn("waitlist dispatch queue full, dropping freed slot", "staff_id", staffID, "start", freed.Start)
	}
}

// Run promotes freed slots one at a time until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-d.queue:
			d.metrics.SetWaitlistQueueDepth(len(d.queue))
			d.handle(ctx, job)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, job freedSlot) {
	ctx, span := tracer.Start(ctx, "waitlist.dispatch", trace.WithLinks(job.link))
	defer span.End()

	appt, ok, err := d.promoter.PromoteNext(ctx, job.staffID, job.freed)
	if err != nil {
		d.logger.Error("waitlist promotion failed", "staff_id", job.staffID, "err", err)
		return
	}
	if ok {
		d.logger.Debug("freed slot filled from waitlist", "staff_id", job.staffID, "appointment_id", appt.ID)
	}
}
