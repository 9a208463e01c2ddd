package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
	"github.com/segmentio/kafka-go"
)

// PromoteOnCancel turns booking.appointment.cancelled.v1 messages into waitlist promotions.
// Storage failures are returned as is so the consumer retries them.
func PromoteOnCancel(promoter waitlist.Promoter, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt booking.AppointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return Skip(fmt.Errorf("decode cancellation: %w", err))
		}
		start, end, err := evt.Times()
		if err != nil {
			return Skip(fmt.Errorf("decode cancellation times: %w", err))
		}
		appt, ok, err := promoter.PromoteNext(ctx, evt.StaffID, timegrid.Interval{Start: start, End: end})
		if err != nil {
			return err
		}
		if ok {
			logger.Info("cancelled slot filled from waitlist", "cancelled_id", evt.AppointmentID, "appointment_id", appt.ID)
		}
		return nil
	}
}
