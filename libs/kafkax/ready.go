package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck passes when any configured broker accepts a connection. A cluster with one broker
// down is still usable by the writer and the readers.
func ReadyCheck(brokers string) func(context.Context) error {
	list := SplitBrokers(brokers)
	return func(ctx context.Context) error {
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, broker := range list {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			if ctx.Err() != nil {
				break
			}
		}
		return errors.Join(errs...)
	}
}
