// Package consumer reads booking events from Kafka, deduplicates them through the inbox and hands
// them to a handler. Offsets are committed only once a message is handled, found to be a
// duplicate, or skipped as unprocessable.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/barberbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxRetryElapsed = 5 * time.Minute

var errDuplicate = errors.New("duplicate event")

type Handler func(ctx context.Context, msg kafka.Message) error

type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// MessageReader is the slice of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type skipError struct{ err error }

func (e *skipError) Error() string { return e.err.Error() }

func (e *skipError) Unwrap() error { return e.err }

// Skip marks a message that can never be handled, such as a payload that does not decode. It is
// committed without retries.
func Skip(err error) error { return &skipError{err: err} }

type Consumer struct {
	reader          MessageReader
	logger          *slog.Logger
	inbox           Inbox
	handler         Handler
	readRetryDelay  time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	maxRetryElapsed time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// MaxRetryElapsed bounds how long one message is retried before the consumer gives up and
	// stops. Zero means DefaultMaxRetryElapsed.
	MaxRetryElapsed time.Duration
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c := NewWithReader(logger, inbox, reader, handler)
	if cfg.MaxRetryElapsed > 0 {
		c.maxRetryElapsed = cfg.MaxRetryElapsed
	}
	return c
}

func NewWithReader(logger *slog.Logger, inbox Inbox, reader MessageReader, handler Handler) *Consumer {
	return &Consumer{
		reader:          reader,
		logger:          logger,
		inbox:           inbox,
		handler:         handler,
		readRetryDelay:  time.Second,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     30 * time.Second,
		maxRetryElapsed: DefaultMaxRetryElapsed,
	}
}

// Run reads until ctx is done. A message whose handler keeps failing past the retry budget is
// left uncommitted and Run returns the error, so the message is redelivered after a restart.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.readRetryDelay):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume %s offset %d: %w", msg.Topic, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// handle returns nil when msg may be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval

	claimed := false
	_, err := backoff.Retry(ctxSpan, func() (struct{}, error) {
		if !claimed {
			ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
			if err != nil {
				return struct{}{}, fmt.Errorf("inbox record: %w", err)
			}
			if !ok {
				return struct{}{}, backoff.Permanent(errDuplicate)
			}
			claimed = true
		}
		err := c.handler(ctxSpan, msg)
		var skip *skipError
		if errors.As(err, &skip) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(c.maxRetryElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("event handling failed, retrying", "err", err, "event_id", meta.EventID, "retry_in", next)
		}),
	)

	var skip *skipError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDuplicate):
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	case errors.As(err, &skip):
		c.logger.Error("unprocessable event skipped", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return nil
	}

	span.RecordError(err)
	if claimed {
		forgetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := c.inbox.Forget(forgetCtx, meta.EventID); ferr != nil {
			c.logger.Error("inbox release failed; redelivery will be treated as a duplicate", "err", ferr, "event_id", meta.EventID)
		}
	}
	return err
}
