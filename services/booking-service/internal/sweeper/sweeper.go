// Package sweeper periodically completes appointments whose end time has passed.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

type Completer interface {
	CompleteElapsed(ctx context.Context) (int, error)
}

type Sweeper struct {
	completer Completer
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger
}

// New validates schedule (standard 5-field cron or a descriptor such as "@every 5m").
func New(completer Completer, schedule string, logger *slog.Logger) (*Sweeper, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{completer: completer, schedule: schedule, timeout: time.Minute, logger: logger}, nil
}

// Run blocks until ctx is done, then waits for an in-flight sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.completer.CompleteElapsed(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("appointments completed", "count", n)
	}
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
