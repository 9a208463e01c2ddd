package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
)

var errNoFreeSlot = errors.New("no free slot in search window")

// EarliestRequest asks for the first free slot at or after NotBefore within SearchDays days.
type EarliestRequest struct {
	StaffID    string
	ClientID   string
	ServiceID  string
	NotBefore  time.Time
	SearchDays int
}

// RetryPolicy bounds how hard BookEarliest fights concurrent bookers for a slot.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}
}

// BookEarliest books the earliest slot it can find. When another booker wins the slot between the
// query and the commit it backs off, re-queries and tries the next one. Validation and storage
// errors end the attempt immediately.
func BookEarliest(ctx context.Context, svc *Service, req EarliestRequest, policy RetryPolicy) (model.Appointment, error) {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	if req.SearchDays <= 0 {
		req.SearchDays = 14
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (model.Appointment, error) {
		attempt++
		appt, err := svc.bookFirstFree(ctx, req)
		if err == nil {
			return appt, nil
		}
		if errors.Is(err, apperr.ErrSlotUnavailable) && !errors.Is(err, errNoFreeSlot) {
			svc.logger.Debug("earliest slot taken, retrying", "staff_id", req.StaffID, "attempt", attempt)
			return model.Appointment{}, err
		}
		return model.Appointment{}, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(policy.MaxAttempts))
}

func (s *Service) bookFirstFree(ctx context.Context, req EarliestRequest) (model.Appointment, error) {
	notBefore := req.NotBefore
	if now := s.now(); notBefore.Before(now) {
		notBefore = now
	}
	schedule, err := s.catalog.Schedule(ctx, strings.TrimSpace(req.StaffID))
	if err != nil {
		return model.Appointment{}, referenceError("staff_id", "load schedule", err)
	}
	from := schedule.DateOf(notBefore)
	to := from.AddDays(min(req.SearchDays, s.cfg.MaxSlotRangeDays) - 1)

	seq, err := s.Slots(ctx, SlotQuery{StaffID: req.StaffID, ServiceID: req.ServiceID, From: from, To: to})
	if err != nil {
		return model.Appointment{}, err
	}
	for slot := range seq {
		if slot.Start.Before(notBefore) {
			continue
		}
		return s.Book(ctx, Request{
			StaffID:   req.StaffID,
			ClientID:  req.ClientID,
			ServiceID: req.ServiceID,
			Start:     slot.Start,
		})
	}
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, err
	}
	return model.Appointment{}, fmt.Errorf("%w: %w", apperr.SlotUnavailable(req.StaffID, notBefore), errNoFreeSlot)
}

