package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyMatchesSentinels(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation", Invalid("staff_id", "required"), ErrValidation},
		{"range", InvalidRange(now, now.Add(-time.Hour)), ErrInvalidRange},
		{"slot", SlotUnavailable("A", now), ErrSlotUnavailable},
		{"not found", NotFound("appointment", "x"), ErrNotFound},
		{"cancelled", AlreadyCancelled("x"), ErrAlreadyCancelled},
		{"storage", Storage("insert", context.DeadlineExceeded), ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
			for _, other := range []error{ErrValidation, ErrInvalidRange, ErrSlotUnavailable, ErrNotFound, ErrAlreadyCancelled, ErrStorage} {
				if other != tt.want {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestStoragePassesDomainErrorsThrough(t *testing.T) {
	slot := SlotUnavailable("A", time.Now())
	assert.Same(t, slot, Storage("insert", slot))

	wrapped := fmt.Errorf("tx: %w", NotFound("appointment", "x"))
	assert.Same(t, wrapped, Storage("get", wrapped))

	assert.NoError(t, Storage("noop", nil))

	inner := Storage("begin", errors.New("conn refused"))
	assert.Same(t, inner, Storage("outer", inner))
	assert.ErrorIs(t, inner, ErrStorage)
	assert.Contains(t, inner.Error(), "conn refused")
}

func TestValidationErrorAs(t *testing.T) {
	err := fmt.Errorf("book: %w", Invalid("duration", "must be positive"))
	var ve *ValidationError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, "duration", ve.Field)
	}
}
