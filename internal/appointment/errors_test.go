package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrSlotConflict, "slot_conflict"},
		{fmt.Errorf("create appointment: %w", ErrSlotConflict), "slot_conflict"},
		{ErrAppointmentNotFound, "not_found"},
		{ErrTooLateToCancel, "too_late_to_cancel"},
		{fmt.Errorf("%w: %w", ErrStoreUnavailable, context.DeadlineExceeded), "store_unavailable"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("list: %w", ErrStoreUnavailable)) {
		t.Error("store unavailable should be retryable")
	}
	for _, err := range []error{ErrSlotConflict, ErrStaleState, ErrInvalidTransition, ErrNotFound} {
		if IsRetryable(err) {
			t.Errorf("%v should not be retryable", err)
		}
	}
}
