package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidRange        = errors.New("slot start must be before end")
	ErrNotFound            = errors.New("not found")
	ErrNotOwner            = errors.New("slot belongs to another doctor")
	ErrForbidden           = errors.New("actor may not perform this operation")
	ErrDoctorUnavailable   = errors.New("doctor does not exist or is inactive")
	ErrNoAvailability      = errors.New("doctor has no availability on this date")
	ErrOutsideAvailability = errors.New("time is outside the doctor's available hours")
	ErrSlotConflict        = errors.New("doctor already has a booked appointment at this time")
	ErrTooLateToCancel     = errors.New("past appointments cannot be cancelled by the patient")
	ErrInvalidTransition   = errors.New("appointment is no longer booked")
	ErrStaleState          = errors.New("appointment was changed by another request")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Record specific variants all match ErrNotFound.
var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("availability slot %w", ErrNotFound)
	ErrTreatmentNotFound   = fmt.Errorf("treatment %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
)

// ErrorKind maps engine errors to a stable label used in logs and API bodies.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, ErrNoAvailability):
		return "no_availability"
	case errors.Is(err, ErrOutsideAvailability):
		return "outside_availability"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrTooLateToCancel):
		return "too_late_to_cancel"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "unexpected"
}

// IsRetryable reports whether the caller may retry the same request with
// backoff. Only transient store failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
