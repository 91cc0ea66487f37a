package appointment

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionMiss     Action = "miss"
)

// transitions is the whole state machine: every action starts from Booked.
var transitions = map[Action]AppointmentStatus{
	ActionCancel:   StatusCancelled,
	ActionComplete: StatusCompleted,
	ActionMiss:     StatusMissed,
}

// Transition checks whether actor may apply action to appt at now and
// returns the status to write. now is compared as a wall-clock value.
//
// Guards run in a fixed order: actor permission, then the time rule, then
// the source status. A patient cancelling a past appointment therefore
// sees ErrTooLateToCancel even if the sweeper already marked it Missed.
func Transition(appt Appointment, action Action, actor Actor, now time.Time) (AppointmentStatus, error) {
	target, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	if !actor.Active {
		return "", ErrForbidden
	}

	switch action {
	case ActionCancel:
		switch actor.Role {
		case RoleAdmin:
		case RoleDoctor:
			if appt.DoctorID != actor.ID {
				return "", ErrForbidden
			}
		case RolePatient:
			if appt.PatientID != actor.ID {
				return "", ErrForbidden
			}
			if appt.Instant().Before(Wall(now)) {
				return "", ErrTooLateToCancel
			}
		default:
			return "", ErrForbidden
		}

	case ActionComplete:
		if actor.Role != RoleDoctor || appt.DoctorID != actor.ID {
			return "", ErrForbidden
		}

	case ActionMiss:
		if actor.Role != RoleSystem {
			return "", ErrForbidden
		}
		if appt.Status == StatusBooked && !appt.Instant().Before(Wall(now)) {
			return "", fmt.Errorf("%w: appointment at %s is not overdue", ErrInvalidTransition, appt.Instant().Format(time.DateTime))
		}
	}

	if appt.Status != StatusBooked {
		return "", fmt.Errorf("%w: status is %s", ErrInvalidTransition, appt.Status)
	}
	return target, nil
}
