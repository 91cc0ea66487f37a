package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddAvailability declares an open window for a doctor. Doctors add their
// own windows; admins may add for any active doctor.
func (s *Service) AddAvailability(ctx context.Context, actor Actor, doctorID uuid.UUID, date time.Time, start, end TimeOfDay) (*AvailabilitySlot, error) {
	if !actor.Active {
		return nil, ErrForbidden
	}
	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		if doctorID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	if date.IsZero() || !start.Valid() || !end.Valid() {
		return nil, fmt.Errorf("%w: date, start and end are required", ErrInvalidInput)
	}
	if start >= end {
		return nil, ErrInvalidRange
	}

	doctor, err := call(ctx, s, func(ctx context.Context) (*Doctor, error) {
		return s.repo.GetDoctor(ctx, doctorID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDoctorUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsActive {
		return nil, ErrDoctorUnavailable
	}

	slot, err := call(ctx, s, func(ctx context.Context) (*AvailabilitySlot, error) {
		return s.repo.CreateSlot(ctx, doctorID, DateOf(date), start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.log(ctx).Info().
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", slot.Date.Format(time.DateOnly)).
		Str("window", slot.StartTime.String()+"-"+slot.EndTime.String()).
		Msg("availability added")

	return slot, nil
}

// RemoveAvailability deletes one slot. Only the owning doctor (or an admin)
// may remove it. Existing bookings inside the window are left untouched.
func (s *Service) RemoveAvailability(ctx context.Context, actor Actor, slotID uuid.UUID) error {
	if !actor.Active || (actor.Role != RoleDoctor && actor.Role != RoleAdmin) {
		return ErrForbidden
	}

	slot, err := call(ctx, s, func(ctx context.Context) (*AvailabilitySlot, error) {
		return s.repo.GetSlot(ctx, slotID)
	})
	if err != nil {
		return fmt.Errorf("load slot: %w", err)
	}
	if actor.Role == RoleDoctor && slot.DoctorID != actor.ID {
		return ErrNotOwner
	}

	_, err = call(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.DeleteSlot(ctx, slotID, slot.DoctorID)
	})
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

// ListAvailability returns a doctor's slots, optionally for one date.
func (s *Service) ListAvailability(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]AvailabilitySlot, error) {
	if date != nil {
		d := DateOf(*date)
		date = &d
	}
	slots, err := call(ctx, s, func(ctx context.Context) ([]AvailabilitySlot, error) {
		return s.repo.ListSlots(ctx, doctorID, date)
	})
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return slots, nil
}

// NextAvailability returns the earliest slot dated on or after from.
func (s *Service) NextAvailability(ctx context.Context, doctorID uuid.UUID, from time.Time) (*AvailabilitySlot, error) {
	slot, err := call(ctx, s, func(ctx context.Context) (*AvailabilitySlot, error) {
		return s.repo.NextSlot(ctx, doctorID, DateOf(from))
	})
	if err != nil {
		return nil, fmt.Errorf("next availability: %w", err)
	}
	return slot, nil
}

// BookedInstants lists the times already taken for a doctor on a date.
func (s *Service) BookedInstants(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	appts, err := call(ctx, s, func(ctx context.Context) ([]Appointment, error) {
		return s.repo.ListBookedAppointments(ctx, doctorID, DateOf(date))
	})
	if err != nil {
		return nil, fmt.Errorf("list booked instants: %w", err)
	}

	out := make([]TimeOfDay, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Time)
	}
	return out, nil
}

// DeactivateDoctor removes a doctor from future bookability and purges
// their slots from today onwards. Appointments and treatments are kept.
func (s *Service) DeactivateDoctor(ctx context.Context, actor Actor, doctorID uuid.UUID) (int, error) {
	if !actor.Active || actor.Role != RoleAdmin {
		return 0, ErrForbidden
	}

	purgeFrom := DateOf(Wall(s.now()))
	purged, err := call(ctx, s, func(ctx context.Context) (int, error) {
		return s.repo.DeactivateDoctor(ctx, doctorID, purgeFrom)
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate doctor: %w", err)
	}

	s.log(ctx).Info().
		Str("doctor_id", doctorID.String()).
		Int("slots_purged", purged).
		Msg("doctor deactivated")

	return purged, nil
}
