package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Resolve decides whether a booking at the given time may be written,
// given the doctor's slots for the date and the currently Booked
// appointment at that instant, if any.
//
// Overlapping slots are treated as their union. Slot boundaries are
// inclusive on both ends, so 10:00 is bookable in a slot ending at 10:00
// and in one starting at 10:00.
func Resolve(slots []AvailabilitySlot, active *Appointment, at TimeOfDay) error {
	if len(slots) == 0 {
		return ErrNoAvailability
	}

	admitted := false
	for _, s := range slots {
		if s.Admits(at) {
			admitted = true
			break
		}
	}
	if !admitted {
		return fmt.Errorf("%w: %s", ErrOutsideAvailability, at)
	}

	if active != nil && active.Status == StatusBooked {
		return ErrSlotConflict
	}
	return nil
}

// bookingLockKey serialises booking attempts for one doctor-instant.
func bookingLockKey(doctorID uuid.UUID, date time.Time, at TimeOfDay) string {
	return fmt.Sprintf("lock:booking:%s:%s:%d", doctorID, DateOf(date).Format(time.DateOnly), int(at))
}
