package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// DeactivateDoctor marks the doctor inactive and deletes slots dated on
	// or after purgeFrom in one transaction. It returns the purged count.
	DeactivateDoctor(ctx context.Context, id uuid.UUID, purgeFrom time.Time) (int, error)

	// Availability
	CreateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end TimeOfDay) (*AvailabilitySlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	ListSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]AvailabilitySlot, error)
	NextSlot(ctx context.Context, doctorID uuid.UUID, from time.Time) (*AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, id, doctorID uuid.UUID) error

	// For conflict checks
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBookedAppointmentAt(ctx context.Context, doctorID uuid.UUID, date time.Time, at TimeOfDay) (*Appointment, error)
	ListBookedAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// Creation and updates. CreateBookedAppointment must reject a second
	// Booked row for the same doctor-instant with ErrSlotConflict.
	CreateBookedAppointment(ctx context.Context, req BookingRequest) (*Appointment, error)
	// UpdateAppointmentStatus writes to only if the row still has from,
	// otherwise it fails with ErrStaleState.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// CompleteAppointment moves Booked to Completed and stores the treatment
	// atomically.
	CompleteAppointment(ctx context.Context, id uuid.UUID, in TreatmentInput) (*Appointment, *Treatment, error)
	// DeleteAppointment removes the appointment and its treatment together.
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error)
	GetTreatmentByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error)

	// Sweeper
	FindOverdueBooked(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
