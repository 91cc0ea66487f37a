package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/config"
	"github.com/hackgods/clinic-appointment-engine/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentMissed    = "APPOINTMENT_MISSED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the engine. locker may be nil, in which case the store's
// uniqueness constraint is the only booking guard.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logger.With().Str("component", "appointment").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call bounds one store operation by the configured timeout.
func call[T any](ctx context.Context, s *Service, fn func(ctx context.Context) (T, error)) (T, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	v, err := fn(storeCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return v, err
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	return logging.FromContext(ctx, &s.logger)
}

// BookAppointment validates a booking request against availability and
// existing bookings and persists it as Booked.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if !actor.Active {
		return nil, ErrForbidden
	}
	switch actor.Role {
	case RoleAdmin:
	case RolePatient:
		if req.PatientID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil || req.Date.IsZero() || !req.Time.Valid() {
		return nil, fmt.Errorf("%w: patient, doctor, date and time are required", ErrInvalidInput)
	}
	req.Date = DateOf(req.Date)

	doctor, err := call(ctx, s, func(ctx context.Context) (*Doctor, error) {
		return s.repo.GetDoctor(ctx, req.DoctorID)
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

	var created *Appointment

	err = s.withBookingLock(ctx, req, func(lockCtx context.Context) error {
		// Inside the critical section re-read availability and the active booking
		slots, err := call(lockCtx, s, func(ctx context.Context) ([]AvailabilitySlot, error) {
			return s.repo.ListSlots(ctx, req.DoctorID, &req.Date)
		})
		if err != nil {
			return fmt.Errorf("load availability: %w", err)
		}

		active, err := call(lockCtx, s, func(ctx context.Context) (*Appointment, error) {
			return s.repo.GetBookedAppointmentAt(ctx, req.DoctorID, req.Date, req.Time)
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("check booked appointment: %w", err)
		}

		if err := Resolve(slots, active, req.Time); err != nil {
			return err
		}

		appt, err := call(lockCtx, s, func(ctx context.Context) (*Appointment, error) {
			return s.repo.CreateBookedAppointment(ctx, req)
		})
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		s.log(ctx).Info().
			Str("doctor_id", req.DoctorID.String()).
			Str("patient_id", req.PatientID.String()).
			Str("kind", ErrorKind(err)).
			Msg("booking rejected")
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id": created.PatientID.String(),
		"doctor_id":  created.DoctorID.String(),
		"date":       created.Date.Format(time.DateOnly),
		"time":       created.Time.String(),
		"actor_role": string(actor.Role),
	})
	s.log(ctx).Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Time("instant", created.Instant()).
		Msg("appointment booked")

	return created, nil
}

// withBookingLock serialises fn per doctor-instant. When the wait budget runs
// out fn runs unlocked and the booked-instant unique index decides the race.
// Lock transport failures are reported as ErrStoreUnavailable; errors from fn
// pass through.
func (s *Service) withBookingLock(ctx context.Context, req BookingRequest, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithLock(ctx, bookingLockKey(req.DoctorID, req.Date, req.Time), func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	if err != nil && !ran {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.log(ctx).Debug().
				Str("doctor_id", req.DoctorID.String()).
				Str("time", req.Time.String()).
				Msg("booking lock busy, falling back to store constraint")
			return fn(ctx)
		}
		return fmt.Errorf("%w: booking lock: %w", ErrStoreUnavailable, err)
	}
	return err
}

// CancelAppointment applies the cancel transition for a patient, doctor or
// admin actor.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	updated, err := s.transition(ctx, id, ActionCancel, actor)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"actor_id":   actor.ID.String(),
		"actor_role": string(actor.Role),
	})
	s.log(ctx).Info().
		Str("appointment_id", updated.ID.String()).
		Str("actor_role", string(actor.Role)).
		Msg("appointment cancelled")

	return updated, nil
}

// transition reads the appointment, checks the guard and writes the new
// status only if the row is still Booked.
func (s *Service) transition(ctx context.Context, id uuid.UUID, action Action, actor Actor) (*Appointment, error) {
	appt, err := call(ctx, s, func(ctx context.Context) (*Appointment, error) {
		return s.repo.GetAppointmentByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	to, err := Transition(*appt, action, actor, s.now())
	if err != nil {
		return nil, err
	}

	updated, err := call(ctx, s, func(ctx context.Context) (*Appointment, error) {
		return s.repo.UpdateAppointmentStatus(ctx, id, StatusBooked, to)
	})
	if err != nil {
		return nil, fmt.Errorf("%s appointment: %w", action, err)
	}
	return updated, nil
}

// CompleteAppointment marks the appointment Completed and records the
// treatment in the same store transaction.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, actor Actor, in TreatmentInput) (*Treatment, error) {
	appt, err := call(ctx, s, func(ctx context.Context) (*Appointment, error) {
		return s.repo.GetAppointmentByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if _, err := Transition(*appt, ActionComplete, actor, s.now()); err != nil {
		return nil, err
	}

	type result struct {
		appt      *Appointment
		treatment *Treatment
	}
	res, err := call(ctx, s, func(ctx context.Context) (result, error) {
		a, t, err := s.repo.CompleteAppointment(ctx, id, in)
		return result{a, t}, err
	})
	if err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentCompleted, map[string]any{
		"treatment_id": res.treatment.ID.String(),
	})
	s.log(ctx).Info().
		Str("appointment_id", id.String()).
		Str("treatment_id", res.treatment.ID.String()).
		Msg("appointment completed")

	return res.treatment, nil
}

// DeleteAppointment is the administrative removal path. The treatment, if
// any, is removed with it.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID, actor Actor) error {
	if !actor.Active || actor.Role != RoleAdmin {
		return ErrForbidden
	}

	_, err := call(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.DeleteAppointment(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"actor_id": actor.ID.String(),
	})
	return nil
}

// GetAppointment returns an appointment visible to actor.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := call(ctx, s, func(ctx context.Context) (*Appointment, error) {
		return s.repo.GetAppointmentByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !canView(*appt, actor) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// GetTreatment returns the treatment report for a completed appointment.
func (s *Service) GetTreatment(ctx context.Context, appointmentID uuid.UUID, actor Actor) (*Treatment, error) {
	if _, err := s.GetAppointment(ctx, appointmentID, actor); err != nil {
		return nil, err
	}

	t, err := call(ctx, s, func(ctx context.Context) (*Treatment, error) {
		return s.repo.GetTreatmentByAppointment(ctx, appointmentID)
	})
	if err != nil {
		return nil, fmt.Errorf("get treatment: %w", err)
	}
	return t, nil
}

func canView(appt Appointment, actor Actor) bool {
	if !actor.Active {
		return false
	}
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		return appt.DoctorID == actor.ID
	case RolePatient:
		return appt.PatientID == actor.ID
	}
	return false
}

// ListAppointments lists appointments visible to actor. Patients only see
// their own, doctors only their own (optionally narrowed to one patient).
func (s *Service) ListAppointments(ctx context.Context, actor Actor, filter ListFilter) ([]Appointment, error) {
	if !actor.Active {
		return nil, ErrForbidden
	}
	switch actor.Role {
	case RoleAdmin:
	case RolePatient:
		if filter.PatientID != nil && *filter.PatientID != actor.ID {
			return nil, ErrForbidden
		}
		id := actor.ID
		filter.PatientID = &id
	case RoleDoctor:
		if filter.DoctorID != nil && *filter.DoctorID != actor.ID {
			return nil, ErrForbidden
		}
		id := actor.ID
		filter.DoctorID = &id
	default:
		return nil, ErrForbidden
	}

	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, *filter.Status)
	}
	filter = filter.WithPageDefaults()

	if s.cfg.SweepOnRead {
		if _, err := s.RunSweep(ctx, s.now()); err != nil {
			s.log(ctx).Warn().Err(err).Msg("sweep before list failed")
		}
	}

	appts, err := call(ctx, s, func(ctx context.Context) ([]Appointment, error) {
		return s.repo.ListAppointments(ctx, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	_, err = call(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.InsertEvent(ctx, ev)
	})
	if err != nil {
		s.log(ctx).Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
