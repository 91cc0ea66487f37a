package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// AppointmentService is the engine surface the transport needs.
// *appointment.Service satisfies it.
type AppointmentService interface {
	BookAppointment(ctx context.Context, actor appointment.Actor, req appointment.BookingRequest) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor, in appointment.TreatmentInput) (*appointment.Treatment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) error
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	GetTreatment(ctx context.Context, appointmentID uuid.UUID, actor appointment.Actor) (*appointment.Treatment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, filter appointment.ListFilter) ([]appointment.Appointment, error)

	AddAvailability(ctx context.Context, actor appointment.Actor, doctorID uuid.UUID, date time.Time, start, end appointment.TimeOfDay) (*appointment.AvailabilitySlot, error)
	RemoveAvailability(ctx context.Context, actor appointment.Actor, slotID uuid.UUID) error
	ListAvailability(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]appointment.AvailabilitySlot, error)
	NextAvailability(ctx context.Context, doctorID uuid.UUID, from time.Time) (*appointment.AvailabilitySlot, error)
	BookedInstants(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.TimeOfDay, error)
	DeactivateDoctor(ctx context.Context, actor appointment.Actor, doctorID uuid.UUID) (int, error)

	RunSweep(ctx context.Context, now time.Time) (appointment.SweepResult, error)
}

type RouterConfig struct {
	Service AppointmentService
	Health  *HealthHandler
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &handlers{svc: cfg.Service, now: cfg.Now}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.bookAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Delete("/{id}", h.deleteAppointment)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.Post("/{id}/complete", h.completeAppointment)
			r.Get("/{id}/treatment", h.getTreatment)
		})

		r.Post("/availability", h.addAvailability)
		r.Delete("/availability/{id}", h.removeAvailability)

		r.Route("/doctors/{id}", func(r chi.Router) {
			r.Get("/availability", h.listAvailability)
			r.Get("/next-availability", h.nextAvailability)
			r.Get("/booked", h.bookedInstants)
			r.Post("/deactivate", h.deactivateDoctor)
		})

		r.Post("/sweep", h.sweep)
	})

	return r
}
