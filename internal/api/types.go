package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM[:SS]
}

type CompleteAppointmentRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

type AddAvailabilityRequest struct {
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SweepRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type TreatmentResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Diagnosis     string    `json:"diagnosis"`
	Prescription  string    `json:"prescription,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

type BookedInstantsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Times    []string  `json:"times"`
}

type DeactivateResponse struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	SlotsPurged int       `json:"slots_purged"`
}

type SweepResponse struct {
	Scanned      int  `json:"scanned"`
	Transitioned int  `json:"transitioned"`
	Skipped      int  `json:"skipped"`
	Failed       int  `json:"failed"`
	Partial      bool `json:"partial"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date.Format(time.DateOnly),
		Time:      a.Time.String(),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toTreatmentResponse(t *appointment.Treatment) TreatmentResponse {
	return TreatmentResponse{
		ID:            t.ID,
		AppointmentID: t.AppointmentID,
		Diagnosis:     t.Diagnosis,
		Prescription:  t.Prescription,
		Notes:         t.Notes,
		CreatedAt:     t.CreatedAt,
	}
}

func toSlotResponse(s *appointment.AvailabilitySlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format(time.DateOnly),
		StartTime: s.StartTime.String(),
		EndTime:   s.EndTime.String(),
	}
}
