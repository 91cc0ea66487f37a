package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

type handlers struct {
	svc AppointmentService
	now func() time.Time
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: could not parse JSON body", appointment.ErrInvalidInput)
	}
	return nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a valid UUID", appointment.ErrInvalidInput, field)
	}
	return id, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return parseID(chi.URLParam(r, "id"), "id")
}

func queryDate(r *http.Request, required bool) (*time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%w: date is required", appointment.ErrInvalidInput)
		}
		return nil, nil
	}
	d, err := appointment.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	actor := actorFrom(r.Context())
	patientID := actor.ID
	if req.PatientID != "" {
		id, err := parseID(req.PatientID, "patient_id")
		if err != nil {
			handleError(w, r, err)
			return
		}
		patientID = id
	}
	doctorID, err := parseID(req.DoctorID, "doctor_id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	at, err := appointment.ParseTimeOfDay(req.Time)
	if err != nil {
		handleError(w, r, err)
		return
	}

	appt, err := h.svc.BookAppointment(r.Context(), actor, appointment.BookingRequest{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      at,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter appointment.ListFilter

	if raw := q.Get("patient_id"); raw != "" {
		id, err := parseID(raw, "patient_id")
		if err != nil {
			handleError(w, r, err)
			return
		}
		filter.PatientID = &id
	}
	if raw := q.Get("doctor_id"); raw != "" {
		id, err := parseID(raw, "doctor_id")
		if err != nil {
			handleError(w, r, err)
			return
		}
		filter.DoctorID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := appointment.AppointmentStatus(raw)
		filter.Status = &status
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleError(w, r, fmt.Errorf("%w: %s must be a non-negative integer", appointment.ErrInvalidInput, name))
			return
		}
		*dst = n
	}

	filter = filter.WithPageDefaults()
	appts, err := h.svc.ListAppointments(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := AppointmentListResponse{Items: make([]AppointmentResponse, 0, len(appts)), Limit: filter.Limit, Offset: filter.Offset}
	for i := range appts {
		resp.Items = append(resp.Items, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	appt, err := h.svc.CancelAppointment(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req CompleteAppointmentRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	t, err := h.svc.CompleteAppointment(r.Context(), id, actorFrom(r.Context()), appointment.TreatmentInput{
		Diagnosis:    req.Diagnosis,
		Prescription: req.Prescription,
		Notes:        req.Notes,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatmentResponse(t))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.svc.DeleteAppointment(r.Context(), id, actorFrom(r.Context())); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getTreatment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	t, err := h.svc.GetTreatment(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatmentResponse(t))
}

func (h *handlers) addAvailability(w http.ResponseWriter, r *http.Request) {
	var req AddAvailabilityRequest
	if err := decode(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	actor := actorFrom(r.Context())
	doctorID := actor.ID
	if req.DoctorID != "" {
		id, err := parseID(req.DoctorID, "doctor_id")
		if err != nil {
			handleError(w, r, err)
			return
		}
		doctorID = id
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	start, err := appointment.ParseTimeOfDay(req.StartTime)
	if err != nil {
		handleError(w, r, err)
		return
	}
	end, err := appointment.ParseTimeOfDay(req.EndTime)
	if err != nil {
		handleError(w, r, err)
		return
	}

	slot, err := h.svc.AddAvailability(r.Context(), actor, doctorID, date, start, end)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

func (h *handlers) removeAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.svc.RemoveAvailability(r.Context(), actorFrom(r.Context()), id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	date, err := queryDate(r, false)
	if err != nil {
		handleError(w, r, err)
		return
	}

	slots, err := h.svc.ListAvailability(r.Context(), doctorID, date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		resp = append(resp, toSlotResponse(&slots[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) nextAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	from := appointment.Wall(h.now())
	if d, err := queryDate(r, false); err != nil {
		handleError(w, r, err)
		return
	} else if d != nil {
		from = *d
	}

	slot, err := h.svc.NextAvailability(r.Context(), doctorID, from)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}

func (h *handlers) bookedInstants(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	date, err := queryDate(r, true)
	if err != nil {
		handleError(w, r, err)
		return
	}

	times, err := h.svc.BookedInstants(r.Context(), doctorID, *date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := BookedInstantsResponse{DoctorID: doctorID, Date: date.Format(time.DateOnly), Times: make([]string, 0, len(times))}
	for _, t := range times {
		resp.Times = append(resp.Times, t.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) deactivateDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathID(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	purged, err := h.svc.DeactivateDoctor(r.Context(), actorFrom(r.Context()), doctorID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeactivateResponse{DoctorID: doctorID, SlotsPurged: purged})
}

// sweep triggers one reconciliation pass. Admin only; the optional body
// overrides the reference time.
func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Active || actor.Role != appointment.RoleAdmin {
		handleError(w, r, appointment.ErrForbidden)
		return
	}

	now := h.now()
	if r.ContentLength > 0 {
		var req SweepRequest
		if err := decode(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
		if req.Now != nil {
			now = *req.Now
		}
	}

	res, err := h.svc.RunSweep(r.Context(), now)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		Scanned:      res.Scanned,
		Transitioned: res.Transitioned,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
		Partial:      res.Partial,
	})
}
