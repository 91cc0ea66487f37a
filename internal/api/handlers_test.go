package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// stubService records the last call and returns canned results.
type stubService struct {
	appt      *appointment.Appointment
	treatment *appointment.Treatment
	slot      *appointment.AvailabilitySlot
	err       error

	gotActor  appointment.Actor
	gotBook   appointment.BookingRequest
	gotFilter appointment.ListFilter
	gotNow    time.Time
	gotFrom   time.Time
}

func (s *stubService) BookAppointment(_ context.Context, actor appointment.Actor, req appointment.BookingRequest) (*appointment.Appointment, error) {
	s.gotActor, s.gotBook = actor, req
	return s.appt, s.err
}

func (s *stubService) CancelAppointment(_ context.Context, _ uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error) {
	s.gotActor = actor
	return s.appt, s.err
}

func (s *stubService) CompleteAppointment(_ context.Context, _ uuid.UUID, actor appointment.Actor, _ appointment.TreatmentInput) (*appointment.Treatment, error) {
	s.gotActor = actor
	return s.treatment, s.err
}

func (s *stubService) DeleteAppointment(_ context.Context, _ uuid.UUID, actor appointment.Actor) error {
	s.gotActor = actor
	return s.err
}

func (s *stubService) GetAppointment(_ context.Context, _ uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error) {
	s.gotActor = actor
	return s.appt, s.err
}

func (s *stubService) GetTreatment(_ context.Context, _ uuid.UUID, _ appointment.Actor) (*appointment.Treatment, error) {
	return s.treatment, s.err
}

func (s *stubService) ListAppointments(_ context.Context, _ appointment.Actor, filter appointment.ListFilter) ([]appointment.Appointment, error) {
	s.gotFilter = filter
	if s.appt == nil {
		return nil, s.err
	}
	return []appointment.Appointment{*s.appt}, s.err
}

func (s *stubService) AddAvailability(_ context.Context, _ appointment.Actor, _ uuid.UUID, _ time.Time, _, _ appointment.TimeOfDay) (*appointment.AvailabilitySlot, error) {
	return s.slot, s.err
}

func (s *stubService) RemoveAvailability(_ context.Context, _ appointment.Actor, _ uuid.UUID) error {
	return s.err
}

func (s *stubService) ListAvailability(_ context.Context, _ uuid.UUID, _ *time.Time) ([]appointment.AvailabilitySlot, error) {
	if s.slot == nil {
		return nil, s.err
	}
	return []appointment.AvailabilitySlot{*s.slot}, s.err
}

func (s *stubService) NextAvailability(_ context.Context, _ uuid.UUID, from time.Time) (*appointment.AvailabilitySlot, error) {
	s.gotFrom = from
	return s.slot, s.err
}

func (s *stubService) BookedInstants(_ context.Context, _ uuid.UUID, _ time.Time) ([]appointment.TimeOfDay, error) {
	return []appointment.TimeOfDay{9 * 3600, 10*3600 + 30*60}, s.err
}

func (s *stubService) DeactivateDoctor(_ context.Context, _ appointment.Actor, _ uuid.UUID) (int, error) {
	return 3, s.err
}

func (s *stubService) RunSweep(_ context.Context, now time.Time) (appointment.SweepResult, error) {
	s.gotNow = now
	return appointment.SweepResult{Scanned: 2, Transitioned: 2}, s.err
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestRouter(svc AppointmentService) http.Handler {
	return NewRouter(RouterConfig{
		Service: svc,
		Health:  &HealthHandler{pgPing: func(context.Context) error { return nil }},
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return fixedNow },
	})
}

func do(t *testing.T, h http.Handler, method, path string, actor *appointment.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID.String())
		req.Header.Set(HeaderActorRole, string(actor.Role))
		if !actor.Active {
			req.Header.Set(HeaderActorActive, "false")
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleAppointment() *appointment.Appointment {
	return &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Time:      9 * 3600,
		Status:    appointment.StatusBooked,
	}
}

func TestBookAppointment_Created(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	patient := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient, Active: true}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient, BookAppointmentRequest{
		DoctorID: svc.appt.DoctorID.String(),
		Date:     "2024-06-01",
		Time:     "09:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	// patient_id defaults to the caller
	if svc.gotBook.PatientID != patient.ID {
		t.Errorf("patient = %s, want caller %s", svc.gotBook.PatientID, patient.ID)
	}
	if svc.gotBook.Time != 9*3600 {
		t.Errorf("time = %s", svc.gotBook.Time)
	}

	var resp AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Date != "2024-06-01" || resp.Time != "09:00" || resp.Status != "Booked" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestBookAppointment_BadInput(t *testing.T) {
	svc := &stubService{}
	patient := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient, Active: true}

	tests := []struct {
		name string
		body BookAppointmentRequest
	}{
		{"bad doctor id", BookAppointmentRequest{DoctorID: "nope", Date: "2024-06-01", Time: "09:00"}},
		{"bad date", BookAppointmentRequest{DoctorID: uuid.NewString(), Date: "01/06/2024", Time: "09:00"}},
		{"bad time", BookAppointmentRequest{DoctorID: uuid.NewString(), Date: "2024-06-01", Time: "25:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin, Active: true}

	tests := []struct {
		err  error
		want int
		kind string
	}{
		{appointment.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
		{appointment.ErrStaleState, http.StatusConflict, "stale_state"},
		{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{appointment.ErrTooLateToCancel, http.StatusForbidden, "too_late_to_cancel"},
		{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "not_found"},
		{appointment.ErrOutsideAvailability, http.StatusUnprocessableEntity, "outside_availability"},
		{appointment.ErrNoAvailability, http.StatusUnprocessableEntity, "no_availability"},
		{appointment.ErrDoctorUnavailable, http.StatusUnprocessableEntity, "doctor_unavailable"},
		{fmt.Errorf("list: %w", appointment.ErrStoreUnavailable), http.StatusServiceUnavailable, "store_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			svc := &stubService{err: tt.err}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", &admin, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != tt.kind {
				t.Errorf("error = %q, want %q", resp.Error, tt.kind)
			}
			if tt.want == http.StatusServiceUnavailable && (!resp.Retryable || rec.Header().Get("Retry-After") == "") {
				t.Error("store_unavailable should be marked retryable")
			}
		})
	}
}

func TestActorMiddleware(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	h := newTestRouter(svc)
	path := "/appointments/" + svc.appt.ID.String()

	if rec := do(t, h, http.MethodGet, path, nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing actor: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(HeaderActorID, uuid.NewString())
	req.Header.Set(HeaderActorRole, "nurse")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown role: status = %d, want 401", rec.Code)
	}

	inactive := appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor, Active: false}
	if rec := do(t, h, http.MethodGet, path, &inactive, nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotActor.Active {
		t.Fatal("X-Actor-Active=false was not forwarded")
	}
}

func TestListAppointments_QueryParams(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin, Active: true}
	doctor := uuid.New()

	rec := do(t, newTestRouter(svc), http.MethodGet, "/appointments?doctor_id="+doctor.String()+"&status=Booked&limit=5&offset=10", &admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	f := svc.gotFilter
	if f.DoctorID == nil || *f.DoctorID != doctor || f.Status == nil || *f.Status != appointment.StatusBooked || f.Limit != 5 || f.Offset != 10 {
		t.Fatalf("unexpected filter: %+v", f)
	}

	if rec := do(t, newTestRouter(svc), http.MethodGet, "/appointments?limit=-1", &admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: status = %d, want 400", rec.Code)
	}
}

func TestListAppointments_EchoesAppliedPage(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin, Active: true}

	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", appointment.DefaultListLimit, 0},
		{"?limit=500&offset=3", appointment.MaxListLimit, 3},
		{"?limit=7", 7, 0},
	}
	for _, tt := range tests {
		t.Run("query="+tt.query, func(t *testing.T) {
			rec := do(t, newTestRouter(svc), http.MethodGet, "/appointments"+tt.query, &admin, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			var resp AppointmentListResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Limit != tt.wantLimit || resp.Offset != tt.wantOffset {
				t.Fatalf("page = %d/%d, want %d/%d", resp.Limit, resp.Offset, tt.wantLimit, tt.wantOffset)
			}
			if svc.gotFilter.Limit != tt.wantLimit {
				t.Fatalf("service limit = %d, want %d", svc.gotFilter.Limit, tt.wantLimit)
			}
		})
	}
}

func TestDoctorEndpoints(t *testing.T) {
	slot := &appointment.AvailabilitySlot{ID: uuid.New(), DoctorID: uuid.New(), Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), StartTime: 9 * 3600, EndTime: 11 * 3600}
	svc := &stubService{slot: slot}
	h := newTestRouter(svc)
	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin, Active: true}
	base := "/doctors/" + slot.DoctorID.String()

	rec := do(t, h, http.MethodGet, base+"/booked?date=2024-06-01", &admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("booked: status = %d", rec.Code)
	}
	var booked BookedInstantsResponse
	if err := json.NewDecoder(rec.Body).Decode(&booked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(booked.Times) != 2 || booked.Times[1] != "10:30" {
		t.Fatalf("times = %v", booked.Times)
	}

	if rec := do(t, h, http.MethodGet, base+"/booked", &admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("booked without date: status = %d, want 400", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, base+"/next-availability", &admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("next: status = %d", rec.Code)
	}
	if !svc.gotFrom.Equal(fixedNow) {
		t.Errorf("next-availability from = %v, want router clock", svc.gotFrom)
	}

	rec = do(t, h, http.MethodPost, base+"/deactivate", &admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: status = %d", rec.Code)
	}
	var deact DeactivateResponse
	if err := json.NewDecoder(rec.Body).Decode(&deact); err != nil || deact.SlotsPurged != 3 {
		t.Fatalf("deactivate response = %+v, %v", deact, err)
	}
}

func TestSweepEndpoint(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc)
	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin, Active: true}
	doctor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor, Active: true}

	if rec := do(t, h, http.MethodPost, "/sweep", &doctor, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("doctor sweep: status = %d, want 403", rec.Code)
	}

	at := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	rec := do(t, h, http.MethodPost, "/sweep", &admin, SweepRequest{Now: &at})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !svc.gotNow.Equal(at) {
		t.Errorf("sweep now = %v, want %v", svc.gotNow, at)
	}
}

func TestHealth(t *testing.T) {
	h := NewRouter(RouterConfig{
		Service: &stubService{},
		Health: &HealthHandler{
			pgPing:    func(context.Context) error { return nil },
			redisPing: func(context.Context) error { return errors.New("down") },
		},
		Logger: zerolog.Nop(),
	})

	if rec := do(t, h, http.MethodGet, "/health/live", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("live: status = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: status = %d", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Dependencies["redis"] != "down" {
		t.Fatalf("unexpected readiness: %+v", resp)
	}

	noRedis := NewRouter(RouterConfig{
		Service: &stubService{},
		Health:  &HealthHandler{pgPing: func(context.Context) error { return nil }},
		Logger:  zerolog.Nop(),
	})
	rec = do(t, noRedis, http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("without redis: status = %d, want 200", rec.Code)
	}
	resp = ReadinessResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Dependencies["redis"] != "disabled" {
		t.Fatalf("unexpected readiness without redis: %+v", resp)
	}

	down := NewRouter(RouterConfig{Service: &stubService{}, Health: &HealthHandler{}, Logger: zerolog.Nop()})
	if rec := do(t, down, http.MethodGet, "/health/ready", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no postgres: status = %d, want 503", rec.Code)
	}
}
