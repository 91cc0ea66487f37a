package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/api"
	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// call sends one request as actor and reports the status code, or 0 on a
// transport error.
func (s *Simulator) call(ctx context.Context, method, path string, actor appointment.Actor, body any, out any) int {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderActorID, actor.ID.String())
	req.Header.Set(api.HeaderActorRole, string(actor.Role))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func patientActor(id uuid.UUID) appointment.Actor {
	return appointment.Actor{ID: id, Role: appointment.RolePatient, Active: true}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	inst := s.pool.Instants[rng.Intn(len(s.pool.Instants))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var resp api.AppointmentResponse
	code := s.call(ctx, http.MethodPost, "/appointments", patientActor(patientID), api.BookAppointmentRequest{
		PatientID: patientID.String(),
		DoctorID:  inst.DoctorID.String(),
		Date:      inst.Date.Format(time.DateOnly),
		Time:      inst.Time.String(),
	}, &resp)
	latency := time.Since(start)

	if code == http.StatusCreated && resp.ID != uuid.Nil {
		s.pool.AddAppointment(booked{ID: resp.ID, PatientID: patientID, DoctorID: inst.DoctorID})
	}
	s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", b.ID), patientActor(b.PatientID), nil, nil)
	s.metrics.Cancel.Record(time.Since(start), code == http.StatusOK, code == http.StatusConflict || code == http.StatusForbidden)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	doctor := appointment.Actor{ID: b.DoctorID, Role: appointment.RoleDoctor, Active: true}
	start := time.Now()
	code := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/complete", b.ID), doctor, api.CompleteAppointmentRequest{
		Diagnosis:    gofakeit.Sentence(4),
		Prescription: gofakeit.Word(),
		Notes:        gofakeit.Sentence(10),
	}, nil)
	s.metrics.Complete.Record(time.Since(start), code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, http.MethodGet, "/appointments/"+b.ID.String(), patientActor(b.PatientID), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	code := s.call(ctx, http.MethodGet, "/appointments?limit=20&offset=0", patientActor(patientID), nil, nil)
	s.metrics.ListByPatient.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doBookedByDay(ctx context.Context, rng *rand.Rand) {
	inst := s.pool.Instants[rng.Intn(len(s.pool.Instants))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	path := fmt.Sprintf("/doctors/%s/booked?date=%s", inst.DoctorID, inst.Date.Format(time.DateOnly))
	code := s.call(ctx, http.MethodGet, path, patientActor(patientID), nil, nil)
	s.metrics.BookedByDay.Record(time.Since(start), code == http.StatusOK, false)
}
