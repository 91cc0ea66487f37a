package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// Instant is one bookable (doctor, date, time) inside a seeded slot. Many
// workers aim at the same instants so the booking guard is exercised.
type Instant struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     appointment.TimeOfDay
}

type booked struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Instants []Instant

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'patient' AND is_active LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	repo := appointment.NewPgRepository(pool)
	rows, err = pool.Query(ctx, `
		SELECT s.doctor_id
		FROM availability_slots s
		JOIN users u ON u.id = s.doctor_id AND u.is_active
		WHERE s.date >= CURRENT_DATE
		GROUP BY s.doctor_id
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	doctors, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	step := appointment.TimeOfDay(cfg.Granularity / time.Second)
	for _, doctorID := range doctors {
		slot, err := repo.NextSlot(ctx, doctorID, appointment.DateOf(appointment.Wall(time.Now()).AddDate(0, 0, 1)))
		if err != nil {
			continue
		}
		for t := slot.StartTime; t <= slot.EndTime; t += step {
			dataPool.Instants = append(dataPool.Instants, Instant{DoctorID: doctorID, Date: slot.Date, Time: t})
		}
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Instants) == 0 {
		return nil, fmt.Errorf("no future availability loaded")
	}
	return dataPool, nil
}
