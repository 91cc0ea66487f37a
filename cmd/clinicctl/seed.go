package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

var departments = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	doctors  int
	patients int
	days     int
	seed     int64
}

func seedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate departments, doctors, patients and availability with fake data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if opts.seed == 0 {
				opts.seed = time.Now().UnixNano()
			}
			gofakeit.Seed(opts.seed)

			return runSeed(ctx, pool, logger, opts)
		},
	}

	cmd.Flags().IntVar(&opts.doctors, "doctors", 50, "number of doctors to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 2000, "number of patients to create")
	cmd.Flags().IntVar(&opts.days, "days", 14, "days of availability to create from today")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func runSeed(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger, opts seedOptions) error {
	deptIDs, err := seedDepartments(ctx, pool)
	if err != nil {
		return fmt.Errorf("seed departments: %w", err)
	}
	logger.Info().Int("count", len(deptIDs)).Msg("departments seeded")

	doctorIDs, err := seedUsers(ctx, pool, appointment.RoleDoctor, opts.doctors, deptIDs)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	logger.Info().Int("count", len(doctorIDs)).Msg("doctors seeded")

	if _, err := seedUsers(ctx, pool, appointment.RolePatient, opts.patients, nil); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	logger.Info().Int("count", opts.patients).Msg("patients seeded")

	slots, err := seedAvailability(ctx, appointment.NewPgRepository(pool), doctorIDs, opts.days)
	if err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}
	logger.Info().Int("count", slots).Msg("availability seeded")

	logger.Info().Int64("seed", opts.seed).Msg("seed complete")
	return nil
}

func seedDepartments(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(departments))
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, name := range departments {
			var id uuid.UUID
			err := tx.QueryRow(ctx, `
				INSERT INTO departments (id, name, description)
				VALUES ($1, $2, $3)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id
			`, uuid.New(), name, gofakeit.Sentence(6)).Scan(&id)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// seedUsers inserts users in batches of 500, one transaction per batch.
func seedUsers(ctx context.Context, pool *pgxpool.Pool, role appointment.Role, count int, deptIDs []uuid.UUID) ([]uuid.UUID, error) {
	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			var dept *uuid.UUID
			if len(deptIDs) > 0 {
				d := deptIDs[gofakeit.Number(0, len(deptIDs)-1)]
				dept = &d
			}
			batch.Queue(`
				INSERT INTO users (id, role, name, email, phone, department_id, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, true)
			`, id, string(role), gofakeit.Name(), id.String()[:8]+"."+gofakeit.Email(), gofakeit.Phone(), dept)
			ids = append(ids, id)
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// seedAvailability gives each doctor a morning and an afternoon window on
// weekdays, skipping some days at random.
func seedAvailability(ctx context.Context, repo *appointment.PgRepository, doctorIDs []uuid.UUID, days int) (int, error) {
	windows := [][2]string{{"09:00", "12:00"}, {"13:30", "17:00"}}
	today := appointment.DateOf(appointment.Wall(time.Now()))
	created := 0

	for _, doctorID := range doctorIDs {
		for d := 0; d < days; d++ {
			date := today.AddDate(0, 0, d)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			if gofakeit.Number(0, 9) == 0 {
				continue
			}
			for _, w := range windows {
				start, _ := appointment.ParseTimeOfDay(w[0])
				end, _ := appointment.ParseTimeOfDay(w[1])
				if _, err := repo.CreateSlot(ctx, doctorID, date, start, end); err != nil {
					return created, err
				}
				created++
			}
		}
	}
	return created, nil
}
