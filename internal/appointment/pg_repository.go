package appointment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from migrations/001_schema.sql.
const (
	bookedInstantIndex = "appointments_booked_instant_key"
	slotRangeCheck     = "availability_slots_range_check"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

// translate converts driver errors into engine errors. Anything it does
// not recognise is returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == bookedInstantIndex {
				return fmt.Errorf("%w: %s", ErrSlotConflict, pgErr.Detail)
			}
		case "23514":
			if pgErr.ConstraintName == slotRangeCheck {
				return ErrInvalidRange
			}
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Detail)
		case "40001", "40P01", "53300", "57014", "57P01":
			// serialization_failure, deadlock_detected, too_many_connections,
			// query_canceled, admin_shutdown
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		errors.As(err, &connErr),
		errors.As(err, &netErr),
		pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return translate(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.IsActive, &d.DepartmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, translate(err)
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&start,
		&end,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, translate(err)
	}

	s.StartTime = timeOfDayFromPG(start)
	s.EndTime = timeOfDayFromPG(end)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var at pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&at,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, translate(err)
	}

	a.Time = timeOfDayFromPG(at)
	return &a, nil
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	var diagnosis, prescription, notes *string

	err := row.Scan(
		&t.ID,
		&t.AppointmentID,
		&diagnosis,
		&prescription,
		&notes,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, translate(err)
	}

	t.Diagnosis = deref(diagnosis)
	t.Prescription = deref(prescription)
	t.Notes = deref(notes)
	return &t, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return result, nil
}

const (
	slotColumns        = `id, doctor_id, date, start_time, end_time, created_at`
	appointmentColumns = `id, patient_id, doctor_id, date, time, status, created_at, updated_at`
	treatmentColumns   = `id, appointment_id, diagnosis, prescription, notes, created_at`
)

// Doctors

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, is_active, department_id
		FROM users
		WHERE id = $1 AND role = 'doctor'
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) DeactivateDoctor(ctx context.Context, id uuid.UUID, purgeFrom time.Time) (int, error) {
	var purged int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET is_active = false
			WHERE id = $1 AND role = 'doctor'
		`, id)
		if err != nil {
			return fmt.Errorf("deactivate doctor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDoctorNotFound
		}

		tag, err = tx.Exec(ctx, `
			DELETE FROM availability_slots
			WHERE doctor_id = $1 AND date >= $2
		`, id, DateOf(purgeFrom))
		if err != nil {
			return fmt.Errorf("purge availability: %w", err)
		}
		purged = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(purged), nil
}

// Availability

func (r *PgRepository) CreateSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end TimeOfDay) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, date, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+slotColumns,
		uuid.New(), doctorID, DateOf(date), start.pg(), end.pg())
	return scanSlot(row)
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE doctor_id = $1`
	args := []any{doctorID}
	if date != nil {
		query += ` AND date = $2`
		args = append(args, DateOf(*date))
	}
	query += ` ORDER BY date, start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(fmt.Errorf("list slots: %w", err))
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return result, nil
}

func (r *PgRepository) NextSlot(ctx context.Context, doctorID uuid.UUID, from time.Time) (*AvailabilitySlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1 AND date >= $2
		ORDER BY date, start_time
		LIMIT 1
	`, doctorID, DateOf(from))
	return scanSlot(row)
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id, doctorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE id = $1 AND doctor_id = $2
	`, id, doctorID)
	if err != nil {
		return translate(fmt.Errorf("delete slot: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetBookedAppointmentAt(ctx context.Context, doctorID uuid.UUID, date time.Time, at TimeOfDay) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status = 'Booked'
	`, doctorID, DateOf(date), at.pg())
	return scanAppointment(row)
}

func (r *PgRepository) ListBookedAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status = 'Booked'
		ORDER BY time
	`, doctorID, DateOf(date))
	if err != nil {
		return nil, translate(fmt.Errorf("list booked appointments: %w", err))
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateBookedAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'Booked', now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), req.PatientID, req.DoctorID, DateOf(req.Date), req.Time.pg())
	return scanAppointment(row)
}

// staleOrMissing tells a lost compare-and-swap apart from a missing row.
func staleOrMissing(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return translate(err)
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStaleState
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, staleOrMissing(ctx, r.pool, id)
	}
	return appt, err
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, in TreatmentInput) (*Appointment, *Treatment, error) {
	var appt *Appointment
	var treatment *Treatment

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		appt, err = scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'Completed',
			    updated_at = now()
			WHERE id = $1
			  AND status = 'Booked'
			RETURNING `+appointmentColumns, id))
		if errors.Is(err, ErrAppointmentNotFound) {
			return staleOrMissing(ctx, tx, id)
		}
		if err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}

		treatment, err = scanTreatment(tx.QueryRow(ctx, `
			INSERT INTO treatments (id, appointment_id, diagnosis, prescription, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING `+treatmentColumns,
			uuid.New(), id, nullable(in.Diagnosis), nullable(in.Prescription), nullable(in.Notes)))
		if err != nil {
			return fmt.Errorf("insert treatment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return appt, treatment, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM treatments WHERE appointment_id = $1`, id); err != nil {
			return fmt.Errorf("delete treatment: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAppointmentNotFound
		}
		return nil
	})
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.PatientID != nil {
		add("patient_id = $%d", *filter.PatientID)
	}
	if filter.DoctorID != nil {
		add("doctor_id = $%d", *filter.DoctorID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY date, time, created_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(fmt.Errorf("list appointments: %w", err))
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetTreatmentByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+treatmentColumns+`
		FROM treatments
		WHERE appointment_id = $1
	`, appointmentID)
	return scanTreatment(row)
}

// FindOverdueBooked compares date + time as a timestamp without zone, so
// now is sent as a wall-clock value.
func (r *PgRepository) FindOverdueBooked(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'Booked'
		  AND (date + time) < $1
		ORDER BY date, time
	`, pgtype.Timestamp{Time: Wall(now), Valid: true})
	if err != nil {
		return nil, translate(fmt.Errorf("find overdue appointments: %w", err))
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return translate(fmt.Errorf("insert event log: %w", err))
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
