package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "Booked"
	StatusCompleted AppointmentStatus = "Completed"
	StatusCancelled AppointmentStatus = "Cancelled"
	StatusMissed    AppointmentStatus = "Missed"
)

// Valid reports whether s is one of the four persisted status literals.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusBooked, StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusMissed
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	// RoleSystem is used by the sweeper; it is never accepted from callers.
	RoleSystem Role = "system"
)

// Actor is the caller identity resolved by the surrounding auth layer.
// The engine trusts it as given.
type Actor struct {
	ID     uuid.UUID
	Role   Role
	Active bool
}

func (a Actor) Is(role Role) bool { return a.Role == role }

// SystemActor identifies engine-internal writers such as the sweeper.
var SystemActor = Actor{Role: RoleSystem, Active: true}

// TimeOfDay is a local wall-clock time of day with second granularity,
// stored as seconds since midnight.
type TimeOfDay int32

const secondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("%w: time %02d:%02d:%02d", ErrInvalidInput, hour, minute, second)
	}
	return TimeOfDay(hour*3600 + minute*60 + second), nil
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("%w: time %q", ErrInvalidInput, s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	if t.Second() == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// Add shifts t by d, truncated to whole seconds. The result is not wrapped
// past midnight; callers check Valid.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Second)
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < secondsPerDay }

func (t TimeOfDay) pg() pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Second/time.Microsecond), Valid: true}
}

func timeOfDayFromPG(v pgtype.Time) TimeOfDay {
	return TimeOfDay(v.Microseconds / int64(time.Second/time.Microsecond))
}

// Dates and instants are naive wall-clock values. They are carried as
// time.Time in UTC so that comparisons never involve a zone offset.

// DateOf truncates t to its calendar day, keeping the wall-clock fields.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts "2006-01-02".
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return d, nil
}

// Wall drops the zone of t while keeping its wall-clock reading, at
// second granularity.
func Wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// Combine returns the booking instant for a date and time of day.
func Combine(date time.Time, tod TimeOfDay) time.Time {
	return DateOf(date).Add(time.Duration(tod) * time.Second)
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	IsActive     bool
	DepartmentID *uuid.UUID
}

type AvailabilitySlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
	CreatedAt time.Time
}

// Admits reports whether a booking at tod falls inside the slot. Both
// boundaries are inclusive.
func (s AvailabilitySlot) Admits(tod TimeOfDay) bool {
	return s.StartTime <= tod && tod <= s.EndTime
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      TimeOfDay
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Instant is the naive wall-clock moment of the booking.
func (a Appointment) Instant() time.Time {
	return Combine(a.Date, a.Time)
}

type Treatment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         string
	CreatedAt     time.Time
}

type TreatmentInput struct {
	Diagnosis    string
	Prescription string
	Notes        string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookingRequest identifies the doctor-instant a patient asks for.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      TimeOfDay
}

// ListFilter narrows ListAppointments. A nil PatientID and DoctorID lists
// everything the actor may see.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}

// WithPageDefaults returns f with the page clamped to what ListAppointments
// actually queries.
func (f ListFilter) WithPageDefaults() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
