package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

var errLockBusy = redisclient.ErrLockNotAcquired

// memRepo is an in-memory Repository. CreateBookedAppointment enforces the
// same one-Booked-per-instant rule as the partial unique index, and
// CompleteAppointment stages both writes and commits only if both succeed.
type memRepo struct {
	mu         sync.Mutex
	doctors    map[uuid.UUID]*Doctor
	slots      map[uuid.UUID]AvailabilitySlot
	appts      map[uuid.UUID]Appointment
	treatments map[uuid.UUID]Treatment // keyed by appointment id
	events     []EventLog

	// fault injection
	treatmentErr error               // returned after the status write is staged
	updateErr    map[uuid.UUID]error // per-appointment UpdateAppointmentStatus failure
	findErr      error
	getHook      func(id uuid.UUID) // runs after GetAppointmentByID reads
	slowList     time.Duration      // ListSlots waits this long or until ctx ends
	slowUpdate   time.Duration      // UpdateAppointmentStatus likewise
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:    make(map[uuid.UUID]*Doctor),
		slots:      make(map[uuid.UUID]AvailabilitySlot),
		appts:      make(map[uuid.UUID]Appointment),
		treatments: make(map[uuid.UUID]Treatment),
		updateErr:  make(map[uuid.UUID]error),
	}
}

func (m *memRepo) addDoctor(active bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = &Doctor{ID: id, Name: "Dr " + id.String()[:4], IsActive: active}
	return id
}

func (m *memRepo) addSlot(doctorID uuid.UUID, date time.Time, start, end TimeOfDay) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.slots[id] = AvailabilitySlot{ID: id, DoctorID: doctorID, Date: DateOf(date), StartTime: start, EndTime: end}
	return id
}

func (m *memRepo) put(a Appointment) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Date = DateOf(a.Date)
	m.appts[a.ID] = a
	return a
}

func (m *memRepo) status(id uuid.UUID) AppointmentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id].Status
}

func (m *memRepo) countStatus(status AppointmentStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.Status == status {
			n++
		}
	}
	return n
}

func (m *memRepo) treatmentFor(id uuid.UUID) (Treatment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.treatments[id]
	return t, ok
}

func (m *memRepo) eventCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (m *memRepo) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) DeactivateDoctor(_ context.Context, id uuid.UUID, purgeFrom time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return 0, ErrDoctorNotFound
	}
	d.IsActive = false
	purged := 0
	for sid, s := range m.slots {
		if s.DoctorID == id && !s.Date.Before(DateOf(purgeFrom)) {
			delete(m.slots, sid)
			purged++
		}
	}
	return purged, nil
}

func (m *memRepo) CreateSlot(_ context.Context, doctorID uuid.UUID, date time.Time, start, end TimeOfDay) (*AvailabilitySlot, error) {
	if start >= end {
		return nil, ErrInvalidRange
	}
	id := m.addSlot(doctorID, date, start, end)
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[id]
	return &s, nil
}

func (m *memRepo) GetSlot(_ context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *memRepo) ListSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]AvailabilitySlot, error) {
	if m.slowList > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.slowList):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AvailabilitySlot
	for _, s := range m.slots {
		if s.DoctorID != doctorID {
			continue
		}
		if date != nil && !s.Date.Equal(DateOf(*date)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (m *memRepo) NextSlot(ctx context.Context, doctorID uuid.UUID, from time.Time) (*AvailabilitySlot, error) {
	slots, _ := m.ListSlots(ctx, doctorID, nil)
	for _, s := range slots {
		if !s.Date.Before(DateOf(from)) {
			return &s, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (m *memRepo) DeleteSlot(_ context.Context, id, doctorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok || s.DoctorID != doctorID {
		return ErrSlotNotFound
	}
	delete(m.slots, id)
	return nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	a, ok := m.appts[id]
	hook := m.getHook
	m.mu.Unlock()
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &a, nil
}

func (m *memRepo) GetBookedAppointmentAt(_ context.Context, doctorID uuid.UUID, date time.Time, at TimeOfDay) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(DateOf(date)) && a.Time == at && a.Status == StatusBooked {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *memRepo) ListBookedAppointments(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(DateOf(date)) && a.Status == StatusBooked {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *memRepo) CreateBookedAppointment(_ context.Context, req BookingRequest) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.DoctorID == req.DoctorID && a.Date.Equal(DateOf(req.Date)) && a.Time == req.Time && a.Status == StatusBooked {
			return nil, ErrSlotConflict
		}
	}
	now := time.Now()
	a := Appointment{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      DateOf(req.Date),
		Time:      req.Time,
		Status:    StatusBooked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.appts[a.ID] = a
	return &a, nil
}

func (m *memRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if m.slowUpdate > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.slowUpdate):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return nil, err
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStaleState
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appts[id] = a
	return &a, nil
}

func (m *memRepo) CompleteAppointment(_ context.Context, id uuid.UUID, in TreatmentInput) (*Appointment, *Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}
	if a.Status != StatusBooked {
		return nil, nil, ErrStaleState
	}

	// staged writes, discarded on failure
	staged := a
	staged.Status = StatusCompleted
	if m.treatmentErr != nil {
		return nil, nil, m.treatmentErr
	}
	t := Treatment{
		ID:            uuid.New(),
		AppointmentID: id,
		Diagnosis:     in.Diagnosis,
		Prescription:  in.Prescription,
		Notes:         in.Notes,
		CreatedAt:     time.Now(),
	}

	m.appts[id] = staged
	m.treatments[id] = t
	return &staged, &t, nil
}

func (m *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.treatments, id)
	delete(m.appts, id)
	return nil
}

func (m *memRepo) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instant().Before(out[j].Instant()) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) GetTreatmentByAppointment(_ context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.treatments[appointmentID]
	if !ok {
		return nil, ErrTreatmentNotFound
	}
	return &t, nil
}

func (m *memRepo) FindOverdueBooked(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusBooked && a.Instant().Before(Wall(now)) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instant().Before(out[j].Instant()) })
	return out, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// failingLocker never reaches its backend.
type failingLocker struct{ err error }

func (l failingLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return l.err
}

func (l failingLocker) TryWithLock(context.Context, string, func(ctx context.Context) error) error {
	return l.err
}

// keyedLocker is an in-process Locker with the same contract as the Redis one.
type keyedLocker struct {
	mu    sync.Mutex
	held  map[string]chan struct{}
	wait  time.Duration
	calls int
}

func newKeyedLocker(wait time.Duration) *keyedLocker {
	return &keyedLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *keyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.run(ctx, key, l.wait, fn)
}

func (l *keyedLocker) TryWithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.run(ctx, key, 0, fn)
}

func (l *keyedLocker) run(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.After(wait)
	for {
		l.mu.Lock()
		l.calls++
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			defer func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
			}()
			return fn(ctx)
		}
		l.mu.Unlock()

		if wait == 0 {
			return errLockBusy
		}
		select {
		case <-ch:
		case <-deadline:
			return errLockBusy
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
