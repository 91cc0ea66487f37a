package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestAddAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	date := mustDate(t, "2024-06-03")

	slot, err := f.svc.AddAvailability(ctx, f.doctor, f.doctor.ID, date, mustTime(t, "13:00"), mustTime(t, "17:00"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if slot.DoctorID != f.doctor.ID || !slot.Date.Equal(date) {
		t.Fatalf("unexpected slot: %+v", slot)
	}

	inactive := f.repo.addDoctor(false)
	otherDoctor := Actor{ID: uuid.New(), Role: RoleDoctor, Active: true}

	tests := []struct {
		name       string
		actor      Actor
		doctorID   uuid.UUID
		start, end string
		want       error
	}{
		{"start equals end", f.doctor, f.doctor.ID, "10:00", "10:00", ErrInvalidRange},
		{"start after end", f.doctor, f.doctor.ID, "12:00", "10:00", ErrInvalidRange},
		{"for another doctor", otherDoctor, f.doctor.ID, "10:00", "11:00", ErrForbidden},
		{"patient", f.patient, f.doctor.ID, "10:00", "11:00", ErrForbidden},
		{"inactive doctor", f.admin, inactive, "10:00", "11:00", ErrDoctorUnavailable},
		{"unknown doctor", f.admin, uuid.New(), "10:00", "11:00", ErrDoctorUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddAvailability(ctx, tt.actor, tt.doctorID, date, mustTime(t, tt.start), mustTime(t, tt.end))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.svc.AddAvailability(ctx, f.admin, f.doctor.ID, date, mustTime(t, "08:00"), mustTime(t, "09:00")); err != nil {
		t.Fatalf("admin add: %v", err)
	}
	slots, err := f.svc.ListAvailability(ctx, f.doctor.ID, &date)
	if err != nil || len(slots) != 2 {
		t.Fatalf("slots = %d (%v), want 2", len(slots), err)
	}
}

func TestRemoveAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	slots, err := f.svc.ListAvailability(ctx, f.doctor.ID, &f.date)
	if err != nil || len(slots) != 1 {
		t.Fatalf("setup: %d slots, %v", len(slots), err)
	}
	slotID := slots[0].ID
	booked := f.book(t, "10:00")

	other := Actor{ID: f.repo.addDoctor(true), Role: RoleDoctor, Active: true}
	if err := f.svc.RemoveAvailability(ctx, other, slotID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if err := f.svc.RemoveAvailability(ctx, f.doctor, slotID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.svc.RemoveAvailability(ctx, f.doctor, slotID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// existing bookings survive, new ones find no availability
	if got := f.repo.status(booked.ID); got != StatusBooked {
		t.Fatalf("booking status = %s, want Booked", got)
	}
	if _, err := f.svc.BookAppointment(ctx, f.patient, f.request(t, "10:30")); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("err = %v, want ErrNoAvailability", err)
	}
}

func TestNextAvailabilityAndBookedInstants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.repo.addSlot(f.doctor.ID, mustDate(t, "2024-05-20"), mustTime(t, "14:00"), mustTime(t, "15:00"))
	f.repo.addSlot(f.doctor.ID, mustDate(t, "2024-04-20"), mustTime(t, "14:00"), mustTime(t, "15:00"))

	next, err := f.svc.NextAvailability(ctx, f.doctor.ID, testNow)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !next.Date.Equal(mustDate(t, "2024-05-20")) {
		t.Fatalf("next = %s, want 2024-05-20", next.Date)
	}

	f.book(t, "10:00")
	f.book(t, "09:00")
	times, err := f.svc.BookedInstants(ctx, f.doctor.ID, f.date)
	if err != nil {
		t.Fatalf("booked: %v", err)
	}
	if len(times) != 2 || times[0] != mustTime(t, "09:00") || times[1] != mustTime(t, "10:00") {
		t.Fatalf("booked instants = %v", times)
	}
}

func TestDeactivateDoctor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.repo.addSlot(f.doctor.ID, mustDate(t, "2024-04-01"), mustTime(t, "09:00"), mustTime(t, "10:00"))
	appt := f.book(t, "10:00")

	if _, err := f.svc.DeactivateDoctor(ctx, f.doctor, f.doctor.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	purged, err := f.svc.DeactivateDoctor(ctx, f.admin, f.doctor.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want only the future slot", purged)
	}
	if got := f.repo.status(appt.ID); got != StatusBooked {
		t.Fatalf("existing booking = %s, want Booked", got)
	}
	if _, err := f.svc.BookAppointment(ctx, f.patient, f.request(t, "09:00")); !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("err = %v, want ErrDoctorUnavailable", err)
	}
}
