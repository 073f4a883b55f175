package care

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newSeededService(t *testing.T) (*Service, *MemoryStore, uuid.UUID) {
	t.Helper()
	store := NewMemoryStore()
	pid := uuid.New()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	SeedDemo(store, pid, now)
	svc := NewService(store, NewLifecycle(store, nil, zerolog.Nop()))
	svc.now = func() time.Time { return now }
	return svc, store, pid
}

func TestService_ListPatientsCountsSessions(t *testing.T) {
	svc, _, pid := newSeededService(t)

	patients, err := svc.ListPatients(context.Background(), pid)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(patients))
	}
	for _, p := range patients {
		if p.TotalSessions != 1 {
			t.Errorf("%s: TotalSessions = %d, want 1", p.Name, p.TotalSessions)
		}
	}
}

func TestService_ListRequests(t *testing.T) {
	svc, _, pid := newSeededService(t)
	ctx := context.Background()

	all, err := svc.ListRequests(ctx, pid, "")
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 requests, got %d", len(all))
	}

	if _, err := svc.Reject(ctx, pid, all[0].ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	rejected, err := svc.ListRequests(ctx, pid, RequestRejected)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(rejected) != 1 || rejected[0].ID != all[0].ID {
		t.Errorf("expected only the rejected request, got %+v", rejected)
	}

	if _, err := svc.ListRequests(ctx, pid, "aprovado"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestService_RequestsOfOtherPractitionerAreHidden(t *testing.T) {
	svc, _, pid := newSeededService(t)
	ctx := context.Background()
	reqs, _ := svc.ListRequests(ctx, pid, RequestPending)

	stranger := uuid.New()
	if _, err := svc.Accept(ctx, stranger, reqs[0].ID); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Accept: expected ErrRequestNotFound, got %v", err)
	}
	if _, err := svc.Reject(ctx, stranger, reqs[0].ID); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Reject: expected ErrRequestNotFound, got %v", err)
	}
	if _, err := svc.Accept(ctx, pid, uuid.New()); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("unknown request: expected ErrRequestNotFound, got %v", err)
	}
}

func TestService_AdvanceAppointment(t *testing.T) {
	svc, _, pid := newSeededService(t)
	ctx := context.Background()
	appts, _ := svc.ListAppointments(ctx, pid)

	var scheduled Appointment
	for _, a := range appts {
		if a.Status == AppointmentScheduled {
			scheduled = a
			break
		}
	}

	got, err := svc.AdvanceAppointment(ctx, pid, scheduled.ID, AppointmentCompleted)
	if err != nil {
		t.Fatalf("AdvanceAppointment: %v", err)
	}
	if got.Status != AppointmentCompleted {
		t.Errorf("Status = %s, want %s", got.Status, AppointmentCompleted)
	}

	if _, err := svc.AdvanceAppointment(ctx, pid, scheduled.ID, AppointmentStarted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.AdvanceAppointment(ctx, uuid.New(), scheduled.ID, AppointmentCompleted); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound for another practitioner, got %v", err)
	}
	if _, err := svc.AdvanceAppointment(ctx, pid, scheduled.ID, "cancelado"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestService_DashboardAndReport(t *testing.T) {
	svc, _, pid := newSeededService(t)
	ctx := context.Background()

	d, err := svc.Dashboard(ctx, pid, "")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.ActivePatientCount != 2 || d.CompletedSessions != 2 || d.PendingRequestCount != 3 {
		t.Errorf("unexpected KPIs: %+v", d)
	}
	if len(d.TodayAppointments) != 1 {
		t.Errorf("TodayAppointments = %d, want 1", len(d.TodayAppointments))
	}
	if len(d.UpcomingAppointments) != 3 {
		t.Errorf("UpcomingAppointments = %d, want 3", len(d.UpcomingAppointments))
	}

	r, err := svc.Report(ctx, pid)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.TotalSessions != 5 || r.CompletionRate != 40 {
		t.Errorf("unexpected report: %+v", r)
	}
}
