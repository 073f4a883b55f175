package care

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service exposes the care core to transports. Reads go straight to the
// store; request resolution goes through the Lifecycle.
type Service struct {
	store     Store
	lifecycle *Lifecycle
	now       func() time.Time
}

func NewService(store Store, lifecycle *Lifecycle) *Service {
	return &Service{store: store, lifecycle: lifecycle, now: time.Now}
}

// ListPatients returns the practitioner's patients with TotalSessions set to
// the number of completed appointments for each.
func (s *Service) ListPatients(ctx context.Context, practitionerID uuid.UUID) ([]Patient, error) {
	patients, err := s.store.ListPatients(ctx, practitionerID)
	if err != nil {
		return nil, classify("list patients", err)
	}
	appts, err := s.store.ListAppointments(ctx, practitionerID)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	completed := make(map[uuid.UUID]int)
	for _, a := range appts {
		if a.Status == AppointmentCompleted {
			completed[a.PatientID]++
		}
	}
	for i := range patients {
		patients[i].TotalSessions = completed[patients[i].ID]
	}
	return patients, nil
}

// ListRequests returns the practitioner's requests, optionally filtered by
// status. An empty status returns all of them.
func (s *Service) ListRequests(ctx context.Context, practitionerID uuid.UUID, status RequestStatus) ([]Request, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	reqs, err := s.store.ListRequests(ctx, practitionerID)
	if err != nil {
		return nil, classify("list requests", err)
	}
	if status == "" {
		return reqs, nil
	}
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// PendingRequests reloads and returns the practitioner's pending working set.
func (s *Service) PendingRequests(ctx context.Context, practitionerID uuid.UUID) ([]Request, error) {
	return s.lifecycle.LoadPending(ctx, practitionerID)
}

func (s *Service) ListAppointments(ctx context.Context, practitionerID uuid.UUID) ([]Appointment, error) {
	appts, err := s.store.ListAppointments(ctx, practitionerID)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	return appts, nil
}

// AdvanceAppointment moves one of the practitioner's appointments forward.
// Appointments owned by someone else are reported as not found.
func (s *Service) AdvanceAppointment(ctx context.Context, practitionerID, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	appts, err := s.store.ListAppointments(ctx, practitionerID)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	owned := false
	for _, a := range appts {
		if a.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		return nil, fmt.Errorf("advance appointment: %w", ErrAppointmentNotFound)
	}
	appt, err := s.store.UpdateAppointmentStatus(ctx, id, status)
	if err != nil {
		return nil, classify("advance appointment", err)
	}
	return appt, nil
}

// Accept resolves one of the practitioner's requests by creating a patient.
func (s *Service) Accept(ctx context.Context, practitionerID, requestID uuid.UUID) (*Patient, error) {
	req, err := s.ownedRequest(ctx, practitionerID, requestID)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Accept(ctx, requestID, *req)
}

// Reject resolves one of the practitioner's requests without creating a patient.
func (s *Service) Reject(ctx context.Context, practitionerID, requestID uuid.UUID) (*Request, error) {
	if _, err := s.ownedRequest(ctx, practitionerID, requestID); err != nil {
		return nil, err
	}
	return s.lifecycle.Reject(ctx, requestID)
}

func (s *Service) ownedRequest(ctx context.Context, practitionerID, requestID uuid.UUID) (*Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, classify("get request", err)
	}
	if req.PreferredPractitionerID != practitionerID {
		return nil, fmt.Errorf("get request: %w", ErrRequestNotFound)
	}
	return req, nil
}

// Dashboard fetches a fresh snapshot and aggregates it.
func (s *Service) Dashboard(ctx context.Context, practitionerID uuid.UUID, search string) (Dashboard, error) {
	snap, err := FetchSnapshot(ctx, s.store, practitionerID, s.now)
	if err != nil {
		return Dashboard{}, err
	}
	return Aggregate(snap, practitionerID, s.now(), search), nil
}

// Report fetches a fresh snapshot and builds the analytics report.
func (s *Service) Report(ctx context.Context, practitionerID uuid.UUID) (Report, error) {
	snap, err := FetchSnapshot(ctx, s.store, practitionerID, s.now)
	if err != nil {
		return Report{}, err
	}
	return BuildReport(snap, practitionerID), nil
}
