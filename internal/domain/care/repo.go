package care

import (
	"context"

	"github.com/google/uuid"
)

// Store is the data-access collaborator the care core depends on. It is
// assumed eventually consistent and offers no transactions.
type Store interface {
	ListAppointments(ctx context.Context, practitionerID uuid.UUID) ([]Appointment, error)
	ListPatients(ctx context.Context, practitionerID uuid.UUID) ([]Patient, error)
	ListRequests(ctx context.Context, practitionerID uuid.UUID) ([]Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	CreatePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	// UpdateRequestStatus resolves a pending request. It returns
	// ErrStaleRequestState when the stored request is no longer pending.
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status RequestStatus, note string) (*Request, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error)
}
