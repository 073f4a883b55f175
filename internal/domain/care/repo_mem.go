package care

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. Lists are returned in insertion order.
type MemoryStore struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	requests     map[uuid.UUID]*Request
	order        []uuid.UUID
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
		requests:     make(map[uuid.UUID]*Request),
		now:          time.Now,
	}
}

// AddAppointment inserts an appointment for setup and seeding.
func (m *MemoryStore) AddAppointment(a Appointment) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.appointments[a.ID] = &a
	m.order = append(m.order, a.ID)
	return a
}

// AddRequest inserts a care request for setup and seeding.
func (m *MemoryStore) AddRequest(r Request) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.requests[r.ID] = &r
	m.order = append(m.order, r.ID)
	return r
}

// AddPatient inserts a patient directly, bypassing the request lifecycle.
// Intended for seeding only.
func (m *MemoryStore) AddPatient(p Patient) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertPatient(&p)
	return p
}

func (m *MemoryStore) insertPatient(p *Patient) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	cp := *p
	m.patients[p.ID] = &cp
	m.order = append(m.order, p.ID)
}

func (m *MemoryStore) ListAppointments(_ context.Context, practitionerID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, id := range m.order {
		if a, ok := m.appointments[id]; ok && a.PractitionerID == practitionerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPatients(_ context.Context, practitionerID uuid.UUID) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Patient
	for _, id := range m.order {
		if p, ok := m.patients[id]; ok && p.PractitionerID == practitionerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, practitionerID uuid.UUID) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Request
	for _, id := range m.order {
		if r, ok := m.requests[id]; ok && r.PreferredPractitionerID == practitionerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreatePatient(_ context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patients {
		if existing.PractitionerID == p.PractitionerID && existing.Email == p.Email {
			return fmt.Errorf("%w: %s", ErrDuplicatePatient, p.Email)
		}
	}
	m.insertPatient(p)
	return nil
}

func (m *MemoryStore) DeletePatient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrPatientNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *MemoryStore) UpdateRequestStatus(_ context.Context, id uuid.UUID, status RequestStatus, note string) (*Request, error) {
	if !status.Resolved() {
		return nil, fmt.Errorf("%w: resolution %s", ErrInvalidStatus, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != RequestPending {
		return nil, ErrStaleRequestState
	}
	r.Status = status
	r.Notes = strPtr(note)
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.CanAdvanceTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	a.Status = status
	cp := *a
	return &cp, nil
}
