package care

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of an appointment. States only
// move forward: agendado -> iniciado -> concluido.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "agendado"
	AppointmentStarted   AppointmentStatus = "iniciado"
	AppointmentCompleted AppointmentStatus = "concluido"
)

var appointmentOrder = map[AppointmentStatus]int{
	AppointmentScheduled: 0,
	AppointmentStarted:   1,
	AppointmentCompleted: 2,
}

// Valid reports whether s is a known appointment status.
func (s AppointmentStatus) Valid() bool {
	_, ok := appointmentOrder[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
func (s AppointmentStatus) CanAdvanceTo(next AppointmentStatus) bool {
	from, ok := appointmentOrder[s]
	if !ok {
		return false
	}
	to, ok := appointmentOrder[next]
	if !ok {
		return false
	}
	return to > from
}

func (s *AppointmentStatus) UnmarshalText(b []byte) error {
	v := AppointmentStatus(b)
	if !v.Valid() {
		return fmt.Errorf("invalid appointment status: %q", string(b))
	}
	*s = v
	return nil
}

// RequestStatus is the resolution state of a care request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pendente"
	RequestAccepted RequestStatus = "aceito"
	RequestRejected RequestStatus = "rejeitado"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected:
		return true
	}
	return false
}

// Resolved reports whether the request has left the pending state.
func (s RequestStatus) Resolved() bool {
	return s == RequestAccepted || s == RequestRejected
}

func (s *RequestStatus) UnmarshalText(b []byte) error {
	v := RequestStatus(b)
	if !v.Valid() {
		return fmt.Errorf("invalid request status: %q", string(b))
	}
	*s = v
	return nil
}

// Urgency is the patient-declared urgency of a care request.
type Urgency string

const (
	UrgencyHigh   Urgency = "alta"
	UrgencyMedium Urgency = "media"
	UrgencyLow    Urgency = "baixa"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

func (u *Urgency) UnmarshalText(b []byte) error {
	v := Urgency(b)
	if !v.Valid() {
		return fmt.Errorf("invalid urgency: %q", string(b))
	}
	*u = v
	return nil
}

// Patient statuses used by the portal. Other free-text values are allowed.
const (
	PatientActive      = "Ativo"
	PatientInTreatment = "Em tratamento"
)

// Patient maps to the patient table. Patients are only ever created by
// accepting a care request.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone"`
	Age            int       `db:"age" json:"age"`
	BirthDate      time.Time `db:"birth_date" json:"birth_date"`
	Status         string    `db:"status" json:"status"`
	PractitionerID uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	TotalSessions  int       `db:"-" json:"total_sessions"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// InCare reports whether the patient is in an active treatment status.
func (p *Patient) InCare() bool {
	return p.Status == PatientActive || p.Status == PatientInTreatment
}

// Appointment maps to the appointment table. Date carries the calendar day
// and Time the wall-clock start as HH:MM.
type Appointment struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	PatientID      uuid.UUID         `db:"patient_id" json:"patient_id"`
	PractitionerID uuid.UUID         `db:"practitioner_id" json:"practitioner_id"`
	Date           time.Time         `db:"date" json:"date"`
	Time           string            `db:"time" json:"time"`
	Status         AppointmentStatus `db:"status" json:"status"`
	Description    string            `db:"description" json:"description,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

const clockLayout = "15:04"

// Start combines Date and Time into a single instant in Date's location.
func (a *Appointment) Start() time.Time {
	return a.StartIn(a.Date.Location())
}

// StartIn reads the calendar day of Date and the wall clock of Time as a
// local time in loc. An unparsable Time yields the start of the day.
func (a *Appointment) StartIn(loc *time.Location) time.Time {
	y, m, d := a.Date.Date()
	clock, err := time.Parse(clockLayout, a.Time)
	if err != nil {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc)
}

// Request maps to the care_request table.
type Request struct {
	ID                      uuid.UUID     `db:"id" json:"id"`
	PatientName             string        `db:"patient_name" json:"patient_name"`
	PatientEmail            string        `db:"patient_email" json:"patient_email"`
	PatientPhone            string        `db:"patient_phone" json:"patient_phone"`
	Description             string        `db:"description" json:"description"`
	Urgency                 Urgency       `db:"urgency" json:"urgency"`
	Status                  RequestStatus `db:"status" json:"status"`
	PreferredPractitionerID uuid.UUID     `db:"preferred_practitioner_id" json:"preferred_practitioner_id"`
	CreatedAt               time.Time     `db:"created_at" json:"created_at"`
	Notes                   *string       `db:"notes" json:"notes,omitempty"`
}

// Snapshot is one consistent read of a practitioner's collections.
type Snapshot struct {
	Appointments []Appointment `json:"appointments"`
	Patients     []Patient     `json:"patients"`
	Requests     []Request     `json:"requests"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// Placeholder values used when an accepted request carries no birth data.
var (
	DefaultBirthDate = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)
	DefaultAge       = 30
)

// Resolution notes written when a request is resolved.
const (
	AcceptedNote = "Paciente aceito e cadastrado no sistema"
	RejectedNote = "Solicitação rejeitada pelo psicólogo"
)

func strPtr(s string) *string { return &s }
