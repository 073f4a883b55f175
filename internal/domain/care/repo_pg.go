package care

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	db queryable
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{db: pool} }

// =========== Appointments ===========

const apptCols = `id, patient_id, practitioner_id, date, time, status, description, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.Date, &a.Time, &status, &a.Description, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := a.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) ListAppointments(ctx context.Context, practitionerID uuid.UUID) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE practitioner_id = $1 ORDER BY date, time, created_at`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

// allowedPredecessors lists the statuses an appointment may advance from.
func allowedPredecessors(next AppointmentStatus) []string {
	var out []string
	for st := range appointmentOrder {
		if st.CanAdvanceTo(next) {
			out = append(out, string(st))
		}
	}
	return out
}

func (s *PGStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	a, err := scanAppointment(s.db.QueryRow(ctx, `
		UPDATE appointment SET status = $2
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+apptCols, id, string(status), allowedPredecessors(status)))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	var current string
	if err := s.db.QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// =========== Patients ===========

const patientCols = `id, name, email, phone, age, birth_date, status, practitioner_id, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Age, &p.BirthDate, &p.Status, &p.PractitionerID, &p.CreatedAt)
	return &p, err
}

func (s *PGStore) ListPatients(ctx context.Context, practitionerID uuid.UUID) ([]Patient, error) {
	rows, err := s.db.Query(ctx, `SELECT `+patientCols+` FROM patient WHERE practitioner_id = $1 ORDER BY created_at`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

const uniqueViolation = "23505"

func (s *PGStore) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	p.ID = uuid.New()
	err := s.db.QueryRow(ctx, `
		INSERT INTO patient (id, name, email, phone, age, birth_date, status, practitioner_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		p.ID, p.Name, p.Email, p.Phone, p.Age, p.BirthDate, p.Status, p.PractitionerID).Scan(&p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicatePatient, p.Email)
	}
	return err
}

func (s *PGStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// =========== Requests ===========

const requestCols = `id, patient_name, patient_email, patient_phone, description, urgency,
	status, preferred_practitioner_id, created_at, notes`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var urgency, status string
	err := row.Scan(&r.ID, &r.PatientName, &r.PatientEmail, &r.PatientPhone, &r.Description, &urgency,
		&status, &r.PreferredPractitionerID, &r.CreatedAt, &r.Notes)
	if err != nil {
		return nil, err
	}
	if err := r.Urgency.UnmarshalText([]byte(urgency)); err != nil {
		return nil, err
	}
	if err := r.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGStore) ListRequests(ctx context.Context, practitionerID uuid.UUID) ([]Request, error) {
	rows, err := s.db.Query(ctx, `SELECT `+requestCols+` FROM care_request WHERE preferred_practitioner_id = $1 ORDER BY created_at`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *r)
	}
	return items, rows.Err()
}

func (s *PGStore) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestCols+` FROM care_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (s *PGStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status RequestStatus, note string) (*Request, error) {
	if !status.Resolved() {
		return nil, fmt.Errorf("%w: resolution %s", ErrInvalidStatus, status)
	}
	r, err := scanRequest(s.db.QueryRow(ctx, `
		UPDATE care_request SET status = $2, notes = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pendente'
		RETURNING `+requestCols, id, string(status), note))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStaleRequestState
}
