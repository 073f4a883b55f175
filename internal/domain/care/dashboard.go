package care

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpcomingLimit caps the number of upcoming appointments on the dashboard.
const UpcomingLimit = 5

// UpcomingAppointment is an appointment with its resolved patient name.
type UpcomingAppointment struct {
	Appointment
	PatientName string `json:"patient_name"`
}

// Dashboard is the practitioner dashboard view model.
type Dashboard struct {
	PractitionerID       uuid.UUID             `json:"practitioner_id"`
	ActivePatientCount   int                   `json:"active_patient_count"`
	TodayAppointments    []Appointment         `json:"today_appointments"`
	CompletedSessions    int                   `json:"completed_sessions"`
	PendingRequestCount  int                   `json:"pending_request_count"`
	UpcomingAppointments []UpcomingAppointment `json:"upcoming_appointments"`
	IsNewPractitioner    bool                  `json:"is_new_practitioner"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

// Aggregate derives the dashboard for practitionerID from snap as of now.
// It is pure: the same inputs always produce the same output. search
// restricts upcoming appointments to patients whose name contains it,
// ignoring case.
func Aggregate(snap Snapshot, practitionerID uuid.UUID, now time.Time, search string) Dashboard {
	d := Dashboard{
		PractitionerID:       practitionerID,
		TodayAppointments:    []Appointment{},
		UpcomingAppointments: []UpcomingAppointment{},
		GeneratedAt:          now,
	}

	patientsByID := make(map[uuid.UUID]Patient, len(snap.Patients))
	for _, p := range snap.Patients {
		if p.PractitionerID != practitionerID {
			continue
		}
		patientsByID[p.ID] = p
		d.ActivePatientCount++
	}

	today := startOfDay(now)
	var owned int
	var upcoming []Appointment
	for _, a := range snap.Appointments {
		if a.PractitionerID != practitionerID {
			continue
		}
		owned++
		switch a.Status {
		case AppointmentScheduled:
			if calendarDay(a.Date, now.Location()).Equal(today) {
				d.TodayAppointments = append(d.TodayAppointments, a)
			}
			if !a.StartIn(now.Location()).Before(now) {
				upcoming = append(upcoming, a)
			}
		case AppointmentCompleted:
			d.CompletedSessions++
		}
	}

	var ownedRequests int
	for _, r := range snap.Requests {
		if r.PreferredPractitionerID != practitionerID {
			continue
		}
		ownedRequests++
		if r.Status == RequestPending {
			d.PendingRequestCount++
		}
	}

	d.IsNewPractitioner = d.ActivePatientCount == 0 && owned == 0 && ownedRequests == 0

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].StartIn(now.Location()).Before(upcoming[j].StartIn(now.Location()))
	})
	if len(upcoming) > UpcomingLimit {
		upcoming = upcoming[:UpcomingLimit]
	}

	needle := strings.ToLower(search)
	for _, a := range upcoming {
		p, ok := patientsByID[a.PatientID]
		if !ok {
			continue
		}
		if !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		d.UpcomingAppointments = append(d.UpcomingAppointments, UpcomingAppointment{
			Appointment: a,
			PatientName: p.Name,
		})
	}

	return d
}

// startOfDay zeroes the time-of-day of t in its own location.
func startOfDay(t time.Time) time.Time {
	return calendarDay(t, t.Location())
}

// calendarDay places t's calendar date at midnight in loc. The date fields
// are read in t's own location, so a stored date never shifts by a day.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
