package care

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// StatusCount is one slice of a status breakdown.
type StatusCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// MonthCount is the number of sessions scheduled in a calendar month.
type MonthCount struct {
	Month    string `json:"month"` // YYYY-MM
	Sessions int    `json:"sessions"`
}

// Report is the analytics view for a practitioner.
type Report struct {
	ActivePatients int           `json:"active_patients"`
	TotalSessions  int           `json:"total_sessions"`
	CompletionRate int           `json:"completion_rate"` // percent, rounded
	StatusData     []StatusCount `json:"status_data"`
	PatientsData   []StatusCount `json:"patients_data"`
	FrequencyData  []MonthCount  `json:"frequency_data"`
	HasNoData      bool          `json:"has_no_data"`
}

var appointmentStatusLabels = []struct {
	status AppointmentStatus
	label  string
}{
	{AppointmentScheduled, "Agendado"},
	{AppointmentStarted, "Iniciado"},
	{AppointmentCompleted, "Concluído"},
}

// BuildReport derives session and patient analytics from snap. Like
// Aggregate it never fails; records owned by other practitioners are ignored.
func BuildReport(snap Snapshot, practitionerID uuid.UUID) Report {
	r := Report{
		StatusData:    []StatusCount{},
		PatientsData:  []StatusCount{},
		FrequencyData: []MonthCount{},
	}

	byStatus := make(map[AppointmentStatus]int)
	byMonth := make(map[string]int)
	for _, a := range snap.Appointments {
		if a.PractitionerID != practitionerID {
			continue
		}
		r.TotalSessions++
		byStatus[a.Status]++
		byMonth[a.Date.Format("2006-01")]++
	}

	for _, l := range appointmentStatusLabels {
		if n := byStatus[l.status]; n > 0 {
			r.StatusData = append(r.StatusData, StatusCount{Name: l.label, Value: n})
		}
	}
	if r.TotalSessions > 0 {
		r.CompletionRate = int(math.Round(float64(byStatus[AppointmentCompleted]) * 100 / float64(r.TotalSessions)))
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	for _, m := range months {
		r.FrequencyData = append(r.FrequencyData, MonthCount{Month: m, Sessions: byMonth[m]})
	}

	patientStatus := make(map[string]int)
	var statusOrder []string
	for _, p := range snap.Patients {
		if p.PractitionerID != practitionerID {
			continue
		}
		r.ActivePatients++
		if _, seen := patientStatus[p.Status]; !seen {
			statusOrder = append(statusOrder, p.Status)
		}
		patientStatus[p.Status]++
	}
	for _, st := range statusOrder {
		r.PatientsData = append(r.PatientsData, StatusCount{Name: st, Value: patientStatus[st]})
	}

	r.HasNoData = r.ActivePatients == 0 && r.TotalSessions == 0
	return r
}
