package care

import (
	"time"

	"github.com/google/uuid"
)

// SeedDemo fills store with a small practice for practitionerID: two
// patients, a week of appointments around now and three care requests, one
// of them from an existing patient's e-mail.
func SeedDemo(store *MemoryStore, practitionerID uuid.UUID, now time.Time) {
	day := func(offset int) time.Time {
		y, m, d := now.AddDate(0, 0, offset).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	ana := store.AddPatient(Patient{
		Name:           "Ana Souza",
		Email:          "ana.souza@example.com",
		Phone:          "(11) 98888-1111",
		Age:            28,
		BirthDate:      time.Date(1997, time.May, 14, 0, 0, 0, 0, time.UTC),
		Status:         PatientInTreatment,
		PractitionerID: practitionerID,
	})
	bruno := store.AddPatient(Patient{
		Name:           "Bruno Lima",
		Email:          "bruno.lima@example.com",
		Phone:          "(21) 97777-2222",
		Age:            DefaultAge,
		BirthDate:      DefaultBirthDate,
		Status:         PatientActive,
		PractitionerID: practitionerID,
	})

	appts := []Appointment{
		{PatientID: ana.ID, Date: day(-7), Time: "10:00", Status: AppointmentCompleted, Description: "Sessão inicial"},
		{PatientID: bruno.ID, Date: day(-2), Time: "15:00", Status: AppointmentCompleted, Description: "Acompanhamento"},
		{PatientID: ana.ID, Date: day(0), Time: "18:00", Status: AppointmentScheduled, Description: "Sessão semanal"},
		{PatientID: bruno.ID, Date: day(1), Time: "09:30", Status: AppointmentScheduled, Description: "Acompanhamento"},
		{PatientID: ana.ID, Date: day(7), Time: "18:00", Status: AppointmentScheduled, Description: "Sessão semanal"},
	}
	for _, a := range appts {
		a.PractitionerID = practitionerID
		store.AddAppointment(a)
	}

	store.AddRequest(Request{
		PatientName:             "Carla Mendes",
		PatientEmail:            "carla.mendes@example.com",
		PatientPhone:            "(31) 96666-3333",
		Description:             "Crises de ansiedade frequentes no trabalho.",
		Urgency:                 UrgencyHigh,
		PreferredPractitionerID: practitionerID,
		CreatedAt:               now.Add(-3 * time.Hour),
	})
	store.AddRequest(Request{
		PatientName:             "Diego Rocha",
		PatientEmail:            "diego.rocha@example.com",
		PatientPhone:            "(41) 95555-4444",
		Description:             "Dificuldade para dormir há alguns meses.",
		Urgency:                 UrgencyMedium,
		PreferredPractitionerID: practitionerID,
		CreatedAt:               now.Add(-26 * time.Hour),
	})
	store.AddRequest(Request{
		PatientName:             "Ana Souza",
		PatientEmail:            ana.Email,
		PatientPhone:            ana.Phone,
		Description:             "Gostaria de retomar o acompanhamento.",
		Urgency:                 UrgencyLow,
		PreferredPractitionerID: practitionerID,
		CreatedAt:               now.Add(-48 * time.Hour),
	})
}
