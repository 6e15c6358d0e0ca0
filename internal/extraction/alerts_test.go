package extraction

import (
	"testing"

	"maichart/internal/session"
)

func TestDeriveAlerts(t *testing.T) {
	tests := []struct {
		name   string
		data   session.MedicalData
		titles []string
	}{
		{
			name:   "nothing notable",
			data:   session.MedicalData{ChronicDiseases: []string{"asthma"}},
			titles: []string{"NO CRITICAL ALERTS"},
		},
		{
			name:   "allergies",
			data:   session.MedicalData{Allergies: []string{"penicillin", " "}},
			titles: []string{"ALLERGIES IDENTIFIED"},
		},
		{
			name: "severity by scale",
			data: session.MedicalData{ChiefComplaintDetails: []session.ComplaintDetail{
				{Complaint: "headache", Severity: "8/10"},
				{Complaint: "cough", Severity: "mild"},
			}},
			titles: []string{"HIGH SEVERITY COMPLAINT"},
		},
		{
			name: "severity by word",
			data: session.MedicalData{ChiefComplaintDetails: []session.ComplaintDetail{
				{Complaint: "chest pain", Severity: "Severe"},
			}},
			titles: []string{"HIGH SEVERITY COMPLAINT"},
		},
		{
			name:   "two chronic diseases is not enough",
			data:   session.MedicalData{ChronicDiseases: []string{"diabetes", "hypertension"}},
			titles: []string{"NO CRITICAL ALERTS"},
		},
		{
			name: "everything",
			data: session.MedicalData{
				Allergies:             []string{"latex"},
				ChiefComplaintDetails: []session.ComplaintDetail{{Complaint: "back pain", Severity: "high"}},
				ChronicDiseases:       []string{"diabetes", "hypertension", "ckd"},
				DrugHistory:           []string{"metformin", "lisinopril", "aspirin", "atorvastatin"},
			},
			titles: []string{"ALLERGIES IDENTIFIED", "HIGH SEVERITY COMPLAINT", "MULTIPLE CHRONIC CONDITIONS", "POLYPHARMACY RISK"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.data.SessionID = "s1"
			alerts := DeriveAlerts(tc.data)
			if len(alerts) != len(tc.titles) {
				t.Fatalf("expected %d alerts, got %d: %+v", len(tc.titles), len(alerts), alerts)
			}
			for i, alert := range alerts {
				if alert.Title != tc.titles[i] {
					t.Fatalf("alert %d: expected %q, got %q", i, tc.titles[i], alert.Title)
				}
				if alert.SessionID != "s1" {
					t.Fatalf("alert %d missing session id", i)
				}
			}
		})
	}
}

func TestDeriveAlertsAllergyAction(t *testing.T) {
	alerts := DeriveAlerts(session.MedicalData{Allergies: []string{"sulfa"}})
	if alerts[0].Priority != session.PriorityCritical {
		t.Fatalf("expected critical, got %s", alerts[0].Priority)
	}
	if alerts[0].ActionRequired != "Verify before prescribing medications" {
		t.Fatalf("unexpected action %q", alerts[0].ActionRequired)
	}
}
