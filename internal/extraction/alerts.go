package extraction

import (
	"fmt"
	"strings"

	"maichart/internal/session"
)

// Thresholds for count-based alerts.
const (
	chronicConditionThreshold = 2
	polypharmacyThreshold     = 3
)

var severeMarkers = []string{"severe", "high", "8", "9", "10"}

// DeriveAlerts applies the alert rules to data. The result is never empty:
// data that triggers no rule yields a single low-priority alert.
func DeriveAlerts(data session.MedicalData) []session.MedicalAlert {
	var alerts []session.MedicalAlert

	if allergies := nonEmpty(data.Allergies); len(allergies) > 0 {
		alerts = append(alerts, session.MedicalAlert{
			Priority:       session.PriorityCritical,
			Title:          "ALLERGIES IDENTIFIED",
			Message:        fmt.Sprintf("Patient has %d known allergies", len(allergies)),
			Details:        allergies,
			ActionRequired: "Verify before prescribing medications",
		})
	}

	var severe []string
	for _, detail := range data.ChiefComplaintDetails {
		if isSevere(detail.Severity) {
			name := strings.TrimSpace(detail.Complaint)
			if name == "" {
				name = "Unknown"
			}
			severe = append(severe, name)
		}
	}
	if len(severe) > 0 {
		alerts = append(alerts, session.MedicalAlert{
			Priority:       session.PriorityHigh,
			Title:          "HIGH SEVERITY COMPLAINT",
			Message:        fmt.Sprintf("%d high-severity complaints identified", len(severe)),
			Details:        severe,
			ActionRequired: "Immediate medical attention may be required",
		})
	}

	if chronic := nonEmpty(data.ChronicDiseases); len(chronic) > chronicConditionThreshold {
		alerts = append(alerts, session.MedicalAlert{
			Priority:       session.PriorityMedium,
			Title:          "MULTIPLE CHRONIC CONDITIONS",
			Message:        fmt.Sprintf("Patient has %d chronic conditions", len(chronic)),
			Details:        chronic,
			ActionRequired: "Consider drug interactions and comprehensive care plan",
		})
	}

	if drugs := nonEmpty(data.DrugHistory); len(drugs) > polypharmacyThreshold {
		alerts = append(alerts, session.MedicalAlert{
			Priority:       session.PriorityMedium,
			Title:          "POLYPHARMACY RISK",
			Message:        fmt.Sprintf("Patient taking %d medications", len(drugs)),
			Details:        drugs,
			ActionRequired: "Review for potential drug interactions",
		})
	}

	if len(alerts) == 0 {
		alerts = append(alerts, session.MedicalAlert{
			Priority:       session.PriorityLow,
			Title:          "NO CRITICAL ALERTS",
			Message:        "No immediate medical alerts identified",
			Details:        []string{},
			ActionRequired: "Continue routine care",
		})
	}
	for i := range alerts {
		alerts[i].SessionID = data.SessionID
	}
	return alerts
}

func isSevere(severity string) bool {
	lower := strings.ToLower(severity)
	for _, marker := range severeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
