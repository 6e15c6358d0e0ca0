package extraction

import (
	"context"
	"strings"
	"time"

	"maichart/internal/config"
	"maichart/internal/services"
	"maichart/internal/services/llm"
	"maichart/internal/session"
)

// Extractor produces structured medical data from transcript text.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (session.MedicalData, error)
}

const systemPrompt = `You are a clinical documentation assistant. Read a doctor-patient consultation transcript and extract the facts the patient or doctor actually stated. Do not guess. Respond with a single JSON object with exactly these keys:
{
  "patient_details": {"name": "", "age": "", "gender": "", "marital_status": "", "residence": ""},
  "chief_complaints": [],
  "chief_complaint_details": [{"complaint": "", "location": "", "severity": "", "duration": ""}],
  "past_history": [],
  "chronic_diseases": [],
  "lifestyle": [{"habit": "", "frequency": "", "duration": ""}],
  "drug_history": [],
  "family_history": [],
  "allergies": [],
  "symptoms": [],
  "possible_diseases": []
}
Use empty strings and empty arrays for anything not mentioned. Severity should quote the patient's own scale or words when given.`

// LLMExtractor asks a chat model for the medical data as JSON.
type LLMExtractor struct {
	client *llm.Client
	now    func() time.Time
}

// NewLLMExtractor builds an extractor from the extraction config.
func NewLLMExtractor(cfg config.Extraction, opts ...llm.Option) *LLMExtractor {
	return &LLMExtractor{
		client: llm.NewClient(llm.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			TimeoutSeconds: cfg.TimeoutSeconds,
		}, opts...),
		now: time.Now,
	}
}

// Configured reports whether the extractor has credentials.
func (e *LLMExtractor) Configured() bool {
	return e != nil && e.client.Configured()
}

// Extract sends transcript to the model and decodes its answer.
func (e *LLMExtractor) Extract(ctx context.Context, transcript string) (session.MedicalData, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return session.MedicalData{}, services.Wrap(services.ErrValidation, "extraction", "extract", "transcript is empty", nil)
	}
	start := e.now()
	content, err := e.client.CompleteJSON(ctx, systemPrompt, "Transcript:\n"+transcript)
	if err != nil {
		return session.MedicalData{}, err
	}
	var data session.MedicalData
	if err := llm.DecodeJSON(content, &data); err != nil {
		return session.MedicalData{}, services.Wrap(services.ErrTransient, "extraction", "decode", "model returned invalid JSON", err)
	}
	normalize(&data)
	data.ExtractionMetadata = session.ExtractionMetadata{
		Method:                "llm",
		Model:                 e.client.Model(),
		ProcessingTimeSeconds: e.now().Sub(start).Seconds(),
		ExtractedAt:           e.now().UTC(),
		TranscriptLength:      len(transcript),
	}
	return data, nil
}

// normalize trims entries and replaces nil lists with empty ones so the JSON
// document always carries every key.
func normalize(data *session.MedicalData) {
	for _, list := range []*[]string{
		&data.ChiefComplaints, &data.PastHistory, &data.ChronicDiseases, &data.DrugHistory,
		&data.FamilyHistory, &data.Allergies, &data.Symptoms, &data.PossibleDiseases,
	} {
		*list = nonEmpty(*list)
	}
	details := make([]session.ComplaintDetail, 0, len(data.ChiefComplaintDetails))
	for _, d := range data.ChiefComplaintDetails {
		if strings.TrimSpace(d.Complaint) == "" {
			continue
		}
		details = append(details, d)
	}
	data.ChiefComplaintDetails = details
	habits := make([]session.LifestyleHabit, 0, len(data.Lifestyle))
	for _, h := range data.Lifestyle {
		if strings.TrimSpace(h.Habit) == "" {
			continue
		}
		habits = append(habits, h)
	}
	data.Lifestyle = habits
}
