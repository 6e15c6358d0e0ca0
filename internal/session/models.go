package session

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusError,
}

// statusRank orders statuses along the forward-only lifecycle. Terminal
// statuses share the highest rank so neither can replace the other.
var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusError:      2,
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns a copy of all known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsTerminal reports whether no further automatic transition occurs.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a write may move a session from s to next.
// Processing may be rewritten to update the step; terminal states are final.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	return to > from
}

// Processing steps reported while status is processing.
const (
	StepAnalyzingAudio   = "analyzing_audio"
	StepProcessingAudio  = "processing_audio"
	StepSavingTranscript = "saving_transcript"
)

// Recording modes.
const (
	ModeUpload    = "upload"
	ModeStreaming = "streaming"
)

// ExtractionStatus tracks medical extraction separately from the session
// status so an extraction failure never regresses a completed session.
type ExtractionStatus string

const (
	ExtractionNone       ExtractionStatus = ""
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionSkipped    ExtractionStatus = "skipped"
	ExtractionError      ExtractionStatus = "error"
)

// Session is the unit-of-work record for one audio artifact.
type Session struct {
	ID                    string
	Status                Status
	Step                  string
	Error                 string
	ErrorAt               *time.Time
	Filename              string
	FileSize              int64
	ContentType           string
	AudioPath             string
	TranscriptPath        string
	RecordingMode         string
	ChunksReceived        int
	LastChunkSequence     *int
	Worker                string
	AudioDuration         float64
	ExtractionStatus      ExtractionStatus
	ExtractionError       string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

// IsStreaming reports whether the session was created from chunked uploads.
func (s *Session) IsStreaming() bool {
	return s != nil && s.RecordingMode == ModeStreaming
}

// StatusUpdate describes a guarded status write. Empty fields are left as is.
type StatusUpdate struct {
	Status         Status
	Step           string
	Error          string
	Worker         string
	AudioDuration  float64
	TranscriptPath string
	// Extraction, when set, is written alongside the status change.
	Extraction ExtractionStatus
}

// Transcript is the final text for a session.
type Transcript struct {
	SessionID  string
	Text       string
	Confidence float64
	Duration   float64
	WordCount  int
	Filename   string
	Language   string
	CreatedAt  time.Time
}

// ChunkTranscript is the transcription of one streaming chunk.
type ChunkTranscript struct {
	SessionID   string
	Sequence    int
	Text        string
	Confidence  float64
	Duration    float64
	IsLastChunk bool
	CreatedAt   time.Time
}

// PatientDetails holds demographic fields mentioned in the consultation.
type PatientDetails struct {
	Name          string `json:"name,omitempty"`
	Age           string `json:"age,omitempty"`
	Gender        string `json:"gender,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty"`
	Residence     string `json:"residence,omitempty"`
}

// ComplaintDetail qualifies a chief complaint.
type ComplaintDetail struct {
	Complaint string `json:"complaint"`
	Location  string `json:"location,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// LifestyleHabit records a habit with its frequency.
type LifestyleHabit struct {
	Habit     string `json:"habit"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// ExtractionMetadata describes how medical data was produced.
type ExtractionMetadata struct {
	Method                string    `json:"method"`
	Model                 string    `json:"model,omitempty"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	ExtractedAt           time.Time `json:"extracted_at"`
	TranscriptLength      int       `json:"transcript_length"`
}

// MedicalData is the structured extraction result for a session.
type MedicalData struct {
	SessionID             string             `json:"session_id"`
	PatientDetails        PatientDetails     `json:"patient_details"`
	ChiefComplaints       []string           `json:"chief_complaints"`
	ChiefComplaintDetails []ComplaintDetail  `json:"chief_complaint_details"`
	PastHistory           []string           `json:"past_history"`
	ChronicDiseases       []string           `json:"chronic_diseases"`
	Lifestyle             []LifestyleHabit   `json:"lifestyle"`
	DrugHistory           []string           `json:"drug_history"`
	FamilyHistory         []string           `json:"family_history"`
	Allergies             []string           `json:"allergies"`
	Symptoms              []string           `json:"symptoms"`
	PossibleDiseases      []string           `json:"possible_diseases"`
	ExtractionMetadata    ExtractionMetadata `json:"extraction_metadata"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Priority ranks medical alerts.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the listing order for p; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	default:
		return 4
	}
}

// MedicalAlert is derived from medical data and read-only to clients.
type MedicalAlert struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Priority       Priority  `json:"priority"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Details        []string  `json:"details"`
	ActionRequired string    `json:"action_required"`
	CreatedAt      time.Time `json:"created_at"`
}

// Note is a completed session summary for listing.
type Note struct {
	SessionID        string
	Text             string
	Confidence       float64
	Duration         float64
	WordCount        int
	Filename         string
	FileSize         int64
	RecordingMode    string
	ExtractionStatus ExtractionStatus
	CreatedAt        time.Time
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
