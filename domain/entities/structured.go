package entities

import (
	"encoding/json"
	"time"
)

// Severity grades a reported symptom
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// SymptomCandidate is an extracted, not-yet-persisted assertion about a
// named symptom. Confidence is passed through as reported by the model,
// downstream consumers are responsible for range validation.
type SymptomCandidate struct {
	Name       string   `json:"name"`
	Present    bool     `json:"present"`
	Confidence float64  `json:"confidence"`
	Duration   string   `json:"duration,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
}

// StructuredResult is the canonical output of the completion pipeline for
// one user turn. It is always non-nil: on any failure a degraded instance
// is produced instead of an error.
type StructuredResult struct {
	Greeting          string             `json:"greeting,omitempty"`
	ResponseText      string             `json:"response"`
	FollowUp          string             `json:"follow_up,omitempty"`
	ExtractedSymptoms []SymptomCandidate `json:"extracted_symptoms,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
}

// Serialize renders the result as the assistant message content. The raw
// model output is never persisted unparsed.
func (r *StructuredResult) Serialize() string {
	data, err := json.Marshal(r)
	if err != nil {
		return r.ResponseText
	}
	return string(data)
}

// Symptom is a persisted symptom record tied to an episode and the
// assistant message that extracted it.
type Symptom struct {
	ID         string    `json:"id"`
	EpisodeID  string    `json:"episode_id"`
	MessageID  string    `json:"message_id"`
	Name       string    `json:"name"`
	Present    bool      `json:"present"`
	Confidence float64   `json:"confidence"`
	Duration   string    `json:"duration,omitempty"`
	Severity   Severity  `json:"severity,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
