package api

import "github.com/easygp/server/domain/entities"

// CreateEpisodeRequest opens a new consultation episode.
type CreateEpisodeRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest appends a user message to an episode and runs the
// completion pipeline against it.
type SendMessageRequest struct {
	Content string `json:"content"`
	// Plain skips structured extraction and returns the raw reply text.
	Plain bool `json:"plain,omitempty"`
	// SystemPrompt optionally overrides the default clinical persona.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// SendMessageResponse carries the assistant's reply for one user turn.
type SendMessageResponse struct {
	Response  string                      `json:"response"`
	Greeting  string                      `json:"greeting,omitempty"`
	FollowUp  string                      `json:"follow_up,omitempty"`
	Symptoms  []entities.SymptomCandidate `json:"extracted_symptoms,omitempty"`
	EpisodeID string                      `json:"episode_id"`
}

// FollowUpRequest processes a clinician note against an existing
// assistant message, extracting symptoms without adding a chat turn.
type FollowUpRequest struct {
	MessageID string `json:"message_id"`
	Note      string `json:"note"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
