package entities

import (
	"errors"
	"time"
)

// EpisodeStatus represents the lifecycle state of a consultation episode
type EpisodeStatus string

const (
	EpisodeStatusOpen   EpisodeStatus = "open"
	EpisodeStatusClosed EpisodeStatus = "closed"
)

// MessageRole represents the author of a persisted message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Episode represents one consultation conversation. It is the grouping
// unit for messages and symptom records.
type Episode struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Status        EpisodeStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
}

// NewEpisode creates a new open episode
func NewEpisode(title string) *Episode {
	return &Episode{
		Title:     title,
		Status:    EpisodeStatusOpen,
		CreatedAt: time.Now(),
	}
}

// Touch updates the last message timestamp
func (e *Episode) Touch() {
	now := time.Now()
	e.LastMessageAt = &now
}

// Close marks the episode as closed
func (e *Episode) Close() {
	e.Status = EpisodeStatusClosed
}

// Validate validates the episode data
func (e *Episode) Validate() error {
	if e.Status != EpisodeStatusOpen && e.Status != EpisodeStatusClosed {
		return errors.New("invalid episode status")
	}
	return nil
}

// Message represents a single persisted message in an episode. Assistant
// message content is the serialized structured result, never the raw model
// output.
type Message struct {
	ID        string      `json:"id"`
	EpisodeID string      `json:"episode_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Validate validates the message data
func (m *Message) Validate() error {
	if m.EpisodeID == "" {
		return errors.New("episode_id is required")
	}
	if m.Role != MessageRoleUser && m.Role != MessageRoleAssistant {
		return errors.New("invalid message role")
	}
	if m.Content == "" {
		return errors.New("content is required")
	}
	return nil
}
