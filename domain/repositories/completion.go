package repositories

import (
	"context"
	"errors"
)

// ErrEndpointUnavailable is reported for any condition that prevents the
// completion endpoint from producing usable text: connection failure,
// non-success status, or an undecodable response body. Callers recover
// identically in all three cases so the distinction is not surfaced.
var ErrEndpointUnavailable = errors.New("completion endpoint unavailable")

// Role defines the author of a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn represents a single turn in an ordered conversation.
// Order is meaningful and must be preserved when building a prompt.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries the parameters for one completion call.
// Built fresh per call and immutable once sent.
type CompletionRequest struct {
	PromptText    string
	Temperature   float64
	MaxTokens     int
	StopSequences []string
}

// SourceFormat records how the endpoint delivered its text
type SourceFormat string

const (
	SourceFormatJSON      SourceFormat = "json"
	SourceFormatPlainText SourceFormat = "plain_text"
)

// RawCompletion is the transient raw text returned by the endpoint,
// discarded after parsing.
type RawCompletion struct {
	Text         string
	SourceFormat SourceFormat
}

// CompletionClient abstracts any text completion provider
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (RawCompletion, error)
}
