// Package mockllm provides a canned completion backend for local
// development without a running inference endpoint.
package mockllm

import (
	"context"
	"strings"

	"github.com/easygp/server/domain/repositories"
)

// Client is a placeholder implementation of repositories.CompletionClient
type Client struct{}

// NewClient creates a new mock completion client
func NewClient() *Client {
	return &Client{}
}

// Complete implements repositories.CompletionClient. Structured prompts
// get a small valid JSON reply with one symptom so the downstream
// pipeline is fully exercised; free-text prompts get a conversational
// sentence.
func (c *Client) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	if strings.Contains(req.PromptText, "valid JSON") {
		return repositories.RawCompletion{
			Text: `{"greeting": "Hello", "response": "Thanks for telling me. How long has the sore throat lasted?",` +
				` "follow_up": "Any fever with it?",` +
				` "extracted_symptoms": [{"name": "sore throat", "present": true, "confidence": 0.85}]}`,
			SourceFormat: repositories.SourceFormatJSON,
		}, nil
	}

	return repositories.RawCompletion{
		Text:         "Thanks for telling me. Could you describe your symptoms?",
		SourceFormat: repositories.SourceFormatPlainText,
	}, nil
}
