// Package gemini implements the completion client against the Gemini API,
// as an alternative backend to the local llama endpoint.
package gemini

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/prompt"
)

const defaultModel = "gemini-2.0-flash"

// Client implements repositories.CompletionClient using Google's Gemini API
type Client struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewClient creates a new Gemini-backed completion client. An empty
// model falls back to the default.
func NewClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client: client,
		logger: logger,
		model:  model,
	}, nil
}

// Complete implements repositories.CompletionClient. Any API failure or
// empty candidate set collapses into ErrEndpointUnavailable, matching the
// local backend's contract.
func (c *Client) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
		StopSequences:   prompt.MergeStops(req.StopSequences),
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.PromptText, genai.RoleUser),
	}

	response, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		c.logger.Warn("Gemini generation failed", zap.Error(err))
		return repositories.RawCompletion{}, fmt.Errorf("%w: %v", repositories.ErrEndpointUnavailable, err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return repositories.RawCompletion{}, fmt.Errorf("%w: no candidates generated", repositories.ErrEndpointUnavailable)
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return repositories.RawCompletion{}, fmt.Errorf("%w: empty candidate text", repositories.ErrEndpointUnavailable)
	}

	return repositories.RawCompletion{
		Text:         text,
		SourceFormat: repositories.SourceFormatPlainText,
	}, nil
}
