// Package llama implements the completion client against a local
// llama.cpp-style inference server.
package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/prompt"
)

// envelopeFields are the known field names under which the endpoint may
// return the generated text, tried in order.
var envelopeFields = []string{"content", "response", "text", "generation"}

// Client talks to a local completion endpoint over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// NewClient creates a new client for a local completion server
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Generous transport timeout. Deadlines are enforced by the
			// orchestrator, which abandons the logical wait instead of
			// cancelling the call.
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// Complete implements repositories.CompletionClient. Network failure,
// non-success status, and undecodable responses all collapse into
// ErrEndpointUnavailable.
func (c *Client) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      req.PromptText,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        prompt.MergeStops(req.StopSequences),
	})
	if err != nil {
		return repositories.RawCompletion{}, fmt.Errorf("failed to encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return repositories.RawCompletion{}, fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Completion request failed", zap.Error(err))
		return repositories.RawCompletion{}, fmt.Errorf("%w: %v", repositories.ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return repositories.RawCompletion{}, fmt.Errorf("%w: reading response: %v", repositories.ErrEndpointUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Completion endpoint returned non-success status",
			zap.Int("status", resp.StatusCode))
		return repositories.RawCompletion{}, fmt.Errorf("%w: status %d", repositories.ErrEndpointUnavailable, resp.StatusCode)
	}

	completion, err := decodeResponse(respBody)
	if err != nil {
		return repositories.RawCompletion{}, err
	}

	c.logger.Debug("Completion received",
		zap.Duration("latency", time.Since(start)),
		zap.String("source_format", string(completion.SourceFormat)),
		zap.Int("length", len(completion.Text)))

	return completion, nil
}

// decodeResponse tries the JSON envelope first, falling back field by
// field, and only treats the body as plain text when envelope decoding
// itself fails.
func decodeResponse(body []byte) (repositories.RawCompletion, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		if len(strings.TrimSpace(string(body))) == 0 {
			return repositories.RawCompletion{}, fmt.Errorf("%w: empty response body", repositories.ErrEndpointUnavailable)
		}
		return repositories.RawCompletion{
			Text:         string(body),
			SourceFormat: repositories.SourceFormatPlainText,
		}, nil
	}

	for _, field := range envelopeFields {
		if text, ok := envelope[field].(string); ok && text != "" {
			return repositories.RawCompletion{
				Text:         text,
				SourceFormat: repositories.SourceFormatJSON,
			}, nil
		}
	}

	// None of the known fields carried text, fall back to the whole
	// envelope serialized.
	serialized, err := json.Marshal(envelope)
	if err != nil || len(serialized) == 0 {
		return repositories.RawCompletion{}, fmt.Errorf("%w: undecodable response envelope", repositories.ErrEndpointUnavailable)
	}
	return repositories.RawCompletion{
		Text:         string(serialized),
		SourceFormat: repositories.SourceFormatJSON,
	}, nil
}
