package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/prompt"
	"github.com/easygp/server/internal/schema"
)

// FallbackResponseText is the fixed reply substituted whenever the
// pipeline cannot produce a real result in time or at all. The user
// always sees an explicit statement instead of an empty bubble.
const FallbackResponseText = "I'm sorry, I wasn't able to process that right now. Please try again in a moment."

// Invocation outcomes, for diagnostics only
type invocationState string

const (
	stateSucceeded invocationState = "succeeded"
	stateTimedOut  invocationState = "timed_out"
	stateFailed    invocationState = "failed"
)

// Config holds the pipeline tunables. Zero values fall back to the
// defaults below.
type Config struct {
	FreeTextTemperature   float64
	StructuredTemperature float64
	MaxTokens             int
	ChatDeadline          time.Duration
	ProcessingDeadline    time.Duration
	StopSequences         []string
}

// DefaultConfig returns the stock pipeline configuration
func DefaultConfig() Config {
	return Config{
		FreeTextTemperature:   0.7,
		StructuredTemperature: 0.2,
		MaxTokens:             500,
		ChatDeadline:          60 * time.Second,
		ProcessingDeadline:    15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.FreeTextTemperature == 0 {
		c.FreeTextTemperature = defaults.FreeTextTemperature
	}
	if c.StructuredTemperature == 0 {
		c.StructuredTemperature = defaults.StructuredTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.ChatDeadline == 0 {
		c.ChatDeadline = defaults.ChatDeadline
	}
	if c.ProcessingDeadline == 0 {
		c.ProcessingDeadline = defaults.ProcessingDeadline
	}
	return c
}

// SendOptions carries per-call overrides. Zero values use the service
// configuration.
type SendOptions struct {
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	StopSequences []string
	Deadline      time.Duration
}

// ConsultService runs the structured completion pipeline: prompt
// construction, bounded-time completion, recovery and extraction, and
// persistence of the resulting records as one logical unit.
type ConsultService struct {
	client    repositories.CompletionClient
	extractor *Extractor
	episodes  repositories.EpisodeRepository
	messages  repositories.MessageRepository
	symptoms  repositories.SymptomRepository
	config    Config
	logger    *zap.Logger
}

// NewConsultService creates a new consultation service
func NewConsultService(
	client repositories.CompletionClient,
	episodes repositories.EpisodeRepository,
	messages repositories.MessageRepository,
	symptoms repositories.SymptomRepository,
	config Config,
	logger *zap.Logger,
) *ConsultService {
	return &ConsultService{
		client:    client,
		extractor: NewExtractor(logger),
		episodes:  episodes,
		messages:  messages,
		symptoms:  symptoms,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// SendStructured runs the full pipeline for the conversation's trailing
// user turn and returns the structured result. It never fails: endpoint
// unavailability and deadline expiry both degrade to the fixed fallback,
// and exactly one assistant message is persisted either way.
func (s *ConsultService) SendStructured(ctx context.Context, episodeID string, conversation []repositories.ConversationTurn, opts SendOptions) *entities.StructuredResult {
	s.persistUserTurn(ctx, episodeID, conversation)

	promptText := prompt.Format(conversation, opts.SystemPrompt, schema.Instruction())
	raw, state := s.complete(ctx, promptText, s.temperature(opts, s.config.StructuredTemperature), opts)

	var result *entities.StructuredResult
	if state == stateSucceeded {
		result = s.extractor.Extract(raw.Text)
	} else {
		result = &entities.StructuredResult{ResponseText: FallbackResponseText}
	}

	// The reply must land even when the caller's context died during the
	// completion wait, or the user message would be left unpaired.
	persistCtx := context.WithoutCancel(ctx)
	assistantID := s.persistAssistantTurn(persistCtx, episodeID, result.Serialize())
	s.persistSymptoms(persistCtx, episodeID, assistantID, result.ExtractedSymptoms)

	return result
}

// SendPlain runs a free-text completion over the conversation with the
// same persistence and fallback guarantees, without symptom extraction.
func (s *ConsultService) SendPlain(ctx context.Context, episodeID string, conversation []repositories.ConversationTurn, opts SendOptions) string {
	s.persistUserTurn(ctx, episodeID, conversation)

	promptText := prompt.Format(conversation, opts.SystemPrompt, "")
	raw, state := s.complete(ctx, promptText, s.temperature(opts, s.config.FreeTextTemperature), opts)

	text := FallbackResponseText
	if state == stateSucceeded {
		text = raw.Text
	}

	s.persistAssistantTurn(context.WithoutCancel(ctx), episodeID, text)
	return text
}

// ProcessFollowUp re-runs structured extraction over a free-text note on
// the secondary processing deadline, persisting recovered symptoms
// against an existing message without producing a chat turn.
func (s *ConsultService) ProcessFollowUp(ctx context.Context, episodeID, messageID, note string) *entities.StructuredResult {
	conversation := []repositories.ConversationTurn{
		{Role: repositories.RoleUser, Content: note},
	}
	promptText := prompt.Format(conversation, "Extract the symptoms reported in the patient's note.", schema.Instruction())

	opts := SendOptions{Deadline: s.config.ProcessingDeadline}
	raw, state := s.complete(ctx, promptText, s.config.StructuredTemperature, opts)

	if state != stateSucceeded {
		return &entities.StructuredResult{ResponseText: FallbackResponseText}
	}

	result := s.extractor.Extract(raw.Text)
	s.persistSymptoms(context.WithoutCancel(ctx), episodeID, messageID, result.ExtractedSymptoms)
	return result
}

// complete races one completion call against the deadline. On expiry the
// in-flight call is abandoned, not cancelled: a late result is discarded
// so it can never overwrite an already-persisted fallback.
func (s *ConsultService) complete(ctx context.Context, promptText string, temperature float64, opts SendOptions) (repositories.RawCompletion, invocationState) {
	deadline := opts.Deadline
	if deadline == 0 {
		deadline = s.config.ChatDeadline
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.config.MaxTokens
	}

	req := repositories.CompletionRequest{
		PromptText:    promptText,
		Temperature:   temperature,
		MaxTokens:     maxTokens,
		StopSequences: append(append([]string{}, s.config.StopSequences...), opts.StopSequences...),
	}

	type outcome struct {
		raw repositories.RawCompletion
		err error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		// Detach from the caller's cancellation: the deadline abandons
		// the logical wait, the network call is left to finish on its own.
		raw, err := s.client.Complete(context.WithoutCancel(ctx), req)
		resultCh <- outcome{raw: raw, err: err}
	}()

	start := time.Now()
	select {
	case out := <-resultCh:
		if out.err != nil {
			s.logger.Warn("Completion failed",
				zap.Duration("elapsed", time.Since(start)),
				zap.String("state", string(stateFailed)),
				zap.Error(out.err))
			return repositories.RawCompletion{}, stateFailed
		}
		return out.raw, stateSucceeded

	case <-time.After(deadline):
		s.logger.Warn("Completion deadline elapsed, using fallback",
			zap.Duration("deadline", deadline),
			zap.String("state", string(stateTimedOut)))
		return repositories.RawCompletion{}, stateTimedOut

	case <-ctx.Done():
		s.logger.Warn("Caller context done before completion settled",
			zap.String("state", string(stateTimedOut)),
			zap.Error(ctx.Err()))
		return repositories.RawCompletion{}, stateTimedOut
	}
}

// persistUserTurn persists the conversation's trailing user turn. A
// persistence failure is logged and the pipeline continues: the reply
// matters more than all-or-nothing bookkeeping.
func (s *ConsultService) persistUserTurn(ctx context.Context, episodeID string, conversation []repositories.ConversationTurn) {
	if len(conversation) == 0 {
		return
	}
	last := conversation[len(conversation)-1]
	if last.Role != repositories.RoleUser {
		return
	}

	message := &entities.Message{
		EpisodeID: episodeID,
		Role:      entities.MessageRoleUser,
		Content:   last.Content,
		Timestamp: time.Now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		s.logger.Error("Failed to persist user message",
			zap.String("episode_id", episodeID),
			zap.Error(err))
	}
	s.touchEpisode(ctx, episodeID)
}

func (s *ConsultService) persistAssistantTurn(ctx context.Context, episodeID, content string) string {
	message := &entities.Message{
		EpisodeID: episodeID,
		Role:      entities.MessageRoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		s.logger.Error("Failed to persist assistant message",
			zap.String("episode_id", episodeID),
			zap.Error(err))
		return ""
	}
	s.touchEpisode(ctx, episodeID)
	return message.ID
}

func (s *ConsultService) persistSymptoms(ctx context.Context, episodeID, messageID string, candidates []entities.SymptomCandidate) {
	for _, candidate := range candidates {
		symptom := &entities.Symptom{
			EpisodeID:  episodeID,
			MessageID:  messageID,
			Name:       candidate.Name,
			Present:    candidate.Present,
			Confidence: candidate.Confidence,
			Duration:   candidate.Duration,
			Severity:   candidate.Severity,
			RecordedAt: time.Now(),
		}
		if err := s.symptoms.Create(ctx, symptom); err != nil {
			s.logger.Error("Failed to persist symptom",
				zap.String("episode_id", episodeID),
				zap.String("name", candidate.Name),
				zap.Error(err))
		}
	}
}

func (s *ConsultService) touchEpisode(ctx context.Context, episodeID string) {
	episode, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return
	}
	episode.Touch()
	if err := s.episodes.Update(ctx, episode); err != nil {
		s.logger.Warn("Failed to update episode timestamp",
			zap.String("episode_id", episodeID),
			zap.Error(err))
	}
}

func (s *ConsultService) temperature(opts SendOptions, fallback float64) float64 {
	if opts.Temperature != 0 {
		return opts.Temperature
	}
	return fallback
}
