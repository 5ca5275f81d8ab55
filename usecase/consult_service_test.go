package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/easygp/server/adapters/memory"
	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/feed"
)

const structuredReply = `{"response": "How long has the fever lasted?", "extracted_symptoms": [{"name": "fever", "present": true, "confidence": 0.9}]}`

// scriptedClient returns fixed completions in order
type scriptedClient struct {
	replies []repositories.RawCompletion
	calls   int
}

func (c *scriptedClient) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	if c.calls >= len(c.replies) {
		return repositories.RawCompletion{}, fmt.Errorf("%w: script exhausted", repositories.ErrEndpointUnavailable)
	}
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

// failingClient simulates connection refusal
type failingClient struct{}

func (c *failingClient) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	return repositories.RawCompletion{}, fmt.Errorf("%w: connection refused", repositories.ErrEndpointUnavailable)
}

// hangingClient blocks until released, then returns its reply
type hangingClient struct {
	release chan struct{}
	reply   repositories.RawCompletion
	done    chan struct{}
}

func newHangingClient(reply repositories.RawCompletion) *hangingClient {
	return &hangingClient{
		release: make(chan struct{}),
		reply:   reply,
		done:    make(chan struct{}),
	}
}

func (c *hangingClient) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	<-c.release
	close(c.done)
	return c.reply, nil
}

// cancellingClient cancels the caller's context once invoked, then hangs
// until released, mimicking a backend that outlives its caller.
type cancellingClient struct {
	cancel  context.CancelFunc
	release chan struct{}
}

func (c *cancellingClient) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	c.cancel()
	<-c.release
	return repositories.RawCompletion{}, fmt.Errorf("%w: released after cancellation", repositories.ErrEndpointUnavailable)
}

// deadContextMessages rejects writes once the context is cancelled, the
// way a real database driver does.
type deadContextMessages struct {
	repositories.MessageRepository
}

func (r *deadContextMessages) Create(ctx context.Context, message *entities.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MessageRepository.Create(ctx, message)
}

func newTestService(t testing.TB, client repositories.CompletionClient) (*ConsultService, *memory.Store, string) {
	t.Helper()

	store := memory.NewStore(feed.NewHub())
	episode := entities.NewEpisode("test consultation")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Failed to create episode: %v", err)
	}

	service := NewConsultService(
		client,
		store.Episodes(),
		store.Messages(),
		store.Symptoms(),
		Config{},
		zap.NewNop(),
	)
	return service, store, episode.ID
}

func userTurn(content string) []repositories.ConversationTurn {
	return []repositories.ConversationTurn{
		{Role: repositories.RoleUser, Content: content},
	}
}

func TestSendStructuredSuccessPersistsTurnPairAndSymptoms(t *testing.T) {
	client := &scriptedClient{replies: []repositories.RawCompletion{
		{Text: structuredReply, SourceFormat: repositories.SourceFormatJSON},
	}}
	service, store, episodeID := newTestService(t, client)
	ctx := context.Background()

	result := service.SendStructured(ctx, episodeID, userTurn("I have a fever"), SendOptions{})

	if result.ResponseText != "How long has the fever lasted?" {
		t.Errorf("Unexpected response text %q", result.ResponseText)
	}

	messages, err := store.Messages().GetByEpisodeID(ctx, episodeID)
	if err != nil {
		t.Fatalf("Failed to query messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != entities.MessageRoleUser || messages[0].Content != "I have a fever" {
		t.Errorf("Unexpected user message %+v", messages[0])
	}
	if messages[1].Role != entities.MessageRoleAssistant {
		t.Errorf("Expected assistant message, got %+v", messages[1])
	}
	if !messages[0].Timestamp.Before(messages[1].Timestamp) {
		t.Error("Assistant message must have a later timestamp than the user message")
	}

	// Assistant content is the serialized structured result, never raw output
	var persisted entities.StructuredResult
	if err := json.Unmarshal([]byte(messages[1].Content), &persisted); err != nil {
		t.Fatalf("Assistant content is not a serialized structured result: %v", err)
	}
	if persisted.ResponseText != result.ResponseText {
		t.Errorf("Persisted content diverges from returned result: %q", persisted.ResponseText)
	}

	symptoms, err := store.Symptoms().GetByEpisodeID(ctx, episodeID)
	if err != nil {
		t.Fatalf("Failed to query symptoms: %v", err)
	}
	if len(symptoms) != 1 {
		t.Fatalf("Expected 1 symptom, got %d", len(symptoms))
	}
	if symptoms[0].Name != entities.FeatureFever {
		t.Errorf("Expected fever, got %q", symptoms[0].Name)
	}
	if symptoms[0].MessageID != messages[1].ID {
		t.Error("Symptom must be tied to the originating assistant message")
	}
	if symptoms[0].EpisodeID != episodeID {
		t.Error("Symptom must be tied to the episode")
	}
}

func TestSendStructuredEndpointFailureUsesFallback(t *testing.T) {
	service, store, episodeID := newTestService(t, &failingClient{})
	ctx := context.Background()

	result := service.SendStructured(ctx, episodeID, userTurn("hello"), SendOptions{})

	if result.ResponseText != FallbackResponseText {
		t.Errorf("Expected fallback text, got %q", result.ResponseText)
	}
	if len(result.ExtractedSymptoms) != 0 {
		t.Errorf("Expected no symptoms on fallback, got %d", len(result.ExtractedSymptoms))
	}

	messages, _ := store.Messages().GetByEpisodeID(ctx, episodeID)
	if len(messages) != 2 {
		t.Fatalf("Expected user and assistant messages despite failure, got %d", len(messages))
	}
	if !strings.Contains(messages[1].Content, FallbackResponseText) {
		t.Errorf("Persisted assistant message must carry the fallback text, got %q", messages[1].Content)
	}
}

func TestSendStructuredTimeoutUsesFallback(t *testing.T) {
	client := newHangingClient(repositories.RawCompletion{
		Text:         structuredReply,
		SourceFormat: repositories.SourceFormatJSON,
	})
	service, store, episodeID := newTestService(t, client)
	ctx := context.Background()

	start := time.Now()
	result := service.SendStructured(ctx, episodeID, userTurn("hello"), SendOptions{Deadline: 50 * time.Millisecond})
	elapsed := time.Since(start)

	if result.ResponseText != FallbackResponseText {
		t.Errorf("Expected fallback text, got %q", result.ResponseText)
	}
	if elapsed > 2*time.Second {
		t.Errorf("SendStructured took %v, expected deadline plus small epsilon", elapsed)
	}

	messages, _ := store.Messages().GetByEpisodeID(ctx, episodeID)
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	fallbackContent := messages[1].Content

	// Release the abandoned call; its late result must not overwrite the
	// already-persisted fallback message.
	close(client.release)
	<-client.done
	time.Sleep(20 * time.Millisecond)

	messages, _ = store.Messages().GetByEpisodeID(ctx, episodeID)
	if len(messages) != 2 {
		t.Fatalf("Late result must not add messages, got %d", len(messages))
	}
	if messages[1].Content != fallbackContent {
		t.Error("Late result must not overwrite the persisted fallback message")
	}
}

func TestTurnPairingInvariantAcrossThreeSends(t *testing.T) {
	// One success, one failure, one success: pairing must hold throughout
	client := &scriptedClient{replies: []repositories.RawCompletion{
		{Text: structuredReply, SourceFormat: repositories.SourceFormatJSON},
	}}
	service, store, episodeID := newTestService(t, client)
	ctx := context.Background()

	service.SendStructured(ctx, episodeID, userTurn("first"), SendOptions{})
	service.SendStructured(ctx, episodeID, userTurn("second"), SendOptions{}) // script exhausted, endpoint failure
	client.replies = append(client.replies, repositories.RawCompletion{Text: "plain reply", SourceFormat: repositories.SourceFormatPlainText})
	service.SendStructured(ctx, episodeID, userTurn("third"), SendOptions{})

	messages, err := store.Messages().GetByEpisodeID(ctx, episodeID)
	if err != nil {
		t.Fatalf("Failed to query messages: %v", err)
	}
	if len(messages) != 6 {
		t.Fatalf("Expected 6 messages for 3 sends, got %d", len(messages))
	}
	for i := 0; i < len(messages); i += 2 {
		if messages[i].Role != entities.MessageRoleUser {
			t.Errorf("Message %d: expected user role, got %s", i, messages[i].Role)
		}
		if messages[i+1].Role != entities.MessageRoleAssistant {
			t.Errorf("Message %d: expected assistant role, got %s", i+1, messages[i+1].Role)
		}
		if !messages[i].Timestamp.Before(messages[i+1].Timestamp) {
			t.Errorf("Pair %d: assistant timestamp must be later", i/2)
		}
	}
}

func TestSendPlainReturnsRawText(t *testing.T) {
	client := &scriptedClient{replies: []repositories.RawCompletion{
		{Text: "Rest and drink fluids.", SourceFormat: repositories.SourceFormatPlainText},
	}}
	service, store, episodeID := newTestService(t, client)
	ctx := context.Background()

	text := service.SendPlain(ctx, episodeID, userTurn("what should I do?"), SendOptions{})

	if text != "Rest and drink fluids." {
		t.Errorf("Expected raw reply, got %q", text)
	}

	messages, _ := store.Messages().GetByEpisodeID(ctx, episodeID)
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[1].Content != "Rest and drink fluids." {
		t.Errorf("Expected plain assistant content, got %q", messages[1].Content)
	}
}

func TestSendPlainEndpointFailureUsesFallback(t *testing.T) {
	service, _, episodeID := newTestService(t, &failingClient{})

	text := service.SendPlain(context.Background(), episodeID, userTurn("hi"), SendOptions{})

	if text != FallbackResponseText {
		t.Errorf("Expected fallback text, got %q", text)
	}
}

func TestProcessFollowUpPersistsSymptomsWithoutChatTurn(t *testing.T) {
	client := &scriptedClient{replies: []repositories.RawCompletion{
		{Text: `{"response": "noted", "extracted_symptoms": [{"name": "cough", "present": true, "confidence": 0.7}]}`,
			SourceFormat: repositories.SourceFormatJSON},
	}}
	service, store, episodeID := newTestService(t, client)
	ctx := context.Background()

	note := &entities.Message{
		EpisodeID: episodeID,
		Role:      entities.MessageRoleUser,
		Content:   "Also I've been coughing at night",
	}
	if err := store.Messages().Create(ctx, note); err != nil {
		t.Fatalf("Failed to persist note: %v", err)
	}

	result := service.ProcessFollowUp(ctx, episodeID, note.ID, note.Content)

	if len(result.ExtractedSymptoms) != 1 {
		t.Fatalf("Expected 1 extracted symptom, got %d", len(result.ExtractedSymptoms))
	}

	symptoms, _ := store.Symptoms().GetByEpisodeID(ctx, episodeID)
	if len(symptoms) != 1 {
		t.Fatalf("Expected 1 persisted symptom, got %d", len(symptoms))
	}
	if symptoms[0].Name != entities.FeatureCough {
		t.Errorf("Expected cough, got %q", symptoms[0].Name)
	}
	if symptoms[0].MessageID != note.ID {
		t.Error("Symptom must be tied to the originating note message")
	}

	messages, _ := store.Messages().GetByEpisodeID(ctx, episodeID)
	if len(messages) != 1 {
		t.Errorf("Follow-up processing must not add chat turns, got %d messages", len(messages))
	}
}

func TestSendStructuredNonJSONReplyIsValidOutput(t *testing.T) {
	client := &scriptedClient{replies: []repositories.RawCompletion{
		{Text: "I think you should rest.", SourceFormat: repositories.SourceFormatPlainText},
	}}
	service, _, episodeID := newTestService(t, client)

	result := service.SendStructured(context.Background(), episodeID, userTurn("hi"), SendOptions{})

	if result.ResponseText != "I think you should rest." {
		t.Errorf("Expected conversational reply passed through, got %q", result.ResponseText)
	}
	if len(result.ExtractedSymptoms) != 0 {
		t.Errorf("Expected no symptoms, got %d", len(result.ExtractedSymptoms))
	}
}

func TestSendStructuredCancelledCallerStillPairsTurns(t *testing.T) {
	store := memory.NewStore(feed.NewHub())
	episode := entities.NewEpisode("test consultation")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Failed to create episode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancellingClient{cancel: cancel, release: make(chan struct{})}
	defer close(client.release)

	service := NewConsultService(
		client,
		store.Episodes(),
		&deadContextMessages{MessageRepository: store.Messages()},
		store.Symptoms(),
		Config{},
		zap.NewNop(),
	)

	result := service.SendStructured(ctx, episode.ID, userTurn("hello"), SendOptions{})

	if result.ResponseText != FallbackResponseText {
		t.Errorf("Expected fallback text, got %q", result.ResponseText)
	}

	messages, err := store.Messages().GetByEpisodeID(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("Failed to query messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected user and assistant messages despite cancellation, got %d", len(messages))
	}
	if messages[1].Role != entities.MessageRoleAssistant {
		t.Errorf("Expected assistant fallback message, got %+v", messages[1])
	}
	var persisted entities.StructuredResult
	if err := json.Unmarshal([]byte(messages[1].Content), &persisted); err != nil {
		t.Fatalf("Assistant content is not a serialized structured result: %v", err)
	}
	if persisted.ResponseText != FallbackResponseText {
		t.Errorf("Persisted fallback diverges: %q", persisted.ResponseText)
	}
}

func TestSendPlainCancelledCallerStillPairsTurns(t *testing.T) {
	store := memory.NewStore(feed.NewHub())
	episode := entities.NewEpisode("test consultation")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Failed to create episode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancellingClient{cancel: cancel, release: make(chan struct{})}
	defer close(client.release)

	service := NewConsultService(
		client,
		store.Episodes(),
		&deadContextMessages{MessageRepository: store.Messages()},
		store.Symptoms(),
		Config{},
		zap.NewNop(),
	)

	text := service.SendPlain(ctx, episode.ID, userTurn("hello"), SendOptions{})

	if text != FallbackResponseText {
		t.Errorf("Expected fallback text, got %q", text)
	}
	messages, err := store.Messages().GetByEpisodeID(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("Failed to query messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected user and assistant messages despite cancellation, got %d", len(messages))
	}
}
