package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/easygp/server/adapters/memory"
	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/feed"
	"github.com/easygp/server/internal/websocket"
	"github.com/easygp/server/usecase"
)

type cannedClient struct {
	reply string
}

func (c *cannedClient) Complete(ctx context.Context, req repositories.CompletionRequest) (repositories.RawCompletion, error) {
	return repositories.RawCompletion{Text: c.reply, SourceFormat: repositories.SourceFormatJSON}, nil
}

func newTestAPI(t *testing.T, reply string) (*echo.Echo, *memory.Store) {
	t.Helper()

	store := memory.NewStore(feed.NewHub())
	logger := zap.NewNop()

	consult := usecase.NewConsultService(
		&cannedClient{reply: reply},
		store.Episodes(), store.Messages(), store.Symptoms(),
		usecase.DefaultConfig(), logger,
	)
	handler := NewHandler(consult, store.Episodes(), store.Messages(), store.Symptoms(), logger)
	watcher := feed.NewWatcher(store.Feed(), store.Messages(), store.Symptoms(), logger)

	e := echo.New()
	InitRoutes(e, handler, websocket.NewHandler(watcher, logger))
	return e, store
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reader).Encode(body); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestAPI(t, "{}")

	rec := doJSON(t, e, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCreateAndGetEpisode(t *testing.T) {
	e, _ := newTestAPI(t, "{}")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/episodes", CreateEpisodeRequest{Title: "Sore throat"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var episode entities.Episode
	if err := json.Unmarshal(rec.Body.Bytes(), &episode); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if episode.ID == "" {
		t.Error("episode.ID is empty")
	}
	if episode.Title != "Sore throat" {
		t.Errorf("episode.Title = %q, want %q", episode.Title, "Sore throat")
	}

	rec = doJSON(t, e, http.MethodGet, "/api/v1/episodes/"+episode.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetEpisodeNotFound(t *testing.T) {
	e, _ := newTestAPI(t, "{}")

	rec := doJSON(t, e, http.MethodGet, "/api/v1/episodes/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSendMessageStructured(t *testing.T) {
	reply := `{"response": "How long has the fever lasted?", "follow_up": "Ask about rash", "extracted_symptoms": [{"name": "fever", "present": true, "confidence": 0.9}]}`
	e, store := newTestAPI(t, reply)

	episode := entities.NewEpisode("Fever")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := doJSON(t, e, http.MethodPost, "/api/v1/episodes/"+episode.ID+"/messages",
		SendMessageRequest{Content: "My child has a fever"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.Response != "How long has the fever lasted?" {
		t.Errorf("Response = %q", resp.Response)
	}
	if len(resp.Symptoms) != 1 || resp.Symptoms[0].Name != "fever" {
		t.Errorf("Symptoms = %+v, want one fever entry", resp.Symptoms)
	}

	messages, err := store.Messages().GetByEpisodeID(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("GetByEpisodeID() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Role != entities.MessageRoleUser || messages[1].Role != entities.MessageRoleAssistant {
		t.Errorf("roles = %q, %q, want user then assistant", messages[0].Role, messages[1].Role)
	}

	rec = doJSON(t, e, http.MethodGet, "/api/v1/episodes/"+episode.ID+"/symptoms", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("symptoms status = %d", rec.Code)
	}
	var symptoms []*entities.Symptom
	if err := json.Unmarshal(rec.Body.Bytes(), &symptoms); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(symptoms) != 1 || symptoms[0].Name != "fever" {
		t.Errorf("symptoms = %+v, want one fever record", symptoms)
	}
}

func TestSendMessageValidation(t *testing.T) {
	e, store := newTestAPI(t, "{}")

	episode := entities.NewEpisode("")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := doJSON(t, e, http.MethodPost, "/api/v1/episodes/"+episode.ID+"/messages",
		SendMessageRequest{Content: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank content status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doJSON(t, e, http.MethodPost, "/api/v1/episodes/nope/messages",
		SendMessageRequest{Content: "hello"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing episode status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProcessFollowUp(t *testing.T) {
	reply := `{"response": "noted", "extracted_symptoms": [{"name": "rash", "present": true, "confidence": 0.8}]}`
	e, store := newTestAPI(t, reply)

	episode := entities.NewEpisode("Rash")
	if err := store.Episodes().Create(context.Background(), episode); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	message := &entities.Message{
		EpisodeID: episode.ID,
		Role:      entities.MessageRoleAssistant,
		Content:   "Does the rash itch?",
	}
	if err := store.Messages().Create(context.Background(), message); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := doJSON(t, e, http.MethodPost, "/api/v1/episodes/"+episode.ID+"/follow-up",
		FollowUpRequest{MessageID: message.ID, Note: "red non-itchy rash on torso"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	symptoms, err := store.Symptoms().GetByEpisodeID(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("GetByEpisodeID() error = %v", err)
	}
	if len(symptoms) != 1 || symptoms[0].MessageID != message.ID {
		t.Fatalf("symptoms = %+v, want one record tied to %s", symptoms, message.ID)
	}

	messages, err := store.Messages().GetByEpisodeID(context.Background(), episode.ID)
	if err != nil {
		t.Fatalf("GetByEpisodeID() error = %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("len(messages) = %d, want 1 (follow-up adds no chat turn)", len(messages))
	}
}
