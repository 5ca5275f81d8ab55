package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
	"github.com/easygp/server/internal/websocket"
	"github.com/easygp/server/usecase"
)

// Handler bundles the dependencies the HTTP surface needs.
type Handler struct {
	consult  *usecase.ConsultService
	episodes repositories.EpisodeRepository
	messages repositories.MessageRepository
	symptoms repositories.SymptomRepository
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	consult *usecase.ConsultService,
	episodes repositories.EpisodeRepository,
	messages repositories.MessageRepository,
	symptoms repositories.SymptomRepository,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		consult:  consult,
		episodes: episodes,
		messages: messages,
		symptoms: symptoms,
		logger:   logger,
	}
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, h *Handler, ws *websocket.Handler) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "easygp-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/episodes", h.createEpisode)
	v1.GET("/episodes", h.listEpisodes)
	v1.GET("/episodes/:id", h.getEpisode)
	v1.GET("/episodes/:id/messages", h.getMessages)
	v1.POST("/episodes/:id/messages", h.sendMessage)
	v1.GET("/episodes/:id/symptoms", h.getSymptoms)
	v1.POST("/episodes/:id/follow-up", h.processFollowUp)

	// WebSocket endpoint streaming live snapshots per episode
	e.GET("/ws", ws.Handle)
}

func (h *Handler) createEpisode(c echo.Context) error {
	var req CreateEpisodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	episode := entities.NewEpisode(req.Title)
	if err := h.episodes.Create(c.Request().Context(), episode); err != nil {
		h.logger.Error("Failed to create episode", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to create episode",
		})
	}

	return c.JSON(http.StatusCreated, episode)
}

func (h *Handler) listEpisodes(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	episodes, err := h.episodes.List(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list episodes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to list episodes",
		})
	}
	return c.JSON(http.StatusOK, episodes)
}

func (h *Handler) getEpisode(c echo.Context) error {
	episode, err := h.episodes.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return episodeNotFound(c)
	}
	return c.JSON(http.StatusOK, episode)
}

func (h *Handler) getMessages(c echo.Context) error {
	episodeID := c.Param("id")
	if _, err := h.episodes.GetByID(c.Request().Context(), episodeID); err != nil {
		return episodeNotFound(c)
	}

	messages, err := h.messages.GetByEpisodeID(c.Request().Context(), episodeID)
	if err != nil {
		h.logger.Error("Failed to load messages",
			zap.String("episode_id", episodeID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to load messages",
		})
	}
	return c.JSON(http.StatusOK, messages)
}

// sendMessage runs one user turn through the completion pipeline. The
// reply is always a valid response; completion failures surface as the
// fallback text, never as an HTTP error.
func (h *Handler) sendMessage(c echo.Context) error {
	episodeID := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.episodes.GetByID(ctx, episodeID); err != nil {
		return episodeNotFound(c)
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Message content is required",
		})
	}

	conversation, err := h.conversationFor(c, episodeID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to load conversation history",
		})
	}
	conversation = append(conversation, repositories.ConversationTurn{
		Role:    repositories.RoleUser,
		Content: req.Content,
	})

	opts := usecase.SendOptions{SystemPrompt: req.SystemPrompt}

	if req.Plain {
		reply := h.consult.SendPlain(ctx, episodeID, conversation, opts)
		return c.JSON(http.StatusOK, SendMessageResponse{
			Response:  reply,
			EpisodeID: episodeID,
		})
	}

	result := h.consult.SendStructured(ctx, episodeID, conversation, opts)
	return c.JSON(http.StatusOK, SendMessageResponse{
		Response:  result.ResponseText,
		Greeting:  result.Greeting,
		FollowUp:  result.FollowUp,
		Symptoms:  result.ExtractedSymptoms,
		EpisodeID: episodeID,
	})
}

func (h *Handler) getSymptoms(c echo.Context) error {
	episodeID := c.Param("id")
	if _, err := h.episodes.GetByID(c.Request().Context(), episodeID); err != nil {
		return episodeNotFound(c)
	}

	symptoms, err := h.symptoms.GetByEpisodeID(c.Request().Context(), episodeID)
	if err != nil {
		h.logger.Error("Failed to load symptoms",
			zap.String("episode_id", episodeID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "storage_error",
			Message: "Failed to load symptoms",
		})
	}
	return c.JSON(http.StatusOK, symptoms)
}

func (h *Handler) processFollowUp(c echo.Context) error {
	episodeID := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.episodes.GetByID(ctx, episodeID); err != nil {
		return episodeNotFound(c)
	}

	var req FollowUpRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.MessageID == "" || strings.TrimSpace(req.Note) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "message_id and note are required",
		})
	}
	if _, err := h.messages.GetByID(ctx, req.MessageID); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Message not found",
		})
	}

	result := h.consult.ProcessFollowUp(ctx, episodeID, req.MessageID, req.Note)
	return c.JSON(http.StatusOK, SendMessageResponse{
		Response:  result.ResponseText,
		Symptoms:  result.ExtractedSymptoms,
		EpisodeID: episodeID,
	})
}

// conversationFor loads stored history as prompt turns, excluding the
// not-yet-persisted incoming message.
func (h *Handler) conversationFor(c echo.Context, episodeID string) ([]repositories.ConversationTurn, error) {
	history, err := h.messages.GetByEpisodeID(c.Request().Context(), episodeID)
	if err != nil {
		return nil, err
	}

	turns := make([]repositories.ConversationTurn, 0, len(history)+1)
	for _, message := range history {
		role := repositories.RoleUser
		if message.Role == entities.MessageRoleAssistant {
			role = repositories.RoleAssistant
		}
		turns = append(turns, repositories.ConversationTurn{
			Role:    role,
			Content: message.Content,
		})
	}
	return turns, nil
}

func episodeNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: "Episode not found",
	})
}
