package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/easygp/server/internal/feed"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send control
	// frames, so this stays small.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Frame types pushed to connected clients.
const (
	FrameMessages = "messages"
	FrameSymptoms = "symptoms"
)

// SnapshotFrame is the wire envelope for live snapshot pushes. Every
// frame carries the full ordered list for its episode, so clients can
// replace local state wholesale instead of patching it.
type SnapshotFrame struct {
	Type      string      `json:"type"`
	EpisodeID string      `json:"episode_id"`
	Snapshot  interface{} `json:"snapshot"`
}

// Handler upgrades HTTP requests into live snapshot streams backed by
// the store's change feed.
type Handler struct {
	watcher *feed.Watcher
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket snapshot handler
func NewHandler(watcher *feed.Watcher, logger *zap.Logger) *Handler {
	return &Handler{
		watcher: watcher,
		logger:  logger,
	}
}

// Handle serves one WebSocket connection. The client picks an episode
// via the episode_id query parameter and receives messages and
// symptoms snapshot frames until it disconnects.
func (h *Handler) Handle(c echo.Context) error {
	episodeID := c.QueryParam("episode_id")
	if episodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "episode_id query parameter is required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	defer conn.Close()

	h.logger.Info("WebSocket client connected",
		zap.String("episode_id", episodeID),
		zap.String("remote_addr", conn.RemoteAddr().String()))

	messages := h.watcher.WatchMessages(ctx, episodeID)
	symptoms := h.watcher.WatchSymptoms(ctx, episodeID)

	// Read pump. Clients send nothing meaningful; this just services
	// pongs and detects disconnects.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-messages:
			if !ok {
				return nil
			}
			if err := h.writeFrame(conn, SnapshotFrame{
				Type:      FrameMessages,
				EpisodeID: episodeID,
				Snapshot:  snapshot,
			}); err != nil {
				return nil
			}
		case snapshot, ok := <-symptoms:
			if !ok {
				return nil
			}
			if err := h.writeFrame(conn, SnapshotFrame{
				Type:      FrameSymptoms,
				EpisodeID: episodeID,
				Snapshot:  snapshot,
			}); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame SnapshotFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug("WebSocket write failed", zap.Error(err))
		return err
	}
	return nil
}
