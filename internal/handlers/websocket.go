package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the envelope for every frame sent to a client
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams progress snapshots of a single job to a client.
// Only snapshots published after the connection is established are sent.
type WebSocketHandler struct {
	notifier         interfaces.ProgressNotifier
	logger           arbor.ILogger
	writeTimeout     time.Duration
	pingInterval     time.Duration
	serverInstanceID string

	mu      sync.Mutex
	clients int
}

// NewWebSocketHandler creates a handler bound to notifier
func NewWebSocketHandler(notifier interfaces.ProgressNotifier, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		notifier:         notifier,
		logger:           logger,
		writeTimeout:     10 * time.Second,
		pingInterval:     30 * time.Second,
		serverInstanceID: uuid.New().String(),
	}
	if config != nil {
		h.writeTimeout = common.ParseDuration(config.WriteTimeout, h.writeTimeout)
		h.pingInterval = common.ParseDuration(config.PingInterval, h.pingInterval)
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleJobProgress upgrades the connection and relays snapshots for the job
// GET /ws/jobs/{id}
func (h *WebSocketHandler) HandleJobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := PathID(r, "/ws/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	snapshots, unsubscribe := h.notifier.Subscribe(jobID)

	h.mu.Lock()
	h.clients++
	count := h.clients
	h.mu.Unlock()
	h.logger.Debug().Str("job_id", jobID).Int("clients", count).Msg("WebSocket client connected")

	defer func() {
		unsubscribe()
		conn.Close()

		h.mu.Lock()
		h.clients--
		remaining := h.clients
		h.mu.Unlock()
		h.logger.Debug().Str("job_id", jobID).Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	closed := make(chan struct{})
	go h.readUntilClose(conn, closed)

	if err := h.write(conn, WSMessage{
		Type:    "subscribed",
		Payload: map[string]string{"jobId": jobID, "serverInstanceId": h.serverInstanceID},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case <-r.Context().Done():
			return

		case snapshot, ok := <-snapshots:
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := h.write(conn, WSMessage{Type: "progress", Payload: snapshot}); err != nil {
				h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to send progress to client")
				return
			}
			if snapshot.Status == models.JobStatusCompleted {
				h.closeWith(conn, websocket.CloseNormalClosure, "job completed")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readUntilClose drains client frames so control messages are processed and
// signals when the peer goes away
func (h *WebSocketHandler) readUntilClose(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg WSMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(h.writeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

// ClientCount returns the number of open progress connections
func (h *WebSocketHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}
