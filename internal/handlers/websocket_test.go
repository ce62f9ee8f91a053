package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/services/events"
)

type progressFrame struct {
	Type    string             `json:"type"`
	Payload models.JobProgress `json:"payload"`
}

func newProgressServer(t *testing.T) (*events.Service, *WebSocketHandler, string) {
	t.Helper()
	logger := arbor.NewLogger()
	hub := events.NewService(logger, 16)
	handler := NewWebSocketHandler(hub, logger, &common.WebSocketConfig{WriteTimeout: "2s", PingInterval: "50ms"})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/jobs/", handler.HandleJobProgress)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return hub, handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

// dial connects to the job's progress stream and waits for the subscription
// acknowledgement, after which published snapshots are guaranteed delivery
func dial(t *testing.T, base, jobID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/jobs/"+jobID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var ack WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribed", ack.Type)
	return conn
}

func TestHandleJobProgress_StreamsUntilCompleted(t *testing.T) {
	hub, _, base := newProgressServer(t)
	conn := dial(t, base, "job-1")

	hub.Publish(t.Context(), "job-2", &models.JobProgress{JobID: "job-2", Status: models.JobStatusProcessing, Progress: 99})
	hub.Publish(t.Context(), "job-1", &models.JobProgress{JobID: "job-1", Status: models.JobStatusProcessing, Progress: 30, CurrentStep: "Generating course outline"})
	hub.Publish(t.Context(), "job-1", &models.JobProgress{JobID: "job-1", Status: models.JobStatusCompleted, Progress: 100})

	var frame progressFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "progress", frame.Type)
	assert.Equal(t, "job-1", frame.Payload.JobID)
	assert.Equal(t, float64(30), frame.Payload.Progress)
	assert.Equal(t, "Generating course outline", frame.Payload.CurrentStep)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, models.JobStatusCompleted, frame.Payload.Status)

	// The server closes the stream after the terminal snapshot
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
}

func TestHandleJobProgress_FailedKeepsStreaming(t *testing.T) {
	hub, _, base := newProgressServer(t)
	conn := dial(t, base, "job-1")

	hub.Publish(t.Context(), "job-1", &models.JobProgress{JobID: "job-1", Status: models.JobStatusFailed, Error: "outline: timeout", Attempt: 1})
	hub.Publish(t.Context(), "job-1", &models.JobProgress{JobID: "job-1", Status: models.JobStatusProcessing, Attempt: 2})

	var frame progressFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, models.JobStatusFailed, frame.Payload.Status)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, models.JobStatusProcessing, frame.Payload.Status)
	assert.Equal(t, 2, frame.Payload.Attempt)
}

func TestHandleJobProgress_DisconnectUnsubscribes(t *testing.T) {
	hub, handler, base := newProgressServer(t)
	conn := dial(t, base, "job-1")

	assert.Equal(t, 1, hub.SubscriberCount("job-1"))
	assert.Equal(t, 1, handler.ClientCount())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount("job-1") == 0 && handler.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleJobProgress_RequiresJobID(t *testing.T) {
	_, _, base := newProgressServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/jobs/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
