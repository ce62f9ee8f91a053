package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/app"
	"github.com/ternarybob/courseforge/internal/common"
)

// newTestServer builds the full application on temp storage without
// starting the queue consumers, so submitted jobs stay queued
func newTestServer(t *testing.T) (*httptest.Server, *common.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(dir, "db")
	cfg.Storage.Filesystem.Images = filepath.Join(dir, "images")
	cfg.Queue.StatsSchedule = ""

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	s := New(application)
	ts := httptest.NewServer(s.withConditionalMiddleware(s.router))
	t.Cleanup(ts.Close)
	return ts, cfg
}

func TestRoutes_SubmitThenRead(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/jobs/course", "application/json",
		strings.NewReader(`{"userId":"user-1","params":{"title":"Intro to Go","numTopics":2}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted["jobId"])

	resp, err = http.Get(ts.URL + "/api/jobs/" + accepted["jobId"])
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var progress map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	assert.Equal(t, "pending", progress["status"])
	assert.Equal(t, "Initializing", progress["currentStep"])

	resp, err = http.Get(ts.URL + "/api/queues")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_StatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"version", http.MethodGet, "/api/version", "", http.StatusOK},
		{"invalid payload", http.MethodPost, "/api/jobs/course", `{"params":{}}`, http.StatusBadRequest},
		{"unknown family", http.MethodPost, "/api/jobs/video", `{}`, http.StatusNotFound},
		{"unknown job", http.MethodGet, "/api/jobs/missing", "", http.StatusNotFound},
		{"unknown course", http.MethodGet, "/api/courses/missing", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/jobs/abc", "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
		{"preflight", http.MethodOptions, "/api/jobs/course", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRoutes_ServesImages(t *testing.T) {
	ts, cfg := newTestServer(t)

	dir := filepath.Join(cfg.Storage.Filesystem.Images, "course_1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "banner-abc.png"), []byte("png"), 0o644))

	resp, err := http.Get(ts.URL + "/images/course_1/banner-abc.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMiddleware_RequestIDAndAllow(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/jobs/abc", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}
