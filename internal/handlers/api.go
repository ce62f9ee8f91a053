package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
)

// APIHandler serves the service metadata routes
type APIHandler struct {
	logger arbor.ILogger
}

func NewAPIHandler(logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
