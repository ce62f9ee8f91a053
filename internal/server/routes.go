package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live progress for one job
	mux.HandleFunc("/ws/jobs/", s.app.WSHandler.HandleJobProgress)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // POST /{family}, GET /{id}

	// API routes - Courses
	mux.HandleFunc("/api/courses/", s.app.JobHandler.GetCourseHandler)

	// API routes - Queues
	mux.HandleFunc("/api/queues", s.app.JobHandler.QueueStatsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)

	// Generated images
	fs := s.app.Config.Storage.Filesystem
	if fs.Images != "" && fs.ImagesURL != "" {
		prefix := strings.TrimSuffix(fs.ImagesURL, "/") + "/"
		mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(fs.Images))))
	}

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes splits /api/jobs/{x} by method: POST submits to family x,
// GET reads job x
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.app.JobHandler.SubmitJobHandler,
		http.MethodGet:  s.app.JobHandler.GetJobHandler,
	})
}
