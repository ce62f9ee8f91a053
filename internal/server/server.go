package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/courseforge/internal/app"
)

// Server serves the job API, the progress streams and generated images
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server
}

// New builds the router and HTTP server for application
func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	// WriteTimeout does not limit progress streams: the upgrade clears the
	// connection deadlines and the stream sets its own per message.
	s.server = &http.Server{
		Addr:              s.addr(),
		Handler:           s.withConditionalMiddleware(s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) addr() string {
	return fmt.Sprintf("%s:%d", s.app.Config.Server.Host, s.app.Config.Server.Port)
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.addr()).
		Str("progress_stream", fmt.Sprintf("ws://%s/ws/jobs/{id}", s.addr())).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Open
// progress streams are hijacked connections and end when the app closes
// the progress fan-out.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
