package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/courseforge/internal/handlers"
)

const requestIDHeader = "X-Request-ID"

// withConditionalMiddleware applies the full chain to API routes. Progress
// streams only get CORS headers and a request id: the logging wrapper
// would hold the upgraded connection for its whole lifetime.
func (s *Server) withConditionalMiddleware(handler http.Handler) http.Handler {
	api := s.requestIDMiddleware(s.loggingMiddleware(s.corsMiddleware(s.recoveryMiddleware(handler))))
	stream := s.requestIDMiddleware(handler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			setCORSHeaders(w)
			stream.ServeHTTP(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})
}

// requestIDMiddleware echoes the caller's request id or assigns a new one
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs one line per request. Client and server errors are
// raised above debug so failed submissions show up at the default level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		event := s.app.Logger.Debug()
		switch {
		case rw.statusCode >= http.StatusInternalServerError:
			event = s.app.Logger.Error()
		case rw.statusCode >= http.StatusBadRequest:
			event = s.app.Logger.Warn()
		}

		event = event.
			Str("request_id", r.Header.Get(requestIDHeader)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start))
		if r.URL.RawQuery != "" {
			event = event.Str("query", r.URL.RawQuery)
		}
		event.Msg("HTTP request")
	})
}

// corsMiddleware allows browser clients on other origins and answers preflight
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
	h.Set("Access-Control-Expose-Headers", requestIDHeader)
}

// recoveryMiddleware turns a handler panic into a JSON 500
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("request_id", r.Header.Get(requestIDHeader)).
					Str("panic", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("Handler panic recovered")
				handlers.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code written by the handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
