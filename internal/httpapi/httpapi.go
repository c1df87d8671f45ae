// Package httpapi exposes the session/exec/file surface over HTTP
// (spec.md §6): bearer-token auth, JSON request/response bodies, and a
// structured error envelope for application-level failures.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/peterje/rec/internal/config"
	"github.com/peterje/rec/internal/errs"
	"github.com/peterje/rec/internal/session"
)

// Server wires the session registry, exec/file services, and
// configuration to the chi router that implements the external interface.
type Server struct {
	registry *session.Registry
	settings *config.Settings
	logger   zerolog.Logger
	router   chi.Router

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds a Server and registers all routes.
func New(registry *session.Registry, settings *config.Settings, logger zerolog.Logger) *Server {
	s := &Server{registry: registry, settings: settings, logger: logger, shutdown: make(chan struct{})}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/", s.handleRoot)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Get("/is_alive", s.handleIsAlive)
		r.Post("/create_session", s.handleCreateSession)
		r.Post("/run_in_session", s.handleRunInSession)
		r.Post("/interrupt_session", s.handleInterruptSession)
		r.Post("/close_session", s.handleCloseSession)
		r.Post("/execute", s.handleExecute)
		r.Post("/read_file", s.handleReadFile)
		r.Post("/write_file", s.handleWriteFile)
		r.Post("/upload", s.handleUpload)
		r.Post("/close", s.handleClose)
	})

	s.router = r
	return s
}

// Handler returns the Server's http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CloseAll drains the session registry, used by the supervisor during
// graceful shutdown.
func (s *Server) CloseAll() {
	s.registry.CloseAll()
}

// ShutdownRequested is closed once a /close call has been handled, signaling
// the supervisor to stop serving (spec.md §6: "{} then server exits").
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.settings.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth || token != s.settings.AuthToken {
			writeAppError(w, errs.New(errs.AuthFailed, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello world"})
}

func (s *Server) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_alive": true})
}

// errorEnvelope is the structured error body spec.md §7 requires for every
// application-level failure.
type errorEnvelope struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAppError translates a typed application error into the JSON
// envelope, using HTTP 511 for every application-level failure per the
// error handling design, so a client can always deserialize the typed
// error_kind from the body instead of losing it behind a conventional
// status code. AuthFailed is the sole carve-out, at 401, so reverse proxies
// and HTTP clients treat missing/bad credentials the normal way. Truly
// unexpected (non-*errs.Error) failures still fall back to 500.
func writeAppError(w http.ResponseWriter, err error) {
	appErr, ok := errs.AsError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			ErrorKind: string(errs.InternalError),
			Message:   err.Error(),
		})
		return
	}

	status := http.StatusNetworkAuthenticationRequired // 511, per spec.md §7
	if appErr.Kind == errs.AuthFailed {
		status = http.StatusUnauthorized
	}

	writeJSON(w, status, errorEnvelope{
		ErrorKind: string(appErr.Kind),
		Message:   appErr.Message,
	})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.New(errs.BadRequest, "invalid request body: %v", err)
	}
	return nil
}

