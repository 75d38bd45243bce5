// Package api exposes a Session over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/journal"
	"github.com/alanbriolat/video-downloader/internal/session"
	"github.com/alanbriolat/video-downloader/internal/settings"
)

type Config struct {
	Session     *session.Session
	Credentials *credential.Credentials
	Settings    *settings.Manager
	// Journal is optional; without it task history is not available.
	Journal *journal.Journal
	Logger  *zap.Logger
}

type Server struct {
	session     *session.Session
	credentials *credential.Credentials
	settings    *settings.Manager
	journal     *journal.Journal
	validator   *validator.Validate
	log         *zap.SugaredLogger
}

func NewServer(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		session:     config.Session,
		credentials: config.Credentials,
		settings:    config.Settings,
		journal:     config.Journal,
		validator:   validator.New(),
		log:         logger.Named("api").Sugar(),
	}
}

// Router builds the HTTP handler for the server's routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/resolve", s.resolve)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Delete("/", s.removeTask)
			r.Post("/pause", s.taskAction(s.session.PauseTask))
			r.Post("/resume", s.taskAction(s.session.ResumeTask))
			r.Post("/cancel", s.taskAction(s.session.CancelTask))
			r.Get("/history", s.taskHistory)
		})
	})
	r.Post("/thumbnails", s.createThumbnailTask)

	r.Route("/credential", func(r chi.Router) {
		r.Get("/", s.getCredential)
		r.Put("/", s.putCredential)
		r.Delete("/", s.deleteCredential)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.getSettings)
		r.Put("/{key}", s.putSetting)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debugw("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// decode reads a JSON request body into v and validates it, writing an error response and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Struct(v); err != nil {
		s.log.Debugw("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps an error to the HTTP status that best describes it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownTask), errors.Is(err, settings.ErrUnknownKey):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, credential.ErrUnusable),
		errors.Is(err, settings.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, video_downloader.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Errorw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
