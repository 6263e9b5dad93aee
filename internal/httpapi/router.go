// Package httpapi exposes the voice engine over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
)

type Handler struct {
	engine *engine.Engine
	store  *eventstore.Store
	log    *slog.Logger
}

func NewHandler(eng *engine.Engine, store *eventstore.Store, log *slog.Logger) *Handler {
	return &Handler{
		engine: eng,
		store:  store,
		log:    log.With(slog.String("component", "httpapi")),
	}
}

// RegisterRoutes mounts the /v1 API on r.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(
			middleware.RequestID,
			middleware.Recoverer,
			h.logRequests,
		)

		v1.Get("/state", h.GetState)
		v1.Get("/voices", h.ListVoices)
		v1.Put("/settings", h.UpdateSettings)

		v1.Post("/recording/start", h.StartRecording)
		v1.Post("/recording/stop", h.StopRecording)
		v1.Post("/recording/toggle", h.ToggleRecording)
		v1.Post("/listen", h.Listen)

		v1.Post("/speech", h.Speak)
		v1.Post("/cancel", h.Cancel)

		v1.Get("/sessions", h.ListSessions)
		v1.Get("/sessions/{session_id}", h.GetSession)
	})
}

// NewRouter returns a chi router serving the API.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
