package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-coach-service/internal/app"
	"speech-coach-service/internal/observability"
)

type handlers struct {
	app *app.Application
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{app: application}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(application.Metrics))

	// Health endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Analysis gateway
	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", h.analyzeHandler)
		r.Post("/reset-session", h.resetSessionHandler)
		r.Get("/filler-words", h.fillerWordsHandler)
	})

	// Browser session bridge
	r.Get("/ws", h.sessionBridgeHandler)

	return r
}
