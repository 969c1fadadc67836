// Package api exposes attendance queries and on-demand collection over HTTP.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/gardenbot/internal/logger"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handler, log *slog.Logger) *chi.Mux {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/attendance", func(r chi.Router) {
		r.Get("/users", h.Users)
		r.Get("/users/{user}", h.UserLedger)
		r.Get("/collect", h.Collect)
		r.Get("/days/{date}", h.Day)
		r.Get("/days/{date}/absent", h.Absent)
		r.Get("/ledgers", h.Ledgers)
		r.Get("/csv", h.CSV)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.Error(w, http.StatusNotFound, "not found")
	})

	return r
}
