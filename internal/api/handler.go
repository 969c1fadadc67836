package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/attendance"
	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/render"
)

// AttendanceService is the query side the handlers depend on.
type AttendanceService interface {
	Members() []string
	Options() attendance.Options
	LedgerFor(ctx context.Context, user string) (attendance.Ledger, error)
	Ledgers(ctx context.Context) (map[string]attendance.Ledger, error)
	Day(ctx context.Context, date civil.Date) ([]attendance.DailyEntry, error)
	Absentees(ctx context.Context, date civil.Date) ([]string, error)
	Range(ctx context.Context, from civil.Date, days int) (attendance.Matrix, error)
}

// Collector runs an ingestion over a window of dates.
type Collector interface {
	CollectDays(ctx context.Context, start, end civil.Date) (collector.Result, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	attendance AttendanceService
	collector  Collector
	store      Pinger
	cfg        *config.Config
	renderer   *render.Renderer
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc AttendanceService, coll Collector, store Pinger, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		attendance: svc,
		collector:  coll,
		store:      store,
		cfg:        cfg,
		renderer:   render.New(),
		logger:     logger.With("component", "api"),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	h.Error(w, http.StatusInternalServerError, msg)
}

// Health reports service status, failing when the store cannot be pinged.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := map[string]string{"status": "healthy", "database": "pass"}
	status := http.StatusOK

	if h.store == nil {
		resp["status"], resp["database"] = "degraded", "not configured"
		status = http.StatusServiceUnavailable
	} else if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "Health check ping failed", "error", err)
		resp["status"], resp["database"] = "degraded", "fail"
		status = http.StatusServiceUnavailable
	}

	h.JSON(w, status, resp)
}
