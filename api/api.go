// Package api exposes the conveyor queues, failed jobs and schedules over
// HTTP as JSON.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/engine"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// API wires the HTTP handlers for a conveyor Engine.
type API struct {
	eng       *engine.Engine
	logger    *slog.Logger
	accessLog io.Writer
}

// Option configures an API.
type Option func(*API)

// WithAccessLog writes an Apache Common Log line per request to w.
func WithAccessLog(w io.Writer) Option {
	return func(a *API) { a.accessLog = w }
}

// WithLogger sets the logger for handler errors and recovered panics.
// Defaults to the Conveyor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a conveyor Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Conveyor().Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	var h http.Handler = mux
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelError)),
	)(h)
	if a.accessLog != nil {
		h = handlers.LoggingHandler(a.accessLog, h)
	}
	return h
}

// RegisterRoutes registers every route on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Jobs.
	mux.HandleFunc("GET /v1/jobs", a.listJobs)
	mux.HandleFunc("POST /v1/jobs", a.enqueueJob)
	mux.HandleFunc("GET /v1/jobs/counts", a.jobCounts)
	mux.HandleFunc("GET /v1/jobs/{jobId}", a.getJob)

	// Failed jobs.
	mux.HandleFunc("GET /v1/failed", a.listFailed)
	mux.HandleFunc("GET /v1/failed/count", a.failedCount)
	mux.HandleFunc("POST /v1/failed/retry", a.retryAllFailed)
	mux.HandleFunc("POST /v1/failed/flush", a.flushFailed)
	mux.HandleFunc("GET /v1/failed/{entryId}", a.getFailed)
	mux.HandleFunc("POST /v1/failed/{entryId}/retry", a.retryFailed)
	mux.HandleFunc("DELETE /v1/failed/{entryId}", a.deleteFailed)

	// Schedules.
	mux.HandleFunc("GET /v1/schedules", a.listSchedules)
	mux.HandleFunc("POST /v1/schedules/{name}/trigger", a.triggerSchedule)

	// Stats.
	mux.HandleFunc("GET /v1/stats", a.stats)
	mux.HandleFunc("GET /v1/stats/queues", a.queueStats)
	mux.HandleFunc("GET /v1/health", a.health)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("api: encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, title, detail string) {
	a.writeJSON(w, status, errorResponse{Title: title, Detail: detail, Status: status})
}

func (a *API) badRequest(w http.ResponseWriter, detail string) {
	a.writeError(w, http.StatusBadRequest, "Bad request", detail)
}

// storeError maps conveyor sentinel errors to HTTP statuses.
func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isNotFound(err):
		a.writeError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, conveyor.ErrHandlerNotFound):
		a.badRequest(w, err.Error())
	default:
		a.logger.Error("api: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		a.writeError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, conveyor.ErrJobNotFound) ||
		errors.Is(err, conveyor.ErrFailedJobNotFound) ||
		errors.Is(err, conveyor.ErrScheduleNotFound)
}

// pagination reads limit and offset from the query string.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errors.New("limit must be a non-negative integer")
		}
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
