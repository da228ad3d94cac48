package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CZERTAINLY/Jobber/internal/log"
	"github.com/CZERTAINLY/Jobber/internal/model"
	"github.com/CZERTAINLY/Jobber/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	jobsPath = "/v1/jobs"
	// stdin travels in the submission body
	maxBodySize = 16 << 20
)

// Jobs is implemented by service.Manager.
type Jobs interface {
	Submit(ctx context.Context, sub model.Submission) (string, error)
	Query(ctx context.Context, id string) (model.JobView, error)
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// New returns the HTTP handler of the jobs API.
func New(jobs Jobs) http.Handler {
	h := handler{jobs: jobs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/v1/health", h.health)
	r.Route(jobsPath, func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/{jobID}", h.query)
	})
	return r
}

type handler struct {
	jobs Jobs
}

func (h handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h handler) submit(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "decoding submission: " + err.Error()})
		return
	}

	id, err := h.jobs.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, model.ErrInvalidSubmission):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, service.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "submitting job failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	w.Header().Set("Location", jobsPath+"/"+id)
	writeJSON(w, http.StatusCreated, SubmitResponse{JobID: id})
}

func (h handler) query(w http.ResponseWriter, r *http.Request) {
	view, err := h.jobs.Query(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "querying job failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := log.ContextAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		slog.InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency", time.Since(start),
			"ip", r.RemoteAddr,
		)
	})
}
