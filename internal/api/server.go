package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/id"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/dunamismax/imageq/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultUserIDHeader = "X-User-ID"

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	jobStore     store.JobStore
	rateLimiter  RateLimiter
	userIDHeader string
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueGenerateDerivatives(ctx context.Context, payload queue.GenerateDerivativesPayload) (*asynq.TaskInfo, error)
}

type Options struct {
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter  RateLimiter
	UserIDHeader string
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	header := strings.TrimSpace(opts.UserIDHeader)
	if header == "" {
		header = defaultUserIDHeader
	}

	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		jobStore:     jobStore,
		rateLimiter:  opts.RateLimiter,
		userIDHeader: header,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("imageq/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/derivatives", s.handleCreateDerivatives)
	s.mux.HandleFunc("GET /v1/derivatives/{id}", s.handleGetDerivatives)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateDerivatives(w http.ResponseWriter, r *http.Request) {
	var req domain.DerivativeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	userID := strings.TrimSpace(r.Header.Get(s.userIDHeader))
	if !s.allow(w, r, userID, int64(len(req.Bags))) {
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:        id.New(),
		UserID:    userID,
		Status:    domain.JobStatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueGenerateDerivatives(r.Context(), queue.GenerateDerivativesPayload{
		JobID:       job.ID,
		Request:     req,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, saveErr := s.jobStore.SaveResult(r.Context(), job.ID, domain.JobStatusFailed, nil, "enqueue failed"); saveErr != nil {
			s.logger.Printf("mark job failed job_id=%s err=%v", job.ID, saveErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()
	s.metrics.bagsRequested.Add(float64(len(req.Bags)))

	s.logger.Printf("queued job_id=%s bags=%d format=%s queue=%s", job.ID, len(req.Bags), req.Format, taskInfo.Queue)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetDerivatives(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
