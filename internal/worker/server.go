package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/queue"
	"github.com/dunamismax/imageq/internal/store"
	"github.com/dunamismax/imageq/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runner generates derivatives for one task. *pipeline.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, taskID string, req domain.DerivativeRequest) (domain.TaskResult, error)
}

// FileRunner transforms a single local image. *pipeline.FileTask satisfies
// it.
type FileRunner interface {
	Run(ctx context.Context, taskID string, req domain.FileRequest) (domain.FileResult, error)
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	runner        Runner
	files         FileRunner
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	runner Runner,
	files FileRunner,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("derivative runner is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:      make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		runner:   runner,
		files:    files,
		jobStore: jobStore,
		metrics:  newMetrics(),
		tracer:   otel.Tracer("imageq/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerateDerivatives, s.handleGenerateDerivatives)
	if s.files != nil {
		mux.HandleFunc(queue.TypeTransformFile, s.handleTransformFile)
	}
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleGenerateDerivatives(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseGenerateDerivativesPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	req := payload.Request.Normalized()

	ctx, span := s.tracer.Start(ctx, "worker.generate_derivatives", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int("job.bags", len(req.Bags)),
		attribute.String("job.format", req.Format),
		attribute.Bool("job.upload", req.Upload),
		attribute.Bool("job.use_catalog", req.UseCatalog),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	taskID := attemptTaskID(ctx, payload.JobID)

	s.logger.Printf(
		"Working... job_id=%s task_id=%s bags=%d format=%s upload=%t catalog=%t",
		payload.JobID,
		taskID,
		len(req.Bags),
		req.Format,
		req.Upload,
		req.UseCatalog,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.runner.Run(ctx, taskID, req)
	if err != nil {
		s.saveResult(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "derivative generation failed")
		s.dispatchWebhook(ctx, payload, webhook.EventDerivativesFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"bags":         req.Bags,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if errors.Is(err, domain.ErrConfiguration) {
			return fmt.Errorf("generate derivatives: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("generate derivatives: %w", err)
	}

	outcome = domain.StatusForResult(result)
	s.recordResult(result)
	s.saveResult(ctx, payload.JobID, outcome, &result, "")
	s.logger.Printf("Processed job_id=%s tag=%s status=%s local_ref=%s", payload.JobID, result.Tag, outcome, result.LocalRef)

	event := webhook.EventDerivativesCompleted
	if outcome == domain.JobStatusFailed {
		event = webhook.EventDerivativesFailed
		span.SetStatus(codes.Error, "all derivatives failed")
	} else {
		span.SetStatus(codes.Ok, "processed")
	}
	s.dispatchWebhook(ctx, payload, event, map[string]any{
		"job_id":       payload.JobID,
		"status":       outcome,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"result":       result,
	})
	return nil
}

// handleTransformFile runs one single-file transform. The FileResult is
// written as the asynq task result.
func (s *Server) handleTransformFile(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTransformFilePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform_file", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.in_path", payload.Request.InPath),
		attribute.String("job.format", payload.Request.Format),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	taskID := attemptTaskID(ctx, payload.JobID)
	s.logger.Printf("Transforming... job_id=%s task_id=%s in=%s out=%s", payload.JobID, taskID, payload.Request.InPath, payload.Request.OutPath)

	result, err := s.files.Run(ctx, taskID, payload.Request)
	if err != nil {
		s.metrics.filesTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrDecode) {
			return fmt.Errorf("transform file: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("transform file: %w", err)
	}

	outcome = domain.JobStatusSucceeded
	s.metrics.filesTotal.WithLabelValues("succeeded").Inc()
	span.SetStatus(codes.Ok, "transformed")
	if w := task.ResultWriter(); w != nil {
		body, err := json.Marshal(result)
		if err == nil {
			_, err = w.Write(body)
		}
		if err != nil {
			s.logger.Printf("task result write failed job_id=%s err=%v", payload.JobID, err)
		}
	}
	s.logger.Printf("Transformed job_id=%s local_ref=%s", payload.JobID, result.LocalRef)
	return nil
}

// attemptTaskID is jobID on the first attempt and jobID-retryN after.
func attemptTaskID(ctx context.Context, jobID string) string {
	if retried, ok := asynq.GetRetryCount(ctx); ok && retried > 0 {
		return fmt.Sprintf("%s-retry%d", jobID, retried)
	}
	return jobID
}

func (s *Server) recordResult(result domain.TaskResult) {
	for _, bag := range result.Results {
		s.metrics.bagsTotal.WithLabelValues(bag.Status).Inc()
		if bag.CatalogError != "" {
			s.metrics.catalogFailuresTotal.Inc()
		}
		for _, entry := range bag.Entries {
			status := "succeeded"
			if entry.Failed() {
				status = "failed"
			}
			s.metrics.filesTotal.WithLabelValues(status).Inc()
		}
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) saveResult(ctx context.Context, jobID, status string, result *domain.TaskResult, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResult(ctx, jobID, status, result, errMsg); err != nil {
		s.logger.Printf("job result save failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook never fails the task: derivatives are already published
// and a redelivery would regenerate them.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.GenerateDerivativesPayload, event string, body map[string]any) {
	if payload.Request.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.Request.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		s.metrics.webhookFailuresTotal.Inc()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
