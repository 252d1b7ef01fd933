package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixeltensor/internal/config"
	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/pipeline"
	"github.com/dunamismax/pixeltensor/internal/queue"
	"github.com/dunamismax/pixeltensor/internal/storage"
	"github.com/dunamismax/pixeltensor/internal/store"
	"github.com/dunamismax/pixeltensor/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server consumes tensor:convert tasks and runs each through the pipeline.
type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if storageClient != nil {
		objectProcessor, err = pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: storageClient},
			pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: workerCfg.OutputPrefix},
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
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
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixeltensor/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertTensor, s.handleConvert)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvert(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.shape", payload.Convert.Shape),
		attribute.String("job.dtype", payload.Convert.DType),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"converting job_id=%s source_type=%s object_key=%s shape=%s dtype=%s",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
		payload.Convert.Shape,
		payload.Convert.DType,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.convert(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return s.handleFailure(ctx, payload, err)
	}

	s.logger.Printf("converted job_id=%s output=%s bytes=%d", payload.JobID, result.Output.Path, result.Output.Bytes)
	s.finishJob(ctx, payload.JobID, domain.JobStatusSucceeded, result.Output.Path, "")
	s.metrics.tensorBytesTotal.Add(float64(result.Output.Bytes))
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventConversionCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       outputBody(result.Output),
	}); err != nil {
		// delivery failures never rerun a finished conversion
		span.RecordError(err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) convert(ctx context.Context, payload queue.ConvertPayload) (pipeline.Result, error) {
	opts, err := pipeline.OptionsFromSpec(payload.Convert)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolve convert spec: %w", err)
	}

	processor, err := s.processorFor(payload.SourceType)
	if err != nil {
		return pipeline.Result{}, err
	}

	return processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		OutputKey:  payload.OutputKey,
		Options:    opts,
	})
}

func (s *Server) processorFor(sourceType string) (*pipeline.Processor, error) {
	switch strings.ToLower(sourceType) {
	case domain.SourceTypeLocalFile:
		return s.localProcessor, nil
	case domain.SourceTypeObjectStore:
		if s.objectProcessor == nil {
			return nil, fmt.Errorf("%w: object storage is not configured", pipeline.ErrUnsupportedSourceType)
		}
		return s.objectProcessor, nil
	default:
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, sourceType)
	}
}

// handleFailure marks the job failed once no retry can help: the input was
// rejected or asynq has used up its retries. Other errors go back to the
// queue.
func (s *Server) handleFailure(ctx context.Context, payload queue.ConvertPayload, err error) error {
	input := pipeline.IsInputError(err)
	kind := "transient"
	if input {
		kind = "input"
	}
	s.metrics.failuresTotal.WithLabelValues(kind).Inc()

	if !input && !lastAttempt(ctx) {
		s.logger.Printf("conversion will retry job_id=%s err=%v", payload.JobID, err)
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.finishJob(ctx, payload.JobID, domain.JobStatusFailed, "", err.Error())
	_ = s.dispatchWebhook(ctx, payload, webhook.EventConversionFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})

	if input {
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("run pipeline: %w", err)
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func outputBody(out pipeline.Output) map[string]any {
	return map[string]any{
		"path":     out.Path,
		"bytes":    out.Bytes,
		"elements": out.Elements,
		"dtype":    out.Type.String(),
		"layout":   strings.ToLower(string(out.Layout)),
		"dims":     out.Dims,
		"source": map[string]int{
			"width":    out.SourceWidth,
			"height":   out.SourceHeight,
			"channels": out.SourceChannels,
		},
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

func (s *Server) finishJob(ctx context.Context, jobID, status, outputKey, failure string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, status, outputKey, failure); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		s.logger.Printf("job finish failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	computeTimeMS := max(computeDuration.Milliseconds(), 1)
	usage := domain.UsageLog{
		UserID:         userID,
		JobID:          jobID,
		SourcePixels:   int64(result.Output.SourceWidth) * int64(result.Output.SourceHeight),
		TensorElements: int64(result.Output.Elements),
		OutputBytes:    int64(result.Output.Bytes),
		ComputeTimeMS:  computeTimeMS,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.sourcePixelsTotal.Add(float64(usage.SourcePixels))
	s.metrics.tensorElementsTotal.Add(float64(usage.TensorElements))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
