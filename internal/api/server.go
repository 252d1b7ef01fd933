package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/id"
	"github.com/dunamismax/pixeltensor/internal/pipeline"
	"github.com/dunamismax/pixeltensor/internal/queue"
	"github.com/dunamismax/pixeltensor/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	jobStore     store.JobStore
	storage      objectStorage
	presignTTL   time.Duration
	rateLimiter  RateLimiter
	userIDHeader string
	metrics      *apiMetrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type Options struct {
	PresignTTL   time.Duration
	RateLimiter  RateLimiter
	UserIDHeader string
}

type queueEnqueuer interface {
	EnqueueConvert(ctx context.Context, payload queue.ConvertPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = "X-User-ID"
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		jobStore:     jobStore,
		storage:      storage,
		presignTTL:   opts.PresignTTL,
		rateLimiter:  opts.RateLimiter,
		userIDHeader: opts.UserIDHeader,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("pixeltensor/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.instrument(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.handler())
	s.mux.HandleFunc("POST /v1/conversions", s.handleCreateConversion)
	s.mux.HandleFunc("POST /v1/conversions/{id}/start", s.handleStartConversion)
	s.mux.HandleFunc("GET /v1/conversions/{id}", s.handleGetConversion)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateConversionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := pipeline.OptionsFromSpec(req.Convert)
	if err != nil {
		writeError(w, http.StatusBadRequest, "convert: "+err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeObjectStore {
		objectKey = fmt.Sprintf("uploads/%s/%s", jobID, path.Base(strings.TrimSpace(req.FileName)))
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign upload failed job_id=%s err=%v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.userIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		ObjectKey:  objectKey,
		OutputKey:  strings.TrimSpace(req.OutputKey),
		Convert:    req.Convert,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.metrics.conversionsCreated.WithLabelValues(job.SourceType, opts.Type.String()).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url":  fmt.Sprintf("/v1/conversions/%s/start", job.ID),
		"status_url": fmt.Sprintf("/v1/conversions/%s", job.ID),
	})
}

func (s *Server) handleStartConversion(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvert(r.Context(), queue.PayloadFromJob(job, time.Now().UTC()))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeError(w, http.StatusConflict, "job already enqueued")
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.conversionsQueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	body := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"object_key":  job.ObjectKey,
		"convert":     job.Convert,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.Failure != "" {
		body["error"] = job.Failure
	}
	if job.Status == domain.JobStatusSucceeded {
		output := map[string]string{"key": job.OutputKey}
		if job.SourceType == domain.SourceTypeObjectStore {
			url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("presign download failed job_id=%s err=%v", job.ID, err)
			} else {
				output["download_url"] = url
			}
		}
		body["output"] = output
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
