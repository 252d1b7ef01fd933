package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixeltensor/internal/domain"
	"github.com/dunamismax/pixeltensor/internal/pipeline"
	"github.com/dunamismax/pixeltensor/internal/queue"
	"github.com/dunamismax/pixeltensor/internal/store"
	"github.com/dunamismax/pixeltensor/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

func newTestServer(t *testing.T, outputDir string, jobStore *store.MemoryJobStore, hooks *captureWebhook) *Server {
	t.Helper()

	processor, err := pipeline.NewLocalProcessor(outputDir, nil)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	s := &Server{
		logger:         log.New(io.Discard, "", 0),
		sem:            make(chan struct{}, 1),
		localProcessor: processor,
		jobStore:       jobStore,
		usageStore:     jobStore,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("test"),
	}
	if hooks != nil {
		s.webhookClient = hooks
	}
	return s
}

func seedJob(t *testing.T, s *store.MemoryJobStore, job domain.Job) {
	t.Helper()
	job.Status = domain.JobStatusQueued
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func convertTask(t *testing.T, job domain.Job) *asynq.Task {
	t.Helper()
	task, err := queue.NewConvertTask(queue.PayloadFromJob(job, time.Now().UTC()))
	if err != nil {
		t.Fatalf("new convert task: %v", err)
	}
	return task
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

func TestHandleConvertLocalFile(t *testing.T) {
	tmp := t.TempDir()
	source := filepath.Join(tmp, "source.png")
	writePNG(t, source, 100, 100, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{}
	s := newTestServer(t, tmp, jobs, hooks)

	job := domain.Job{
		ID:         "job-ok",
		UserID:     "user-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://example.invalid/hook",
		ObjectKey:  source,
		Convert:    domain.ConvertSpec{Shape: "1,3,16,16", DType: "u8"},
	}
	seedJob(t, jobs, job)

	if err := s.handleConvert(context.Background(), convertTask(t, job)); err != nil {
		t.Fatalf("handle convert: %v", err)
	}

	stored, _, _ := jobs.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", stored.Status, stored.Failure)
	}
	data, err := os.ReadFile(stored.OutputKey)
	if err != nil {
		t.Fatalf("read tensor: %v", err)
	}
	// blue plane first
	if len(data) != 768 || data[0] != 30 || data[256] != 20 || data[767] != 10 {
		t.Fatalf("unexpected tensor bytes len=%d", len(data))
	}

	if hooks.event != webhook.EventConversionCompleted {
		t.Fatalf("expected completed webhook, got %q", hooks.event)
	}

	usage := jobs.UsageLogs("user-1")
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	if usage[0].SourcePixels != 10_000 || usage[0].TensorElements != 768 || usage[0].OutputBytes != 768 {
		t.Fatalf("unexpected usage %+v", usage[0])
	}
}

func TestHandleConvertInputErrorSkipsRetry(t *testing.T) {
	tmp := t.TempDir()
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{}
	s := newTestServer(t, tmp, jobs, hooks)

	job := domain.Job{
		ID:         "job-bad",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://example.invalid/hook",
		ObjectKey:  filepath.Join(tmp, "weights.mat"),
		OutputKey:  "out.dat",
		Convert:    domain.ConvertSpec{Shape: "1,3,16,16", DType: "u8"},
	}
	seedJob(t, jobs, job)

	err := s.handleConvert(context.Background(), convertTask(t, job))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	stored, _, _ := jobs.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if !strings.Contains(stored.Failure, pipeline.ErrUnsupportedImageType.Error()) {
		t.Fatalf("expected failure to name the error, got %q", stored.Failure)
	}
	if hooks.event != webhook.EventConversionFailed {
		t.Fatalf("expected failed webhook, got %q", hooks.event)
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "job-bad", "out.dat")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no output file, stat err=%v", statErr)
	}
}

func TestHandleConvertObjectStoreWithoutStorage(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	s := newTestServer(t, t.TempDir(), jobs, nil)

	job := domain.Job{
		ID:         "job-remote",
		SourceType: domain.SourceTypeObjectStore,
		ObjectKey:  "uploads/job-remote/cat.png",
		Convert:    domain.ConvertSpec{Shape: "1,3,16,16", DType: "u8"},
	}
	seedJob(t, jobs, job)

	if err := s.handleConvert(context.Background(), convertTask(t, job)); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleConvertRejectsMalformedPayload(t *testing.T) {
	s := newTestServer(t, t.TempDir(), store.NewMemoryJobStore(), nil)
	err := s.handleConvert(context.Background(), asynq.NewTask(queue.TypeConvertTensor, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRecordUsageDefaultsToAnonymous(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Result{
		SourceBytes: 100,
		Output: pipeline.Output{
			SourceWidth:  20,
			SourceHeight: 10,
			Elements:     48,
			Bytes:        96,
		},
	}, 0)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.SourcePixels != 200 || usageStore.log.OutputBytes != 96 {
		t.Fatalf("unexpected usage %+v", usageStore.log)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

type captureWebhook struct {
	event   string
	payload any
	err     error
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.event = event
	c.payload = payload
	return c.err
}

func TestHandleConvertWebhookFailureDoesNotRetry(t *testing.T) {
	tmp := t.TempDir()
	source := filepath.Join(tmp, "source.png")
	writePNG(t, source, 8, 8, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{err: errors.New("receiver down")}
	s := newTestServer(t, tmp, jobs, hooks)

	job := domain.Job{
		ID:         "job-hook-down",
		UserID:     "user-2",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://example.invalid/hook",
		ObjectKey:  source,
		Convert:    domain.ConvertSpec{Shape: "1,3,4,4", DType: "u8"},
	}
	seedJob(t, jobs, job)

	if err := s.handleConvert(context.Background(), convertTask(t, job)); err != nil {
		t.Fatalf("expected webhook failure to be swallowed, got %v", err)
	}
	stored, _, _ := jobs.Get(context.Background(), job.ID)
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
	if hooks.event != webhook.EventConversionCompleted {
		t.Fatalf("expected a completed webhook attempt, got %q", hooks.event)
	}
	if n := len(jobs.UsageLogs("user-2")); n != 1 {
		t.Fatalf("expected one usage log, got %d", n)
	}
}
